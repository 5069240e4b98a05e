// Package dispatcher 将采样帧发送到外部分析服务
// 批量路径走HTTP POST，流式路径走WebSocket，二者按采集模式选择
package dispatcher

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"GoSportVisionKit/internal/analysis"
	"GoSportVisionKit/internal/sampler"
)

// BatchConfig 批量分发器配置
type BatchConfig struct {
	AnalyzeURL     string
	DrillsURL      string
	RequestTimeout time.Duration
	MaxRetries     uint64 // 仅对传输层失败重试
}

// DefaultBatchConfig 返回默认配置
func DefaultBatchConfig(baseURL string) *BatchConfig {
	return &BatchConfig{
		AnalyzeURL:     baseURL + "/api/analyze-video",
		DrillsURL:      baseURL + "/api/generate-drills",
		RequestTimeout: 30 * time.Second,
		MaxRetries:     2,
	}
}

// BatchDispatcher 批量模式分发器：一次请求携带整个帧序列
type BatchDispatcher struct {
	config *BatchConfig
	client *http.Client
}

// NewBatch 创建批量分发器
func NewBatch(config *BatchConfig) *BatchDispatcher {
	if config == nil {
		panic("config cannot be nil")
	}

	return &BatchDispatcher{
		config: config,
		client: &http.Client{Timeout: config.RequestTimeout},
	}
}

// FrameDataURL 将JPEG帧编码为data-URL字符串
func FrameDataURL(data []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
}

// Dispatch 将帧序列打包为一个分析请求并发送
// 帧顺序与采样顺序一致；非2xx返回 *AnalysisServiceError，传输失败返回 *NetworkError
func (d *BatchDispatcher) Dispatch(ctx context.Context, frames []sampler.Frame, sport, analysisType string) (*analysis.Result, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames to dispatch")
	}

	encoded := make([]string, len(frames))
	for i, frame := range frames {
		encoded[i] = FrameDataURL(frame.Data)
	}

	request := &analysis.Request{
		Sport:        sport,
		AnalysisType: analysisType,
		Frames:       encoded,
		Timestamp:    time.Now().UTC(),
	}

	var result analysis.Result
	if err := d.post(ctx, d.config.AnalyzeURL, request, &result); err != nil {
		return nil, err
	}

	slog.Info("batch analysis completed", "sport", sport, "frames", len(frames), "score", result.Score)
	return &result, nil
}

// GenerateDrills 根据分析指标请求训练计划
func (d *BatchDispatcher) GenerateDrills(ctx context.Context, sport string, metrics []analysis.Metric, athleteLevel string) ([]analysis.Drill, error) {
	request := &analysis.DrillRequest{
		Sport:        sport,
		Metrics:      metrics,
		AthleteLevel: athleteLevel,
		Timestamp:    time.Now().UTC(),
	}

	var drills []analysis.Drill
	if err := d.post(ctx, d.config.DrillsURL, request, &drills); err != nil {
		return nil, err
	}

	return drills, nil
}

// post 发送JSON请求并解码响应
// 传输层失败按指数退避重试，服务端错误不重试
func (d *BatchDispatcher) post(ctx context.Context, url string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request failed: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return &NetworkError{Op: "POST " + url, Err: err}
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
		if err != nil {
			return &NetworkError{Op: "read response", Err: err}
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return backoff.Permanent(&AnalysisServiceError{
				Status: resp.StatusCode,
				Body:   truncate(string(respBody), 256),
			})
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response failed: %w", err))
		}

		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.config.MaxRetries), ctx)

	return backoff.Retry(operation, policy)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
