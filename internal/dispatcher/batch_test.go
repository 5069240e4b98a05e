package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoSportVisionKit/internal/analysis"
	"GoSportVisionKit/internal/sampler"
)

func testFrames(n int) []sampler.Frame {
	frames := make([]sampler.Frame, n)
	for i := range frames {
		frames[i] = sampler.Frame{
			Index:     i,
			Timestamp: time.Duration(i) * 500 * time.Millisecond,
			Data:      []byte{0xFF, 0xD8, byte(i), 0xFF, 0xD9},
		}
	}
	return frames
}

func newBatchFor(ts *httptest.Server) *BatchDispatcher {
	config := DefaultBatchConfig(ts.URL)
	config.MaxRetries = 0
	config.RequestTimeout = 2 * time.Second
	return NewBatch(config)
}

// TestBatchDispatchSuccess 成功路径：请求体符合契约，结果被解码
func TestBatchDispatchSuccess(t *testing.T) {
	var received analysis.Request

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/analyze-video", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		json.NewEncoder(w).Encode(analysis.Result{
			Score:       87.5,
			JointAngles: map[string]float64{"left_knee": 140},
			Feedback:    []string{"nice form"},
		})
	}))
	defer ts.Close()

	d := newBatchFor(ts)

	result, err := d.Dispatch(context.Background(), testFrames(5), "tennis", "serve")
	require.NoError(t, err)

	assert.Equal(t, 87.5, result.Score)
	assert.Equal(t, []string{"nice form"}, result.Feedback)

	assert.Equal(t, "tennis", received.Sport)
	assert.Equal(t, "serve", received.AnalysisType)
	require.Len(t, received.Frames, 5)
	for _, frame := range received.Frames {
		assert.True(t, strings.HasPrefix(frame, "data:image/jpeg;base64,"))
	}
	assert.False(t, received.Timestamp.IsZero())
}

// TestBatchDispatchServerError HTTP 500映射为带状态码的AnalysisServiceError
func TestBatchDispatchServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer ts.Close()

	d := newBatchFor(ts)

	_, err := d.Dispatch(context.Background(), testFrames(3), "golf", "swing")
	require.Error(t, err)

	var serviceErr *AnalysisServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, http.StatusInternalServerError, serviceErr.Status)
	assert.NotEmpty(t, serviceErr.UserMessage())
}

// TestBatchDispatchNetworkError 服务不可达映射为NetworkError
func TestBatchDispatchNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // 立即关掉，制造连接失败

	d := newBatchFor(ts)

	_, err := d.Dispatch(context.Background(), testFrames(1), "golf", "swing")
	require.Error(t, err)

	var netErr *NetworkError
	assert.ErrorAs(t, err, &netErr)
}

// TestBatchServiceErrorsNotRetried 服务端错误不做自动重试
func TestBatchServiceErrorsNotRetried(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer ts.Close()

	config := DefaultBatchConfig(ts.URL)
	config.MaxRetries = 3
	d := NewBatch(config)

	_, err := d.Dispatch(context.Background(), testFrames(1), "golf", "swing")
	require.Error(t, err)

	var serviceErr *AnalysisServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, 1, attempts, "service errors must not be retried")
}

// TestBatchDispatchNoFrames 空帧序列直接拒绝
func TestBatchDispatchNoFrames(t *testing.T) {
	d := NewBatch(DefaultBatchConfig("http://localhost:0"))

	_, err := d.Dispatch(context.Background(), nil, "golf", "swing")
	require.Error(t, err)
}

// TestGenerateDrills 训练计划请求与解码
func TestGenerateDrills(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate-drills", r.URL.Path)

		var request analysis.DrillRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, "basketball", request.Sport)
		assert.Equal(t, "beginner", request.AthleteLevel)

		json.NewEncoder(w).Encode([]analysis.Drill{
			{Name: "Free throw routine", Description: "50 free throws", Sets: 5, Reps: 10},
		})
	}))
	defer ts.Close()

	d := newBatchFor(ts)

	drills, err := d.GenerateDrills(context.Background(), "basketball",
		[]analysis.Metric{{Name: "elbow_angle", Value: 92.0, Unit: "deg"}}, "beginner")
	require.NoError(t, err)

	require.Len(t, drills, 1)
	assert.Equal(t, "Free throw routine", drills[0].Name)
}

// TestFrameDataURL data-URL编码格式
func TestFrameDataURL(t *testing.T) {
	url := FrameDataURL([]byte{0xFF, 0xD8, 0xFF, 0xD9})
	assert.Equal(t, "data:image/jpeg;base64,/9j/2Q==", url)
}

// TestErrorTaxonomyUnwrap 错误链可被errors.Is/As检查
func TestErrorTaxonomyUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	netErr := &NetworkError{Op: "POST", Err: inner}

	assert.ErrorIs(t, netErr, inner)
	assert.NotEmpty(t, netErr.UserMessage())
}
