package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"GoSportVisionKit/internal/analysis"
	"GoSportVisionKit/internal/dispatcher"
	"GoSportVisionKit/internal/media"
	"GoSportVisionKit/internal/sampler"
)

// ProgressFunc 管线总进度回调，0-50为采样，50-100为网络往返
type ProgressFunc func(percent int)

// Pipeline 采集分析管线：获取源 → 采样 → 分发
// 批量路径用于文件模式，流式路径用于实时模式
type Pipeline struct {
	acquirer *media.Acquirer
	batch    *dispatcher.BatchDispatcher
	stream   *dispatcher.StreamDispatcher

	samplerOpts []sampler.Option
	onProgress  ProgressFunc
}

// PipelineOption 管线选项
type PipelineOption func(*Pipeline)

// WithSamplerOptions 传递给内部采样器的选项（测试注入时钟与抓取器）
func WithSamplerOptions(opts ...sampler.Option) PipelineOption {
	return func(p *Pipeline) {
		p.samplerOpts = append(p.samplerOpts, opts...)
	}
}

// WithProgress 设置总进度回调
func WithProgress(fn ProgressFunc) PipelineOption {
	return func(p *Pipeline) {
		p.onProgress = fn
	}
}

// WithStream 绑定流式分发器，实时模式需要
func WithStream(stream *dispatcher.StreamDispatcher) PipelineOption {
	return func(p *Pipeline) {
		p.stream = stream
	}
}

// NewPipeline 创建采集分析管线
func NewPipeline(acquirer *media.Acquirer, batch *dispatcher.BatchDispatcher, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		acquirer: acquirer,
		batch:    batch,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// RunFile 文件模式：采样后整批POST到分析服务
func (p *Pipeline) RunFile(ctx context.Context, path, sport, analysisType string) (*analysis.Result, *Recorder, error) {
	source, err := p.acquirer.AcquireFile(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	defer source.Release()

	session := NewSession(source)
	recorder := NewRecorder(session.ID)
	defer recorder.Stop()

	recorder.RecordEvent(EventAcquire, map[string]interface{}{
		"mode":     string(session.Mode),
		"path":     path,
		"duration": source.Duration().Seconds(),
	})

	frames, err := p.sampleInto(ctx, source, session, recorder, nil)
	if err != nil {
		recorder.RecordError(err, nil)
		return nil, recorder, err
	}

	recorder.RecordEvent(EventDispatch, map[string]interface{}{
		"frames": len(frames),
		"sport":  sport,
	})

	result, err := p.batch.Dispatch(ctx, frames, sport, analysisType)
	if err != nil {
		recorder.RecordError(err, nil)
		return nil, recorder, err
	}

	p.reportProgress(100)
	recorder.RecordEvent(EventResult, map[string]interface{}{"score": result.Score})
	recorder.RecordEvent(EventRelease, nil)

	return result, recorder, nil
}

// RunLive 实时模式：边采样边逐帧流式分发，结果到达顺序由服务端决定
// 超时的帧以"无结果"解析，不会阻塞整个会话
func (p *Pipeline) RunLive(ctx context.Context, sport, analysisType string) ([]*analysis.RealTimeAnalysis, *Recorder, error) {
	if p.stream == nil {
		return nil, nil, errors.New("no stream dispatcher bound")
	}

	source, err := p.acquirer.AcquireLive(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer source.Release()

	if p.stream.State() == dispatcher.StreamIdle {
		if err := p.stream.Connect(ctx); err != nil {
			return nil, nil, err
		}
	}

	session := NewSession(source)
	recorder := NewRecorder(session.ID)
	defer recorder.Stop()

	recorder.RecordEvent(EventAcquire, map[string]interface{}{
		"mode":  string(session.Mode),
		"sport": sport,
	})

	var (
		resultsMu sync.Mutex
		results   []*analysis.RealTimeAnalysis
		wg        sync.WaitGroup
		total     = session.Policy.MaxFrames
		resolved  int
	)

	sink := func(frame sampler.Frame) error {
		wg.Add(1)
		go func() {
			defer wg.Done()

			result, err := p.stream.AnalyzeFrame(ctx, sport, analysisType, dispatcher.FrameDataURL(frame.Data))
			if err != nil {
				recorder.RecordError(err, map[string]interface{}{"frame": frame.Index})
				return
			}

			resultsMu.Lock()
			resolved++
			if result != nil {
				results = append(results, result)
				recorder.RecordEvent(EventResult, map[string]interface{}{
					"frame": frame.Index,
					"score": result.Score,
				})
			}
			p.reportProgress(50 + resolved*50/total)
			resultsMu.Unlock()
		}()
		return nil
	}

	if _, err := p.sampleInto(ctx, source, session, recorder, sink); err != nil {
		recorder.RecordError(err, nil)
		wg.Wait()
		return nil, recorder, err
	}

	// 等待所有在途帧解析（每帧受分发器的结果超时约束）
	wg.Wait()

	p.reportProgress(100)
	recorder.RecordEvent(EventRelease, nil)

	return results, recorder, nil
}

// sampleInto 运行采样器并把帧累积进会话，返回定格后的帧序列
func (p *Pipeline) sampleInto(ctx context.Context, source *media.Source, session *Session, recorder *Recorder, sink sampler.FrameSink) ([]sampler.Frame, error) {
	sampler.LogPolicy(source.Mode(), source.Duration())

	opts := append([]sampler.Option{}, p.samplerOpts...)
	opts = append(opts, sampler.WithProgress(func(percent int) {
		p.reportProgress(percent)
	}))

	opts = append(opts, sampler.WithFrameSink(func(frame sampler.Frame) error {
		if err := session.AppendFrame(frame); err != nil {
			return err
		}
		recorder.RecordEvent(EventFrame, map[string]interface{}{
			"index":     frame.Index,
			"timestamp": frame.Timestamp.Seconds(),
			"bytes":     len(frame.Data),
		})
		if sink != nil {
			return sink(frame)
		}
		return nil
	}))

	s := sampler.New(opts...)

	if _, err := s.Sample(ctx, source); err != nil {
		return nil, fmt.Errorf("sampling failed: %w", err)
	}

	frames, err := session.TakeFrames()
	if err != nil {
		return nil, err
	}

	slog.Debug("session finalized", "session_id", session.ID, "frames", len(frames))
	return frames, nil
}

// reportProgress 上报总进度
func (p *Pipeline) reportProgress(percent int) {
	if p.onProgress == nil {
		return
	}
	if percent > 100 {
		percent = 100
	}
	p.onProgress(percent)
}

// Close 释放管线持有的资源：活动源与流式连接
func (p *Pipeline) Close() error {
	err := p.acquirer.ReleaseActive()

	if p.stream != nil {
		if cerr := p.stream.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	return err
}

// UserMessage 将任意管线错误映射为单条用户提示语
// 错误在组件边界被捕获，不允许继续向上传播
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var uf media.UserFacing
	if errors.As(err, &uf) {
		return uf.UserMessage()
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "The capture was cancelled."
	}

	return "Something went wrong while analyzing your video. Please try again."
}
