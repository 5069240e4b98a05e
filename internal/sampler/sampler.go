package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"GoSportVisionKit/internal/media"
	"GoSportVisionKit/pkg/ffmpeg"
)

// Frame 采样得到的一帧编码静帧
type Frame struct {
	Index     int
	Timestamp time.Duration // 帧在源内的时间戳，单会话内非递减
	Data      []byte        // JPEG编码数据
}

// ProgressFunc 采样进度回调，percent范围0-50
// 剩余的50%留给网络往返，由管线层上报
type ProgressFunc func(percent int)

// FrameGrabber 定位并抓取文件源指定时间戳的一帧
type FrameGrabber func(ctx context.Context, path string, at time.Duration, quality float64) ([]byte, error)

// FrameSink 每采到一帧立即同步回调，返回错误会中止整个采样
type FrameSink func(frame Frame) error

// Sampler 帧采样器，单次使用，不可重复启动
type Sampler struct {
	clock       Clock
	grab        FrameGrabber
	quality     float64
	seekTimeout time.Duration
	onProgress  ProgressFunc
	sink        FrameSink

	used atomic.Bool
}

// Option 采样器选项
type Option func(*Sampler)

// WithClock 替换时间源（测试用）
func WithClock(clock Clock) Option {
	return func(s *Sampler) { s.clock = clock }
}

// WithFrameGrabber 替换帧抓取器（测试用）
func WithFrameGrabber(grab FrameGrabber) Option {
	return func(s *Sampler) { s.grab = grab }
}

// WithSeekTimeout 设置单次seek的落定超时
func WithSeekTimeout(timeout time.Duration) Option {
	return func(s *Sampler) { s.seekTimeout = timeout }
}

// WithProgress 设置进度回调
func WithProgress(fn ProgressFunc) Option {
	return func(s *Sampler) { s.onProgress = fn }
}

// WithQuality 设置静帧编码质量
func WithQuality(quality float64) Option {
	return func(s *Sampler) { s.quality = quality }
}

// WithFrameSink 设置逐帧回调，流式分发依赖它边采边发
func WithFrameSink(sink FrameSink) Option {
	return func(s *Sampler) { s.sink = sink }
}

// New 创建帧采样器
func New(opts ...Option) *Sampler {
	s := &Sampler{
		clock:       RealClock(),
		grab:        ffmpeg.GrabFrameAt,
		quality:     DefaultJPEGQuality,
		seekTimeout: DefaultSeekTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Sample 按源模式对应的策略采样，返回时间戳非递减的有限帧序列
// 采样过程中任何一帧失败都会中止整个采样，下游分析假定帧集合连续
func (s *Sampler) Sample(ctx context.Context, source *media.Source) ([]Frame, error) {
	if source == nil || source.Released() {
		return nil, &media.NoSourceError{}
	}

	if !s.used.CompareAndSwap(false, true) {
		return nil, errors.New("sampler already consumed")
	}

	switch source.Mode() {
	case media.ModeLive:
		return s.sampleLive(ctx, source)
	case media.ModeFile:
		return s.sampleFile(ctx, source)
	default:
		return nil, fmt.Errorf("unknown source mode: %s", source.Mode())
	}
}

// sampleLive 实时模式：固定10帧，墙钟间隔500ms，不保证帧精确
func (s *Sampler) sampleLive(ctx context.Context, source *media.Source) ([]Frame, error) {
	policy := LivePolicy()
	frames := make([]Frame, 0, policy.MaxFrames)

	var lastTimestamp time.Duration

	for i := 0; i < policy.MaxFrames; i++ {
		if i > 0 {
			if err := s.clock.Sleep(ctx, policy.Interval); err != nil {
				return nil, err
			}
		}

		raw, err := s.nextFrame(ctx, source)
		if err != nil {
			return nil, err
		}

		// 保证单会话内时间戳非递减
		timestamp := raw.Timestamp
		if timestamp < lastTimestamp {
			timestamp = lastTimestamp
		}
		lastTimestamp = timestamp

		frame := Frame{
			Index:     i,
			Timestamp: timestamp,
			Data:      raw.Data,
		}
		frames = append(frames, frame)

		if s.sink != nil {
			if err := s.sink(frame); err != nil {
				return nil, err
			}
		}

		s.reportProgress(len(frames), policy.MaxFrames)
	}

	return frames, nil
}

// nextFrame 取通道中最新的一帧，没有就阻塞等待下一帧
func (s *Sampler) nextFrame(ctx context.Context, source *media.Source) (media.RawFrame, error) {
	var latest media.RawFrame
	have := false

	for {
		select {
		case raw, ok := <-source.Frames():
			if !ok {
				if have {
					return latest, nil
				}
				return media.RawFrame{}, errors.New("live stream ended before sampling completed")
			}
			latest = raw
			have = true
		default:
			if have {
				return latest, nil
			}
			select {
			case <-ctx.Done():
				return media.RawFrame{}, ctx.Err()
			case raw, ok := <-source.Frames():
				if !ok {
					return media.RawFrame{}, errors.New("live stream ended before sampling completed")
				}
				return raw, nil
			}
		}
	}
}

// sampleFile 文件模式：seek到0, i, 2i, ...逐帧抓取，至多20帧
// 每次seek必须在超时内落定，否则中止整个采样
func (s *Sampler) sampleFile(ctx context.Context, source *media.Source) ([]Frame, error) {
	policy := FilePolicy(source.Duration())
	stamps := policy.Timestamps(source.Duration())

	frames := make([]Frame, 0, len(stamps))

	for i, at := range stamps {
		seekCtx, cancel := context.WithTimeout(ctx, s.seekTimeout)
		data, err := s.grab(seekCtx, source.Path(), at, s.quality)
		cancel()

		if err != nil {
			return nil, fmt.Errorf("sampling aborted at frame %d (t=%v): %w", i, at, err)
		}

		frame := Frame{
			Index:     i,
			Timestamp: at,
			Data:      data,
		}
		frames = append(frames, frame)

		if s.sink != nil {
			if err := s.sink(frame); err != nil {
				return nil, err
			}
		}

		s.reportProgress(len(frames), len(stamps))
	}

	return frames, nil
}

// reportProgress 按已采帧数上报进度，上限50%
func (s *Sampler) reportProgress(captured, total int) {
	if s.onProgress == nil || total == 0 {
		return
	}

	percent := captured * 50 / total
	if percent > 50 {
		percent = 50
	}

	s.onProgress(percent)
}

// LogPolicy 记录本次采样使用的策略，便于排查
func LogPolicy(mode media.Mode, duration time.Duration) {
	switch mode {
	case media.ModeLive:
		slog.Debug("sampling policy", "mode", mode, "frames", LiveFrameCount, "interval", LiveInterval)
	case media.ModeFile:
		p := FilePolicy(duration)
		slog.Debug("sampling policy", "mode", mode, "max_frames", p.MaxFrames, "interval", p.Interval)
	}
}
