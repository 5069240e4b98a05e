package media

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// RawFrame 帧提供者产出的一帧原始JPEG数据
type RawFrame struct {
	Data      []byte
	Timestamp time.Duration // 相对采集开始的偏移
	Seq       uint64
}

// FrameProvider 实时视频帧提供者
//
// 实现必须保证：
//   - Start() 立即返回，帧通过返回的通道异步到达
//   - Stop() 幂等，调用后所有底层硬件轨道全部释放
//   - ActiveTracks() 线程安全
type FrameProvider interface {
	Start(ctx context.Context) (<-chan RawFrame, error)
	Stop() error

	// ActiveTracks 返回当前占用的硬件轨道数，停止后必须为0
	ActiveTracks() int
}

// SyntheticProvider 合成帧提供者，按固定间隔产出占位JPEG帧
// 用于测试以及没有摄像头的开发环境
type SyntheticProvider struct {
	Interval time.Duration
	Payload  []byte

	tracks   atomic.Int32
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// NewSyntheticProvider 创建合成帧提供者
func NewSyntheticProvider(interval time.Duration) *SyntheticProvider {
	return &SyntheticProvider{
		Interval: interval,
		// 最小合法JPEG标记对，足够让下游当作不透明的编码帧处理
		Payload: []byte{0xFF, 0xD8, 0xFF, 0xD9},
		done:    make(chan struct{}),
	}
}

func (p *SyntheticProvider) Start(ctx context.Context) (<-chan RawFrame, error) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.tracks.Store(1)

	frames := make(chan RawFrame, 16)

	go func() {
		defer close(frames)
		defer close(p.done)

		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()

		start := time.Now()
		var seq uint64

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				seq++
				frame := RawFrame{
					Data:      append([]byte(nil), p.Payload...),
					Timestamp: time.Since(start),
					Seq:       seq,
				}
				select {
				case frames <- frame:
				default:
					// 缓冲满时丢帧而不是排队，保持低延迟
				}
			}
		}
	}()

	return frames, nil
}

func (p *SyntheticProvider) Stop() error {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
			<-p.done
		}
		p.tracks.Store(0)
	})
	return nil
}

func (p *SyntheticProvider) ActiveTracks() int {
	return int(p.tracks.Load())
}
