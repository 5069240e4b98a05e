// Package capture 管理一次"获取视频源并采样分析"的完整会话
package capture

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"GoSportVisionKit/internal/media"
	"GoSportVisionKit/internal/sampler"
)

var (
	// ErrSessionFinalized 会话定格后不再接受新帧
	ErrSessionFinalized = errors.New("capture session already finalized")
	// ErrFrameOutOfOrder 帧时间戳必须非递减
	ErrFrameOutOfOrder = errors.New("frame timestamp out of order")
	// ErrSessionConsumed 帧序列只能被分发消费一次
	ErrSessionConsumed = errors.New("capture session already consumed")
)

// Session 一次采集会话
// 会话要么在累积帧，要么已定格，二者互斥；定格后帧序列被分发消费
// 恰好一次，之后会话即废弃
type Session struct {
	ID       string
	Mode     media.Mode
	Duration time.Duration
	Policy   sampler.Policy
	Created  time.Time

	mu        sync.Mutex
	frames    []sampler.Frame
	finalized bool
	consumed  bool
}

// NewSession 基于已获取的视频源创建会话
func NewSession(source *media.Source) *Session {
	var policy sampler.Policy
	switch source.Mode() {
	case media.ModeLive:
		policy = sampler.LivePolicy()
	case media.ModeFile:
		policy = sampler.FilePolicy(source.Duration())
	}

	return &Session{
		ID:       uuid.NewString(),
		Mode:     source.Mode(),
		Duration: source.Duration(),
		Policy:   policy,
		Created:  time.Now(),
	}
}

// AppendFrame 追加一帧，强制时间戳非递减
func (s *Session) AppendFrame(frame sampler.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return ErrSessionFinalized
	}

	if n := len(s.frames); n > 0 && frame.Timestamp < s.frames[n-1].Timestamp {
		return ErrFrameOutOfOrder
	}

	s.frames = append(s.frames, frame)
	return nil
}

// Finalize 定格会话，停止累积
func (s *Session) Finalize() {
	s.mu.Lock()
	s.finalized = true
	s.mu.Unlock()
}

// Finalized 返回会话是否已定格
func (s *Session) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// FrameCount 返回已累积的帧数
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// TakeFrames 定格并取走帧序列，只允许一次
// 会话在分发其批次后即视为销毁，不可复用
func (s *Session) TakeFrames() ([]sampler.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.consumed {
		return nil, ErrSessionConsumed
	}

	s.finalized = true
	s.consumed = true

	frames := s.frames
	s.frames = nil
	return frames, nil
}
