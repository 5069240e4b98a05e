package media

import (
	"sync"
	"sync/atomic"
	"time"
)

// Mode 视频源模式
type Mode string

const (
	ModeLive Mode = "live"
	ModeFile Mode = "file"
)

// Source 一个可播放的视频源句柄
// 实时源由一次采集会话独占，必须恰好释放一次
type Source struct {
	mode     Mode
	duration time.Duration
	path     string

	provider FrameProvider
	frames   <-chan RawFrame

	released atomic.Bool
	mu       sync.Mutex
}

// Mode 返回源模式
func (s *Source) Mode() Mode { return s.mode }

// Duration 返回源时长，实时源为固定的估计值
func (s *Source) Duration() time.Duration { return s.duration }

// Path 返回文件路径，仅文件模式有效
func (s *Source) Path() string { return s.path }

// Frames 返回实时帧通道，仅实时模式有效
func (s *Source) Frames() <-chan RawFrame { return s.frames }

// Released 返回源是否已释放
func (s *Source) Released() bool { return s.released.Load() }

// ActiveTracks 返回底层硬件轨道数
func (s *Source) ActiveTracks() int {
	if s.provider == nil {
		return 0
	}
	return s.provider.ActiveTracks()
}

// Release 释放底层硬件轨道，幂等
func (s *Source) Release() error {
	if !s.released.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.provider != nil {
		return s.provider.Stop()
	}
	return nil
}
