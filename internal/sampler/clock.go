package sampler

import (
	"context"
	"time"
)

// Clock 时间源抽象，测试中用模拟时钟替换墙钟
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// realClock 真实墙钟
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RealClock 返回真实墙钟
func RealClock() Clock { return realClock{} }
