package sampler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoSportVisionKit/internal/media"
)

// fakeClock 模拟时钟，Sleep立即返回并推进虚拟时间
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
	pause time.Duration // 每次Sleep真实等待的时间，给提供者让出调度
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0), pause: 2 * time.Millisecond}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.pause):
		return nil
	}
}

func (c *fakeClock) sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration{}, c.slept...)
}

// newFileSource 构造一个带指定时长的文件源
func newFileSource(t *testing.T, duration time.Duration) *media.Source {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("fake video payload"), 0644))

	acquirer := media.NewAcquirer(nil, media.WithDurationProber(
		func(ctx context.Context, p string) (time.Duration, error) {
			return duration, nil
		}))

	source, err := acquirer.AcquireFile(context.Background(), path)
	require.NoError(t, err)
	return source
}

// newLiveSource 构造一个合成帧提供者支撑的实时源
func newLiveSource(t *testing.T) *media.Source {
	return newLiveSourceWithInterval(t, time.Millisecond)
}

func newLiveSourceWithInterval(t *testing.T, interval time.Duration) *media.Source {
	t.Helper()

	acquirer := media.NewAcquirer(nil, media.WithProviderFactory(
		func(config *media.CameraConfig) media.FrameProvider {
			return media.NewSyntheticProvider(interval)
		}))

	source, err := acquirer.AcquireLive(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { source.Release() })
	return source
}

// TestFilePolicyInterval 文件模式间隔 = max(0.5s, duration/20)
func TestFilePolicyInterval(t *testing.T) {
	cases := []struct {
		duration time.Duration
		interval time.Duration
		frames   int
	}{
		{10 * time.Second, 500 * time.Millisecond, 20},
		{5 * time.Second, 500 * time.Millisecond, 10},
		{60 * time.Second, 3 * time.Second, 20},
		{1 * time.Second, 500 * time.Millisecond, 2},
		{400 * time.Millisecond, 500 * time.Millisecond, 1},
	}

	for _, tc := range cases {
		t.Run(tc.duration.String(), func(t *testing.T) {
			policy := FilePolicy(tc.duration)
			assert.Equal(t, tc.interval, policy.Interval)

			stamps := policy.Timestamps(tc.duration)
			assert.Len(t, stamps, tc.frames)
			assert.LessOrEqual(t, len(stamps), FileMaxFrames)
		})
	}
}

// TestSampleFileTenSeconds 10秒文件：20帧，t=0, 0.5, ..., 9.5
func TestSampleFileTenSeconds(t *testing.T) {
	source := newFileSource(t, 10*time.Second)

	var grabbed []time.Duration
	s := New(WithFrameGrabber(func(ctx context.Context, path string, at time.Duration, quality float64) ([]byte, error) {
		grabbed = append(grabbed, at)
		return []byte(fmt.Sprintf("frame-%v", at)), nil
	}))

	frames, err := s.Sample(context.Background(), source)
	require.NoError(t, err)

	require.Len(t, frames, 20)
	for i, frame := range frames {
		assert.Equal(t, time.Duration(i)*500*time.Millisecond, frame.Timestamp)
	}
	assert.Equal(t, frames[19].Timestamp, 9500*time.Millisecond)
	assert.Len(t, grabbed, 20)
}

// TestSampleFileSeekFailureAborts 单帧seek失败中止整个采样
func TestSampleFileSeekFailureAborts(t *testing.T) {
	source := newFileSource(t, 10*time.Second)

	calls := 0
	s := New(WithFrameGrabber(func(ctx context.Context, path string, at time.Duration, quality float64) ([]byte, error) {
		calls++
		if calls == 5 {
			return nil, fmt.Errorf("no decodable frame at %v", at)
		}
		return []byte("frame"), nil
	}))

	frames, err := s.Sample(context.Background(), source)
	require.Error(t, err)
	assert.Nil(t, frames)
	assert.Equal(t, 5, calls, "sampling must stop at the failed seek")
}

// TestSampleFileSeekTimeout seek不落定时在超时后中止
func TestSampleFileSeekTimeout(t *testing.T) {
	source := newFileSource(t, 10*time.Second)

	s := New(
		WithSeekTimeout(50*time.Millisecond),
		WithFrameGrabber(func(ctx context.Context, path string, at time.Duration, quality float64) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	)

	start := time.Now()
	_, err := s.Sample(context.Background(), source)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// TestSampleLiveTenFrames 实时模式：恰好10帧，间隔500ms（模拟时钟）
func TestSampleLiveTenFrames(t *testing.T) {
	source := newLiveSource(t)
	clock := newFakeClock()

	s := New(WithClock(clock))

	frames, err := s.Sample(context.Background(), source)
	require.NoError(t, err)

	require.Len(t, frames, LiveFrameCount)

	sleeps := clock.sleeps()
	require.Len(t, sleeps, LiveFrameCount-1)
	for _, d := range sleeps {
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
	}

	// 时间戳非递减
	for i := 1; i < len(frames); i++ {
		assert.GreaterOrEqual(t, frames[i].Timestamp, frames[i-1].Timestamp)
	}
}

// TestSampleProgressCappedAtFifty 采样进度最高50%，剩余留给网络往返
func TestSampleProgressCappedAtFifty(t *testing.T) {
	source := newFileSource(t, 10*time.Second)

	var reported []int
	s := New(
		WithFrameGrabber(func(ctx context.Context, path string, at time.Duration, quality float64) ([]byte, error) {
			return []byte("frame"), nil
		}),
		WithProgress(func(percent int) {
			reported = append(reported, percent)
		}),
	)

	_, err := s.Sample(context.Background(), source)
	require.NoError(t, err)

	require.NotEmpty(t, reported)
	for i, percent := range reported {
		assert.LessOrEqual(t, percent, 50)
		if i > 0 {
			assert.GreaterOrEqual(t, percent, reported[i-1])
		}
	}
	assert.Equal(t, 50, reported[len(reported)-1])
}

// TestSamplerSingleUse 采样器不可重复启动
func TestSamplerSingleUse(t *testing.T) {
	source := newFileSource(t, 2*time.Second)

	s := New(WithFrameGrabber(func(ctx context.Context, path string, at time.Duration, quality float64) ([]byte, error) {
		return []byte("frame"), nil
	}))

	_, err := s.Sample(context.Background(), source)
	require.NoError(t, err)

	_, err = s.Sample(context.Background(), source)
	require.Error(t, err)
}

// TestSampleNoSource 没有绑定源时返回NoSourceError
func TestSampleNoSource(t *testing.T) {
	s := New()

	_, err := s.Sample(context.Background(), nil)
	require.Error(t, err)

	var noSource *media.NoSourceError
	assert.ErrorAs(t, err, &noSource)
}

// TestSampleReleasedSource 已释放的源等同于没有源
func TestSampleReleasedSource(t *testing.T) {
	source := newLiveSource(t)
	require.NoError(t, source.Release())

	s := New(WithClock(newFakeClock()))

	_, err := s.Sample(context.Background(), source)
	var noSource *media.NoSourceError
	assert.ErrorAs(t, err, &noSource)
}

// TestSampleLiveCancellation 取消后采样立即退出
func TestSampleLiveCancellation(t *testing.T) {
	// 间隔拉长，保证通道为空时取消路径被确定性命中
	source := newLiveSourceWithInterval(t, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(WithClock(newFakeClock()))

	_, err := s.Sample(ctx, source)
	require.Error(t, err)
}
