package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func newTestAcquirer(t *testing.T) *Acquirer {
	t.Helper()
	return NewAcquirer(nil,
		WithProviderFactory(func(config *CameraConfig) FrameProvider {
			return NewSyntheticProvider(time.Millisecond)
		}),
		WithDurationProber(func(ctx context.Context, path string) (time.Duration, error) {
			return 10 * time.Second, nil
		}),
	)
}

// TestAcquireFileRejectsNonVideo 非视频文件在任何处理开始前被拒绝
func TestAcquireFileRejectsNonVideo(t *testing.T) {
	acquirer := newTestAcquirer(t)
	path := writeTempFile(t, "notes.txt", []byte("definitely not a video"))

	source, err := acquirer.AcquireFile(context.Background(), path)
	require.Error(t, err)
	assert.Nil(t, source)

	var invalid *InvalidInputError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "notes.txt", invalid.Filename)

	// 会话状态不受影响
	assert.Nil(t, acquirer.Active())
}

// TestAcquireFileByExtension 白名单扩展名直接通过
func TestAcquireFileByExtension(t *testing.T) {
	acquirer := newTestAcquirer(t)
	path := writeTempFile(t, "training.mp4", []byte("opaque bytes"))

	source, err := acquirer.AcquireFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, ModeFile, source.Mode())
	assert.Equal(t, 10*time.Second, source.Duration())
	assert.Equal(t, path, source.Path())
}

// TestAcquireFileMissing 文件不存在时报错但不是InvalidInputError
func TestAcquireFileMissing(t *testing.T) {
	acquirer := newTestAcquirer(t)

	_, err := acquirer.AcquireFile(context.Background(), "/nonexistent/clip.mp4")
	require.Error(t, err)

	var invalid *InvalidInputError
	assert.False(t, errors.As(err, &invalid))
}

// TestAcquireLiveAndRelease 释放是幂等的，释放后硬件轨道归零
func TestAcquireLiveAndRelease(t *testing.T) {
	acquirer := newTestAcquirer(t)

	source, err := acquirer.AcquireLive(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ModeLive, source.Mode())
	assert.Equal(t, DefaultLiveDuration, source.Duration())
	assert.Equal(t, 1, source.ActiveTracks())

	require.NoError(t, source.Release())
	assert.Equal(t, 0, source.ActiveTracks())
	assert.True(t, source.Released())

	// 第二次释放是空操作
	require.NoError(t, source.Release())
	assert.Equal(t, 0, source.ActiveTracks())
}

// TestAcquireLiveFailure 设备不可用时返回MediaAccessError
func TestAcquireLiveFailure(t *testing.T) {
	acquirer := NewAcquirer(nil, WithProviderFactory(
		func(config *CameraConfig) FrameProvider {
			return &failingProvider{}
		}))

	_, err := acquirer.AcquireLive(context.Background())
	require.Error(t, err)

	var access *MediaAccessError
	assert.ErrorAs(t, err, &access)
}

type failingProvider struct{}

func (p *failingProvider) Start(ctx context.Context) (<-chan RawFrame, error) {
	return nil, &MediaAccessError{Device: "/dev/video0", Err: os.ErrPermission}
}
func (p *failingProvider) Stop() error      { return nil }
func (p *failingProvider) ActiveTracks() int { return 0 }

// TestExclusiveOwnership 获取新源前先完整释放上一个
func TestExclusiveOwnership(t *testing.T) {
	acquirer := newTestAcquirer(t)

	first, err := acquirer.AcquireLive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.ActiveTracks())

	second, err := acquirer.AcquireLive(context.Background())
	require.NoError(t, err)

	assert.True(t, first.Released())
	assert.Equal(t, 0, first.ActiveTracks())
	assert.Equal(t, 1, second.ActiveTracks())

	require.NoError(t, second.Release())
}

// TestFileAcquisitionReleasesLive 文件获取同样会释放在用的实时源
func TestFileAcquisitionReleasesLive(t *testing.T) {
	acquirer := newTestAcquirer(t)

	live, err := acquirer.AcquireLive(context.Background())
	require.NoError(t, err)

	path := writeTempFile(t, "clip.webm", []byte("bytes"))
	_, err = acquirer.AcquireFile(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, live.Released())
	assert.Equal(t, 0, live.ActiveTracks())
}

// TestSyntheticProviderStopIdempotent 合成提供者Stop幂等
func TestSyntheticProviderStopIdempotent(t *testing.T) {
	provider := NewSyntheticProvider(time.Millisecond)

	frames, err := provider.Start(context.Background())
	require.NoError(t, err)

	// 至少收到一帧
	select {
	case <-frames:
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}

	require.NoError(t, provider.Stop())
	require.NoError(t, provider.Stop())
	assert.Equal(t, 0, provider.ActiveTracks())
}

// TestUserMessages 每类错误都映射为一条用户提示语
func TestUserMessages(t *testing.T) {
	cases := []UserFacing{
		&MediaAccessError{Device: "/dev/video0", Err: os.ErrPermission},
		&InvalidInputError{Filename: "a.txt", ContentType: "text/plain"},
		&NoSourceError{},
	}

	for _, err := range cases {
		assert.NotEmpty(t, err.UserMessage())
	}
}
