package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"GoSportVisionKit/pkg/ffmpeg"
)

// DefaultLiveDuration 实时采集没有真实时长，使用固定估计值
const DefaultLiveDuration = 5 * time.Second

// videoExtensions 按扩展名快速判定的视频类型白名单
var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".webm": true,
	".mkv":  true,
}

// DurationProber 探测视频文件时长
type DurationProber func(ctx context.Context, path string) (time.Duration, error)

// ProviderFactory 创建实时帧提供者
type ProviderFactory func(config *CameraConfig) FrameProvider

// Acquirer 视频源获取器
// 同一时间最多持有一个活动源，获取新源前先完整释放上一个
type Acquirer struct {
	camera       *CameraConfig
	liveDuration time.Duration
	newProvider  ProviderFactory
	probe        DurationProber

	active *Source
}

// AcquirerOption 获取器选项
type AcquirerOption func(*Acquirer)

// WithProviderFactory 替换实时帧提供者工厂（测试用）
func WithProviderFactory(factory ProviderFactory) AcquirerOption {
	return func(a *Acquirer) {
		a.newProvider = factory
	}
}

// WithDurationProber 替换时长探测器（测试用）
func WithDurationProber(probe DurationProber) AcquirerOption {
	return func(a *Acquirer) {
		a.probe = probe
	}
}

// NewAcquirer 创建视频源获取器
func NewAcquirer(camera *CameraConfig, opts ...AcquirerOption) *Acquirer {
	if camera == nil {
		camera = DefaultCameraConfig()
	}

	a := &Acquirer{
		camera:       camera,
		liveDuration: DefaultLiveDuration,
		newProvider: func(config *CameraConfig) FrameProvider {
			return NewCameraProvider(config)
		},
		probe: ffmpeg.ProbeDuration,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// AcquireLive 请求摄像头并返回实时视频源
// 权限被拒或设备不可用返回 *MediaAccessError
func (a *Acquirer) AcquireLive(ctx context.Context) (*Source, error) {
	if err := a.releaseActive(); err != nil {
		return nil, err
	}

	provider := a.newProvider(a.camera)

	frames, err := provider.Start(ctx)
	if err != nil {
		var accessErr *MediaAccessError
		if !errors.As(err, &accessErr) {
			err = &MediaAccessError{Device: a.camera.Device, Err: err}
		}
		return nil, err
	}

	source := &Source{
		mode:     ModeLive,
		duration: a.liveDuration,
		provider: provider,
		frames:   frames,
	}

	a.active = source
	slog.Info("live source acquired", "device", a.camera.Device)
	return source, nil
}

// AcquireFile 校验并打开一个视频文件源
// 非视频类型在任何处理开始之前返回 *InvalidInputError
func (a *Acquirer) AcquireFile(ctx context.Context, path string) (*Source, error) {
	contentType, err := sniffContentType(path)
	if err != nil {
		return nil, fmt.Errorf("open input file failed: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !videoExtensions[ext] && !strings.HasPrefix(contentType, "video/") {
		return nil, &InvalidInputError{Filename: filepath.Base(path), ContentType: contentType}
	}

	if err := a.releaseActive(); err != nil {
		return nil, err
	}

	duration, err := a.probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("probe video duration failed: %w", err)
	}

	source := &Source{
		mode:     ModeFile,
		duration: duration,
		path:     path,
	}

	a.active = source
	slog.Info("file source acquired", "path", path, "duration", duration)
	return source, nil
}

// Active 返回当前活动源，可能为nil
func (a *Acquirer) Active() *Source { return a.active }

// ReleaseActive 释放当前活动源
func (a *Acquirer) ReleaseActive() error { return a.releaseActive() }

func (a *Acquirer) releaseActive() error {
	if a.active == nil {
		return nil
	}
	err := a.active.Release()
	a.active = nil
	return err
}

// sniffContentType 读取文件头部并嗅探内容类型
func sniffContentType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	header := make([]byte, 512)
	n, err := f.Read(header)
	if err != nil && err != io.EOF {
		return "", err
	}

	return http.DetectContentType(header[:n]), nil
}
