package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// CameraConfig 摄像头采集配置，分辨率与帧率只是期望值
type CameraConfig struct {
	Device string // 例如 /dev/video0
	Width  int
	Height int
	FPS    int
}

// DefaultCameraConfig 返回默认摄像头配置
func DefaultCameraConfig() *CameraConfig {
	return &CameraConfig{
		Device: "/dev/video0",
		Width:  1280,
		Height: 720,
		FPS:    30,
	}
}

// CameraProvider 通过ffmpeg从本地摄像头设备采集MJPEG帧流
type CameraProvider struct {
	config *CameraConfig

	cmd      *exec.Cmd
	cancel   context.CancelFunc
	tracks   atomic.Int32
	stopOnce sync.Once
	done     chan struct{}
}

// NewCameraProvider 创建摄像头帧提供者
func NewCameraProvider(config *CameraConfig) *CameraProvider {
	if config == nil {
		config = DefaultCameraConfig()
	}
	return &CameraProvider{
		config: config,
		done:   make(chan struct{}),
	}
}

// Start 启动采集进程并返回帧通道
// 设备打开失败会以 *MediaAccessError 返回
func (p *CameraProvider) Start(ctx context.Context) (<-chan RawFrame, error) {
	runCtx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(runCtx, "ffmpeg",
		"-f", "v4l2",
		"-framerate", strconv.Itoa(p.config.FPS),
		"-video_size", fmt.Sprintf("%dx%d", p.config.Width, p.config.Height),
		"-i", p.config.Device,
		"-c:v", "mjpeg",
		"-f", "mjpeg",
		"pipe:1",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &MediaAccessError{Device: p.config.Device, Err: err}
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &MediaAccessError{Device: p.config.Device, Err: err}
	}

	p.cmd = cmd
	p.cancel = cancel
	p.tracks.Store(1)

	frames := make(chan RawFrame, 16)

	go func() {
		defer close(frames)
		defer close(p.done)
		p.readFrames(runCtx, stdout, frames)
		cmd.Wait()
	}()

	return frames, nil
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// readFrames 从MJPEG字节流中按SOI/EOI标记切分出单帧JPEG
// 标记可能横跨两次读取，扫描必须在累积缓冲上进行而不是单个分片内
func (p *CameraProvider) readFrames(ctx context.Context, r io.Reader, frames chan<- RawFrame) {
	reader := bufio.NewReaderSize(r, 512*1024)
	start := time.Now()
	var seq uint64
	var buf []byte

	chunk := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := reader.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)

			for {
				soi := bytes.Index(buf, jpegSOI)
				if soi < 0 {
					// 尾字节可能是被截断的标记开头，保留到下次读取
					if len(buf) > 0 && buf[len(buf)-1] == 0xFF {
						buf[0] = 0xFF
						buf = buf[:1]
					} else {
						buf = buf[:0]
					}
					break
				}

				eoi := bytes.Index(buf[soi+2:], jpegEOI)
				if eoi < 0 {
					// 帧未完整，丢弃SOI之前的垃圾字节等待后续数据
					keep := len(buf) - soi
					copy(buf, buf[soi:])
					buf = buf[:keep]
					break
				}

				end := soi + 2 + eoi + 2
				seq++
				frame := RawFrame{
					Data:      append([]byte(nil), buf[soi:end]...),
					Timestamp: time.Since(start),
					Seq:       seq,
				}

				keep := len(buf) - end
				copy(buf, buf[end:])
				buf = buf[:keep]

				select {
				case frames <- frame:
				default:
					// 下游没跟上时丢帧
				}
			}
		}

		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				slog.Warn("camera stream read failed", "device", p.config.Device, "error", err)
			}
			return
		}
	}
}

// Stop 停止采集并释放设备，幂等
func (p *CameraProvider) Stop() error {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
			<-p.done
		}
		p.tracks.Store(0)
	})
	return nil
}

func (p *CameraProvider) ActiveTracks() int {
	return int(p.tracks.Load())
}
