// Package ffmpeg 封装对ffmpeg/ffprobe命令行工具的调用
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// CheckInstallation 检查ffmpeg是否已安装并可用
func CheckInstallation() error {
	cmd := exec.Command("ffmpeg", "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg is not installed or not in PATH: %w", err)
	}
	return nil
}

// ProbeDuration 使用ffprobe获取视频时长
func ProbeDuration(ctx context.Context, videoPath string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("probe duration failed: %w", err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q failed: %w", strings.TrimSpace(string(output)), err)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

// qualityToQscale 将0.0-1.0的质量值映射到ffmpeg的qscale范围(2=最好, 31=最差)
func qualityToQscale(quality float64) int {
	if quality < 0 {
		quality = 0
	}
	if quality > 1 {
		quality = 1
	}
	return 2 + int((1.0-quality)*29.0)
}

// GrabFrameAt 定位到指定时间戳并抓取一帧，返回JPEG编码数据
// 调用方通过ctx限制单次seek的等待时间
func GrabFrameAt(ctx context.Context, videoPath string, at time.Duration, quality float64) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-ss", fmt.Sprintf("%.3f", at.Seconds()),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", strconv.Itoa(qualityToQscale(quality)),
		"-f", "image2",
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("seek to %v did not settle: %w", at, ctx.Err())
		}
		return nil, fmt.Errorf("grab frame at %v failed: %w: %s", at, err, stderr.String())
	}

	data := stdout.Bytes()
	if len(data) == 0 {
		return nil, fmt.Errorf("no decodable frame at %v", at)
	}

	return data, nil
}
