// Package sampler 从视频源按采样策略抽取静帧
package sampler

import "time"

const (
	// LiveFrameCount 实时模式固定采样帧数
	LiveFrameCount = 10
	// LiveInterval 实时模式固定采样间隔（墙钟时间，不保证帧精确）
	LiveInterval = 500 * time.Millisecond

	// FileMaxFrames 文件模式最多采样帧数
	FileMaxFrames = 20
	// FileMinInterval 文件模式最小采样间隔
	FileMinInterval = 500 * time.Millisecond

	// DefaultJPEGQuality 固定的静帧编码质量
	DefaultJPEGQuality = 0.8

	// DefaultSeekTimeout 单次seek的落定超时，超时中止整个采样过程
	DefaultSeekTimeout = 5 * time.Second
)

// Policy 采样策略：帧数上限与采样间隔
type Policy struct {
	MaxFrames int
	Interval  time.Duration
}

// LivePolicy 实时模式策略：固定10帧，间隔500ms
func LivePolicy() Policy {
	return Policy{MaxFrames: LiveFrameCount, Interval: LiveInterval}
}

// FilePolicy 文件模式策略：interval = max(0.5s, duration/20)，至多20帧
func FilePolicy(duration time.Duration) Policy {
	interval := duration / FileMaxFrames
	if interval < FileMinInterval {
		interval = FileMinInterval
	}
	return Policy{MaxFrames: FileMaxFrames, Interval: interval}
}

// Timestamps 返回文件模式下的采样时间点：0, i, 2i, ... < duration
func (p Policy) Timestamps(duration time.Duration) []time.Duration {
	var stamps []time.Duration
	for t := time.Duration(0); t < duration && len(stamps) < p.MaxFrames; t += p.Interval {
		stamps = append(stamps, t)
	}
	return stamps
}
