package media

import "fmt"

// UserFacing 可以转换为单条用户提示语的错误
// 所有管线错误在组件边界被捕获后只向用户暴露一条消息字符串
type UserFacing interface {
	UserMessage() string
}

// MediaAccessError 摄像头权限被拒绝或设备不可用
// 用户授权后重试即可恢复
type MediaAccessError struct {
	Device string
	Err    error
}

func (e *MediaAccessError) Error() string {
	return fmt.Sprintf("media access failed on %s: %v", e.Device, e.Err)
}

func (e *MediaAccessError) Unwrap() error { return e.Err }

func (e *MediaAccessError) UserMessage() string {
	return "Camera access was denied or no camera is available. Please grant permission and try again."
}

// InvalidInputError 所选文件不是视频类型
// 在任何处理开始之前触发，用户需要重新选择文件
type InvalidInputError struct {
	Filename    string
	ContentType string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input file %q: content type %q is not a video", e.Filename, e.ContentType)
}

func (e *InvalidInputError) UserMessage() string {
	return "The selected file is not a video. Please choose a video file."
}

// NoSourceError 采样开始前没有绑定任何视频源，属于调用顺序错误
type NoSourceError struct{}

func (e *NoSourceError) Error() string { return "no video source bound" }

func (e *NoSourceError) UserMessage() string {
	return "No video source is available. Start the camera or select a file first."
}
