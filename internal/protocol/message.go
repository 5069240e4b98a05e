// Package protocol 定义流式分析连接上的JSON消息封包
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"GoSportVisionKit/internal/analysis"
)

const (
	// TypeAnalyzeFrame 客户端请求对单帧做分析
	TypeAnalyzeFrame = "analyze_frame"

	// MaxMessageSize 单条消息大小上限（防止内存攻击）
	MaxMessageSize = 8 * 1024 * 1024 // 8MB，data-URL帧可能较大
)

var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrEmptyMessage    = errors.New("empty message")
	ErrUnknownType     = errors.New("unknown message type")
)

// FrameMessage 客户端发出的单帧分析请求
type FrameMessage struct {
	Type         string    `json:"type"`
	RequestID    string    `json:"request_id,omitempty"`
	Sport        string    `json:"sport"`
	AnalysisType string    `json:"analysis_type"`
	ImageData    string    `json:"image_data"` // data-URL编码的JPEG
	Timestamp    time.Time `json:"timestamp"`
}

// EncodeFrameMessage 编码单帧分析请求
func EncodeFrameMessage(msg *FrameMessage) ([]byte, error) {
	if msg.Type == "" {
		msg.Type = TypeAnalyzeFrame
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode frame message failed: %w", err)
	}

	if len(data) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	return data, nil
}

// DecodeFrameMessage 解码并校验客户端消息
func DecodeFrameMessage(data []byte) (*FrameMessage, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	if len(data) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	var msg FrameMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode frame message failed: %w", err)
	}

	if msg.Type != TypeAnalyzeFrame {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}

	return &msg, nil
}

// DecodeAnalysis 解码服务端推送的单帧分析结果
// 格式不合法的消息由调用方丢弃并记录，不中断连接
func DecodeAnalysis(data []byte) (*analysis.RealTimeAnalysis, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	if len(data) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	var result analysis.RealTimeAnalysis
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode analysis result failed: %w", err)
	}

	if result.Sport == "" {
		return nil, errors.New("analysis result missing sport field")
	}

	return &result, nil
}
