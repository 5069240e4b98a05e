// Package analysis 定义与外部分析服务交换的请求与结果类型
package analysis

import (
	"encoding/json"
	"time"
)

// Request 一次批量分析请求，构造后不可变
// 在一次网络调用期间由分发器独占
type Request struct {
	Sport        string    `json:"sport"`
	AnalysisType string    `json:"analysis_type"`
	Frames       []string  `json:"frames"` // data-URL编码的JPEG
	Timestamp    time.Time `json:"timestamp"`
}

// Result 外部服务返回的分析结果，本层只负责反序列化并原样转发
// 分数按约定落在0-100，本层不强制
type Result struct {
	Score       float64                    `json:"score"`
	Metrics     map[string]json.RawMessage `json:"metrics"`
	JointAngles map[string]float64         `json:"joint_angles"`
	Feedback    []string                   `json:"feedback"`
}

// RealTimeAnalysis 流式模式下服务端推送的单帧分析结果
type RealTimeAnalysis struct {
	RequestID string    `json:"request_id,omitempty"`
	Sport     string    `json:"sport"`
	Timestamp time.Time `json:"timestamp"`
	Result
}

// Metric 喂给训练计划生成接口的单项指标
type Metric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// DrillRequest 训练计划生成请求
type DrillRequest struct {
	Sport        string    `json:"sport"`
	Metrics      []Metric  `json:"metrics"`
	AthleteLevel string    `json:"athlete_level"`
	Timestamp    time.Time `json:"timestamp"`
}

// Drill 单条训练建议
type Drill struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Sets        int    `json:"sets,omitempty"`
	Reps        int    `json:"reps,omitempty"`
	Focus       string `json:"focus,omitempty"`
}
