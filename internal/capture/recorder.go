package capture

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// EventType 会话事件类型
type EventType string

const (
	EventAcquire  EventType = "ACQUIRE"
	EventFrame    EventType = "FRAME"
	EventDispatch EventType = "DISPATCH"
	EventResult   EventType = "RESULT"
	EventError    EventType = "ERROR"
	EventRelease  EventType = "RELEASE"
)

// Event 会话事件
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// RecorderStats 会话统计
type RecorderStats struct {
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	Duration       time.Duration `json:"duration"`
	TotalEvents    int64         `json:"total_events"`
	FramesCaptured int64         `json:"frames_captured"`
	ErrorCount     int64         `json:"error_count"`
}

// SessionLog 可导出的完整会话记录
type SessionLog struct {
	SessionID string         `json:"session_id"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Events    []*Event       `json:"events"`
	Stats     *RecorderStats `json:"stats"`
}

// Recorder 会话事件录制器，供排查与分析页使用
type Recorder struct {
	sessionID string
	startTime time.Time
	events    []*Event

	eventCounter atomic.Int64
	frameCounter atomic.Int64
	errorCounter atomic.Int64

	mu       sync.RWMutex
	isActive atomic.Bool
}

// NewRecorder 创建会话录制器
func NewRecorder(sessionID string) *Recorder {
	r := &Recorder{
		sessionID: sessionID,
		startTime: time.Now(),
		events:    make([]*Event, 0, 64),
	}

	r.isActive.Store(true)
	return r
}

// SessionID 返回所属会话ID
func (r *Recorder) SessionID() string { return r.sessionID }

// RecordEvent 记录事件
func (r *Recorder) RecordEvent(eventType EventType, metadata map[string]interface{}) {
	if !r.isActive.Load() {
		return
	}

	event := &Event{
		ID:        fmt.Sprintf("event_%d", r.eventCounter.Add(1)),
		Type:      eventType,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}

	if eventType == EventFrame {
		r.frameCounter.Add(1)
	}

	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// RecordError 记录错误事件
func (r *Recorder) RecordError(err error, metadata map[string]interface{}) {
	if !r.isActive.Load() {
		return
	}

	r.errorCounter.Add(1)

	event := &Event{
		ID:        fmt.Sprintf("event_%d", r.eventCounter.Add(1)),
		Type:      EventError,
		Timestamp: time.Now(),
		Error:     err.Error(),
		Metadata:  metadata,
	}

	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Stop 停止录制
func (r *Recorder) Stop() {
	r.isActive.CompareAndSwap(true, false)
}

// Events 返回事件列表副本
func (r *Recorder) Events() []*Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Event{}, r.events...)
}

// Stats 返回当前统计
func (r *Recorder) Stats() *RecorderStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	return &RecorderStats{
		StartTime:      r.startTime,
		EndTime:        now,
		Duration:       now.Sub(r.startTime),
		TotalEvents:    int64(len(r.events)),
		FramesCaptured: r.frameCounter.Load(),
		ErrorCount:     r.errorCounter.Load(),
	}
}

// ExportJSON 导出完整会话记录
func (r *Recorder) ExportJSON() ([]byte, error) {
	r.mu.RLock()
	events := append([]*Event{}, r.events...)
	r.mu.RUnlock()

	log := &SessionLog{
		SessionID: r.sessionID,
		StartTime: r.startTime,
		EndTime:   time.Now(),
		Events:    events,
		Stats:     r.Stats(),
	}

	return json.MarshalIndent(log, "", "  ")
}

// ParseSessionLog 解析ExportJSON导出的会话记录
func ParseSessionLog(data []byte) (*SessionLog, error) {
	var log SessionLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("parse session log: %w", err)
	}
	if log.SessionID == "" {
		return nil, fmt.Errorf("session log missing session_id")
	}
	return &log, nil
}
