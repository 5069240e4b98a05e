package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"GoSportVisionKit/internal/analysis"
	"GoSportVisionKit/internal/protocol"
)

// StreamState 流式连接状态
type StreamState int32

const (
	StreamIdle StreamState = iota
	StreamConnecting
	StreamOpen
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "IDLE"
	case StreamConnecting:
		return "CONNECTING"
	case StreamOpen:
		return "OPEN"
	case StreamClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// StateChangeHandler 状态变化处理器
type StateChangeHandler func(oldState, newState StreamState)

// ErrNotOpen 连接不在open状态时禁止发送帧
var ErrNotOpen = errors.New("stream connection is not open")

// StreamConfig 流式分发器配置
type StreamConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ResultTimeout    time.Duration // 单个待定请求的等待上限
	RedialInterval   time.Duration
	MaxRedialTries   int
	UserAgent        string
}

// DefaultStreamConfig 返回默认配置
func DefaultStreamConfig(url string) *StreamConfig {
	return &StreamConfig{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ResultTimeout:    10 * time.Second,
		RedialInterval:   2 * time.Second,
		MaxRedialTries:   5,
		UserAgent:        "GoSportVisionKit/1.0",
	}
}

// pendingRequest 等待服务端结果的在途请求
type pendingRequest struct {
	id      string
	sport   string
	created time.Time
	ch      chan *analysis.RealTimeAnalysis
}

// StreamDispatcher 流式模式分发器：逐帧发送，异步接收分析结果
//
// 结果优先按显式的request_id关联；对不回传id的服务端退回按sport
// 字段匹配最早的在途请求。每个在途请求有超时，超时后以"无结果"
// 解析而不是永久挂起
type StreamDispatcher struct {
	config *StreamConfig
	dialer *websocket.Dialer
	conn   *websocket.Conn
	state  atomic.Int32

	onStateChange StateChangeHandler

	mu       sync.RWMutex
	writeMu  sync.Mutex // 专用于WebSocket写入同步
	stopChan chan struct{}
	stopOnce sync.Once

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	redialChan  chan struct{}
	redialCount atomic.Int32

	droppedMessages atomic.Uint64
}

// NewStream 创建流式分发器
func NewStream(config *StreamConfig) *StreamDispatcher {
	if config == nil {
		panic("config cannot be nil")
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = config.HandshakeTimeout

	d := &StreamDispatcher{
		config:     config,
		dialer:     &dialer,
		stopChan:   make(chan struct{}),
		redialChan: make(chan struct{}, 1),
		pending:    make(map[string]*pendingRequest),
	}

	d.state.Store(int32(StreamIdle))
	return d
}

// SetStateChangeHandler 设置状态变化处理器
func (d *StreamDispatcher) SetStateChangeHandler(handler StateChangeHandler) {
	d.onStateChange = handler
}

// Connect 建立流式连接
func (d *StreamDispatcher) Connect(ctx context.Context) error {
	if !d.compareAndSwapState(StreamIdle, StreamConnecting) {
		return errors.New("dispatcher is not in idle state")
	}

	if err := d.doConnect(ctx); err != nil {
		d.setState(StreamClosed)
		return err
	}

	d.setState(StreamOpen)

	go d.readLoop()
	go d.redialLoop()

	return nil
}

// doConnect 执行实际的连接逻辑
func (d *StreamDispatcher) doConnect(ctx context.Context) error {
	headers := http.Header{
		"User-Agent": []string{d.config.UserAgent},
	}

	conn, resp, err := d.dialer.DialContext(ctx, d.config.URL, headers)
	if err != nil {
		return &NetworkError{Op: "dial " + d.config.URL, Err: err}
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	conn.SetReadLimit(protocol.MaxMessageSize)

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	return nil
}

// AnalyzeFrame 发送单帧并等待对应的分析结果
// 结果超时返回 (nil, nil)：调用方收到"无结果"而不是永久等待
func (d *StreamDispatcher) AnalyzeFrame(ctx context.Context, sport, analysisType, imageData string) (*analysis.RealTimeAnalysis, error) {
	if d.State() != StreamOpen {
		return nil, ErrNotOpen
	}

	req := &pendingRequest{
		id:      uuid.NewString(),
		sport:   sport,
		created: time.Now(),
		ch:      make(chan *analysis.RealTimeAnalysis, 1),
	}

	msg := &protocol.FrameMessage{
		Type:         protocol.TypeAnalyzeFrame,
		RequestID:    req.id,
		Sport:        sport,
		AnalysisType: analysisType,
		ImageData:    imageData,
		Timestamp:    time.Now().UTC(),
	}

	data, err := protocol.EncodeFrameMessage(msg)
	if err != nil {
		return nil, err
	}

	d.register(req)

	if err := d.writeMessage(data); err != nil {
		d.unregister(req.id)
		return nil, err
	}

	timer := time.NewTimer(d.config.ResultTimeout)
	defer timer.Stop()

	select {
	case result, ok := <-req.ch:
		if !ok {
			return nil, nil // 连接关闭，结果缺失
		}
		return result, nil
	case <-timer.C:
		d.unregister(req.id)
		slog.Debug("analysis result timed out", "request_id", req.id, "sport", sport)
		return nil, nil
	case <-ctx.Done():
		d.unregister(req.id)
		return nil, ctx.Err()
	}
}

// writeMessage 线程安全地写入一条文本消息
func (d *StreamDispatcher) writeMessage(data []byte) error {
	d.mu.RLock()
	conn := d.conn
	d.mu.RUnlock()

	if conn == nil {
		return ErrNotOpen
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(d.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &NetworkError{Op: "write frame", Err: err}
	}
	return nil
}

// readLoop 消息读取循环
// 格式不合法的消息丢弃并记录，不中断连接
func (d *StreamDispatcher) readLoop() {
	for {
		select {
		case <-d.stopChan:
			return
		default:
		}

		if d.State() != StreamOpen {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		d.mu.RLock()
		conn := d.conn
		d.mu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if d.State() == StreamClosed {
				return
			}
			slog.Warn("stream read failed", "error", err)
			d.triggerRedial()
			continue
		}

		result, err := protocol.DecodeAnalysis(data)
		if err != nil {
			d.droppedMessages.Add(1)
			slog.Warn("dropping malformed analysis message", "error", err, "size", len(data))
			continue
		}

		d.resolve(result)
	}
}

// resolve 将收到的结果派发给对应的在途请求
func (d *StreamDispatcher) resolve(result *analysis.RealTimeAnalysis) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	// 优先按显式request_id关联
	if result.RequestID != "" {
		if req, ok := d.pending[result.RequestID]; ok {
			delete(d.pending, result.RequestID)
			req.ch <- result
			return
		}
	}

	// 退回按sport匹配最早的在途请求（兼容不回传id的服务端）
	var oldest *pendingRequest
	for _, req := range d.pending {
		if req.sport != result.Sport {
			continue
		}
		if oldest == nil || req.created.Before(oldest.created) {
			oldest = req
		}
	}

	if oldest == nil {
		slog.Debug("no pending request for result", "sport", result.Sport, "request_id", result.RequestID)
		return
	}

	delete(d.pending, oldest.id)
	oldest.ch <- result
}

func (d *StreamDispatcher) register(req *pendingRequest) {
	d.pendingMu.Lock()
	d.pending[req.id] = req
	d.pendingMu.Unlock()
}

func (d *StreamDispatcher) unregister(id string) {
	d.pendingMu.Lock()
	delete(d.pending, id)
	d.pendingMu.Unlock()
}

// drainPending 关闭所有在途请求的通道，等待方收到"无结果"
func (d *StreamDispatcher) drainPending() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	for id, req := range d.pending {
		close(req.ch)
		delete(d.pending, id)
	}
}

// redialLoop 重连循环
func (d *StreamDispatcher) redialLoop() {
	for {
		select {
		case <-d.stopChan:
			return
		case <-d.redialChan:
			d.doRedial()
		}
	}
}

// triggerRedial 触发重连
func (d *StreamDispatcher) triggerRedial() {
	if d.compareAndSwapState(StreamOpen, StreamConnecting) {
		select {
		case d.redialChan <- struct{}{}:
		default:
		}
	}
}

// doRedial 按指数退避重连，超过上限视为不可恢复，进入closed
func (d *StreamDispatcher) doRedial() {
	count := d.redialCount.Add(1)
	if count > int32(d.config.MaxRedialTries) {
		slog.Error("max redial tries exceeded, closing stream")
		d.Close()
		return
	}

	slog.Info("redialing analysis stream", "attempt", count, "max", d.config.MaxRedialTries)

	d.mu.Lock()
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
	d.mu.Unlock()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.config.RedialInterval
	policy.MaxElapsedTime = time.Duration(d.config.MaxRedialTries) * d.config.RedialInterval

	err := backoff.Retry(func() error {
		select {
		case <-d.stopChan:
			return backoff.Permanent(errors.New("dispatcher closed"))
		default:
		}
		return d.doConnect(context.Background())
	}, policy)

	if err != nil {
		slog.Error("redial failed, closing stream", "error", err)
		d.Close()
		return
	}

	d.completeRedial()
}

// completeRedial 重连成功后恢复open状态
// Close()已抢先进入closed时放弃新建立的连接，closed是终态
func (d *StreamDispatcher) completeRedial() {
	d.redialCount.Store(0)

	if d.compareAndSwapState(StreamConnecting, StreamOpen) {
		slog.Info("analysis stream reconnected")
		return
	}

	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Close 关闭连接并释放所有在途请求，可从任意状态进入
func (d *StreamDispatcher) Close() error {
	old := StreamState(d.state.Swap(int32(StreamClosed)))
	if old == StreamClosed {
		return nil
	}
	if d.onStateChange != nil {
		d.onStateChange(old, StreamClosed)
	}

	d.stopOnce.Do(func() {
		close(d.stopChan)
	})

	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()

	d.drainPending()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
			time.Now().Add(time.Second))
		return conn.Close()
	}

	return nil
}

// State 返回当前连接状态
func (d *StreamDispatcher) State() StreamState {
	return StreamState(d.state.Load())
}

// DroppedMessages 返回因格式不合法被丢弃的消息数
func (d *StreamDispatcher) DroppedMessages() uint64 {
	return d.droppedMessages.Load()
}

// Stats 返回分发器统计信息
func (d *StreamDispatcher) Stats() map[string]interface{} {
	d.pendingMu.Lock()
	pendingCount := len(d.pending)
	d.pendingMu.Unlock()

	return map[string]interface{}{
		"state":            d.State().String(),
		"pending_requests": pendingCount,
		"redial_count":     d.redialCount.Load(),
		"dropped_messages": d.droppedMessages.Load(),
	}
}

// setState 设置状态
func (d *StreamDispatcher) setState(newState StreamState) {
	oldState := StreamState(d.state.Swap(int32(newState)))
	if oldState != newState && d.onStateChange != nil {
		d.onStateChange(oldState, newState)
	}
}

// compareAndSwapState 原子性状态切换
func (d *StreamDispatcher) compareAndSwapState(oldState, newState StreamState) bool {
	swapped := d.state.CompareAndSwap(int32(oldState), int32(newState))
	if swapped && d.onStateChange != nil {
		d.onStateChange(oldState, newState)
	}
	return swapped
}
