// Package testserver 模拟外部分析服务，实现文档化的HTTP/WebSocket契约
// 供测试与本地开发使用，真实的打分逻辑在范围之外
package testserver

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"GoSportVisionKit/internal/analysis"
	"GoSportVisionKit/internal/protocol"
)

// ServerConfig 模拟服务器配置
type ServerConfig struct {
	Addr              string
	EchoRequestID     bool          // 是否在流式结果中回传request_id
	Silent            bool          // 不回复流式结果（用于超时测试）
	MalformedEvery    int           // 每N条结果前注入一条格式损坏的消息，0禁用
	ResponseDelay     time.Duration // 回复前的人工延迟
	MaxConnections    int
	ReadBufferSize    int
	WriteBufferSize   int
	EnableCompression bool
}

// DefaultServerConfig 返回默认配置
func DefaultServerConfig(addr string) *ServerConfig {
	return &ServerConfig{
		Addr:            addr,
		EchoRequestID:   true,
		MaxConnections:  100,
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
	}
}

// Server 模拟分析服务
type Server struct {
	config   *ServerConfig
	server   *http.Server
	upgrader websocket.Upgrader

	connCount   atomic.Int32
	connWg      sync.WaitGroup
	isRunning   atomic.Bool
	forceStatus atomic.Int32 // 非0时analyze-video固定返回该状态码

	totalRequests atomic.Uint64
	totalFrames   atomic.Uint64
	startTime     time.Time
}

// New 创建模拟分析服务
func New(config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig(":8000")
	}

	s := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    config.ReadBufferSize,
			WriteBufferSize:   config.WriteBufferSize,
			EnableCompression: config.EnableCompression,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		startTime: time.Now(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/analyze-video", s.handleAnalyzeVideo).Methods(http.MethodPost)
	router.HandleFunc("/api/generate-drills", s.handleGenerateDrills).Methods(http.MethodPost)
	router.HandleFunc("/ws", s.handleWebSocket)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(router)

	s.server = &http.Server{
		Addr:    config.Addr,
		Handler: handler,
	}

	return s
}

// Start 启动服务器，返回时监听端口已经就绪
func (s *Server) Start() error {
	if !s.isRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.isRunning.Store(false)
		return fmt.Errorf("listen on %s failed: %w", s.config.Addr, err)
	}

	slog.Info("starting mock analysis server", "addr", s.config.Addr)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("mock server error", "error", err)
		}
	}()

	return nil
}

// Shutdown 关闭服务器
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.isRunning.CompareAndSwap(true, false) {
		return nil
	}

	err := s.server.Shutdown(ctx)
	s.connWg.Wait()
	return err
}

// SetForceStatus 强制analyze-video返回指定状态码，0恢复正常
func (s *Server) SetForceStatus(status int) {
	s.forceStatus.Store(int32(status))
}

// handleAnalyzeVideo 批量分析端点
func (s *Server) handleAnalyzeVideo(w http.ResponseWriter, r *http.Request) {
	s.totalRequests.Add(1)

	if status := int(s.forceStatus.Load()); status != 0 {
		http.Error(w, "forced failure", status)
		return
	}

	var request analysis.Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if request.Sport == "" || len(request.Frames) == 0 {
		http.Error(w, "sport and frames are required", http.StatusBadRequest)
		return
	}

	s.totalFrames.Add(uint64(len(request.Frames)))

	if s.config.ResponseDelay > 0 {
		time.Sleep(s.config.ResponseDelay)
	}

	result := s.fakeResult(request.Sport, len(request.Frames))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleGenerateDrills 训练计划端点
func (s *Server) handleGenerateDrills(w http.ResponseWriter, r *http.Request) {
	s.totalRequests.Add(1)

	var request analysis.DrillRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if request.Sport == "" {
		http.Error(w, "sport is required", http.StatusBadRequest)
		return
	}

	drills := []analysis.Drill{
		{
			Name:        "Form shadow reps",
			Description: fmt.Sprintf("Slow-motion %s repetitions focusing on posture", request.Sport),
			Sets:        3,
			Reps:        10,
			Focus:       "form",
		},
		{
			Name:        "Balance hold",
			Description: "Single-leg balance hold to stabilize the core",
			Sets:        2,
			Reps:        8,
			Focus:       "stability",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(drills)
}

// handleWebSocket 流式分析端点
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.connCount.Load() >= int32(s.config.MaxConnections) {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.connCount.Add(1)
	s.connWg.Add(1)

	go func() {
		defer func() {
			conn.Close()
			s.connCount.Add(-1)
			s.connWg.Done()
		}()
		s.streamLoop(conn)
	}()
}

// streamLoop 读取analyze_frame消息并异步推送结果
func (s *Server) streamLoop(conn *websocket.Conn) {
	conn.SetReadLimit(protocol.MaxMessageSize)

	var writeMu sync.Mutex
	var served uint64

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.DecodeFrameMessage(data)
		if err != nil {
			slog.Debug("ignoring malformed client message", "error", err)
			continue
		}

		s.totalFrames.Add(1)

		if s.config.Silent {
			continue
		}

		served++
		injectMalformed := s.config.MalformedEvery > 0 && served%uint64(s.config.MalformedEvery) == 0

		go func(msg *protocol.FrameMessage, inject bool) {
			if s.config.ResponseDelay > 0 {
				time.Sleep(s.config.ResponseDelay)
			}

			writeMu.Lock()
			defer writeMu.Unlock()

			if inject {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				conn.WriteMessage(websocket.TextMessage, []byte(`{"score": "not-a-number"`))
			}

			result := &analysis.RealTimeAnalysis{
				Sport:     msg.Sport,
				Timestamp: time.Now().UTC(),
				Result:    s.fakeResult(msg.Sport, 1),
			}
			if s.config.EchoRequestID {
				result.RequestID = msg.RequestID
			}

			payload, err := json.Marshal(result)
			if err != nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			conn.WriteMessage(websocket.TextMessage, payload)
		}(msg, injectMalformed)
	}
}

// fakeResult 生成确定性的假分析结果，分数落在0-100
func (s *Server) fakeResult(sport string, frameCount int) analysis.Result {
	h := fnv.New32a()
	h.Write([]byte(sport))
	score := float64(50 + (int(h.Sum32())%40+frameCount)%50)

	rawNumber := func(v float64) json.RawMessage {
		data, _ := json.Marshal(v)
		return data
	}
	rawString := func(v string) json.RawMessage {
		data, _ := json.Marshal(v)
		return data
	}

	return analysis.Result{
		Score: score,
		Metrics: map[string]json.RawMessage{
			"frame_count": rawNumber(float64(frameCount)),
			"posture":     rawString("stable"),
			"tempo":       rawNumber(0.82),
		},
		JointAngles: map[string]float64{
			"left_knee":   142.5,
			"right_knee":  139.8,
			"left_elbow":  95.2,
			"right_elbow": 97.1,
		},
		Feedback: []string{
			"Keep your back straight through the movement",
			"Good follow-through on the finish",
		},
	}
}

// handleHealth 健康检查
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","uptime_seconds":%.1f,"total_requests":%d,"total_frames":%d}`,
		time.Since(s.startTime).Seconds(),
		s.totalRequests.Load(),
		s.totalFrames.Load())
}

// Stats 返回服务器统计信息
func (s *Server) Stats() map[string]interface{} {
	return map[string]interface{}{
		"running":             s.isRunning.Load(),
		"current_connections": s.connCount.Load(),
		"total_requests":      s.totalRequests.Load(),
		"total_frames":        s.totalFrames.Load(),
	}
}
