// sportvision 采集分析命令行入口
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"GoSportVisionKit/internal/analysis"
	"GoSportVisionKit/internal/capture"
	"GoSportVisionKit/internal/config"
	"GoSportVisionKit/internal/dispatcher"
	"GoSportVisionKit/internal/logger"
	"GoSportVisionKit/internal/media"
	"GoSportVisionKit/internal/sampler"
	"GoSportVisionKit/internal/store"
	"GoSportVisionKit/internal/testserver"
	"GoSportVisionKit/pkg/analyzer"
)

var (
	configPath     string
	sport          string
	analysisKD     string
	withDrills     bool
	sessionLogPath string
)

func main() {
	// .env是可选的
	godotenv.Load()

	root := &cobra.Command{
		Use:   "sportvision",
		Short: "Capture video frames and send them to the analysis service",
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	root.PersistentFlags().StringVar(&sport, "sport", "basketball", "sport identifier")
	root.PersistentFlags().StringVar(&analysisKD, "type", "form", "analysis type identifier")

	analyzeCmd := &cobra.Command{
		Use:   "analyze <video-file>",
		Short: "Sample frames from a video file and run a batch analysis",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
	analyzeCmd.Flags().BoolVar(&withDrills, "drills", false, "also generate drill recommendations")
	analyzeCmd.Flags().StringVar(&sessionLogPath, "session-log", "", "write the session event log to this file")

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "Capture from the camera and stream frames for real-time analysis",
		RunE:  runLive,
	}
	liveCmd.Flags().StringVar(&sessionLogPath, "session-log", "", "write the session event log to this file")

	reportCmd := &cobra.Command{
		Use:   "report <session-log.json>",
		Short: "Print a summary of a previously exported session log",
		Args:  cobra.ExactArgs(1),
		RunE:  runReport,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recently archived analysis results for a sport",
		RunE:  runHistory,
	}
	historyCmd.Flags().Int("limit", 10, "maximum number of results")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mock analysis backend",
		RunE:  runServe,
	}
	serveCmd.Flags().String("addr", ":8000", "listen address")

	root.AddCommand(analyzeCmd, liveCmd, serveCmd, reportCmd, historyCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, capture.UserMessage(err))
		os.Exit(1)
	}
}

// loadConfig 加载配置并初始化日志
func loadConfig() (*config.Config, error) {
	manager := config.NewManager(
		config.WithConfigPath(configPath),
		config.WithWatchEnabled(true),
	)

	cfg, err := manager.Load()
	if err != nil {
		return nil, err
	}

	logger.Init(cfg.Log.Level)
	return cfg, nil
}

// samplerOptions 把采样配置映射为采样器选项
func samplerOptions(cfg *config.Config) []sampler.Option {
	return []sampler.Option{
		sampler.WithSeekTimeout(cfg.Sampling.SeekTimeout),
		sampler.WithQuality(cfg.Sampling.JPEGQuality),
	}
}

// buildPipeline 按配置组装采集分析管线
func buildPipeline(cfg *config.Config, withStream bool) (*capture.Pipeline, *dispatcher.StreamDispatcher) {
	camera := &media.CameraConfig{
		Device: cfg.Camera.Device,
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
		FPS:    cfg.Camera.FPS,
	}

	acquirer := media.NewAcquirer(camera)

	batchConfig := dispatcher.DefaultBatchConfig(cfg.Service.BaseURL)
	batchConfig.RequestTimeout = cfg.Service.RequestTimeout
	batchConfig.MaxRetries = cfg.Service.MaxRetries
	batch := dispatcher.NewBatch(batchConfig)

	opts := []capture.PipelineOption{
		capture.WithSamplerOptions(samplerOptions(cfg)...),
		capture.WithProgress(func(percent int) {
			fmt.Fprintf(os.Stderr, "\rprogress: %3d%%", percent)
		}),
	}

	var stream *dispatcher.StreamDispatcher
	if withStream {
		streamConfig := dispatcher.DefaultStreamConfig(cfg.Service.StreamURL)
		streamConfig.ResultTimeout = cfg.Service.ResultTimeout
		stream = dispatcher.NewStream(streamConfig)
		opts = append(opts, capture.WithStream(stream))
	}

	return capture.NewPipeline(acquirer, batch, opts...), stream
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pipeline, _ := buildPipeline(cfg, false)
	defer pipeline.Close()

	result, recorder, err := pipeline.RunFile(ctx, args[0], sport, analysisKD)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		slog.Error("analysis failed", "error", err)
		return err
	}

	fmt.Printf("score: %.1f\n", result.Score)
	for _, feedback := range result.Feedback {
		fmt.Printf("  - %s\n", feedback)
	}

	archiveResult(ctx, cfg, recorder.SessionID(), result, sport, analysisKD)
	exportSessionLog(recorder)

	if withDrills {
		batch := dispatcher.NewBatch(dispatcher.DefaultBatchConfig(cfg.Service.BaseURL))
		metrics := metricsFromResult(result)
		drills, err := batch.GenerateDrills(ctx, sport, metrics, "intermediate")
		if err != nil {
			slog.Warn("drill generation failed", "error", err)
		} else {
			fmt.Println("drills:")
			for _, drill := range drills {
				fmt.Printf("  %s: %s\n", drill.Name, drill.Description)
			}
		}
	}

	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pipeline, stream := buildPipeline(cfg, true)
	defer pipeline.Close()

	stream.SetStateChangeHandler(func(oldState, newState dispatcher.StreamState) {
		slog.Info("stream state changed", "from", oldState.String(), "to", newState.String())
	})

	results, recorder, err := pipeline.RunLive(ctx, sport, analysisKD)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		slog.Error("live analysis failed", "error", err)
		return err
	}
	exportSessionLog(recorder)

	fmt.Printf("received %d real-time results\n", len(results))
	for _, result := range results {
		fmt.Printf("  score=%.1f sport=%s\n", result.Score, result.Sport)
	}

	if summary := analyzer.New(nil).Summarize(sport, results); summary != nil {
		fmt.Printf("session grade: %s (avg %.1f, trend %+.1f)\n",
			summary.Grade, summary.AverageScore, summary.Trend)
		for _, issue := range summary.Issues {
			fmt.Printf("  [%s] %s: %s\n", issue.Severity, issue.Title, issue.Suggestion)
		}
	}

	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_ = cfg

	addr, _ := cmd.Flags().GetString("addr")

	server := testserver.New(testserver.DefaultServerConfig(addr))
	if err := server.Start(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	<-ctx.Done()
	slog.Info("shutting down mock analysis server")
	return server.Shutdown(context.Background())
}

func runReport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	log, err := capture.ParseSessionLog(data)
	if err != nil {
		return err
	}

	fmt.Printf("session %s\n", log.SessionID)
	fmt.Printf("  duration: %s\n", log.EndTime.Sub(log.StartTime).Round(time.Millisecond))

	counts := make(map[capture.EventType]int)
	for _, event := range log.Events {
		counts[event.Type]++
	}
	for _, eventType := range []capture.EventType{
		capture.EventAcquire, capture.EventFrame, capture.EventDispatch,
		capture.EventResult, capture.EventError, capture.EventRelease,
	} {
		if counts[eventType] > 0 {
			fmt.Printf("  %-8s %d\n", eventType, counts[eventType])
		}
	}

	for _, event := range log.Events {
		if event.Type == capture.EventError {
			fmt.Printf("  error at %s: %s\n", event.Timestamp.Format(time.TimeOnly), event.Error)
		}
	}

	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("limit")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return listHistory(ctx, cfg, os.Stdout, sport, limit)
}

// listHistory 查询归档库并打印指定运动项目的最近结果
func listHistory(ctx context.Context, cfg *config.Config, w io.Writer, sport string, limit int) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("no database configured: set database.url to enable the result archive")
	}

	archive, err := store.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer archive.Close()

	results, err := archive.ListBySport(ctx, sport, limit)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Fprintln(w, "no archived results")
		return nil
	}

	for _, r := range results {
		fmt.Fprintf(w, "%s  %-12s %-8s score=%.1f\n",
			r.CreatedAt.Format(time.RFC3339), r.Sport, r.AnalysisType, r.Score)
	}
	return nil
}

// exportSessionLog 按需把会话记录写到磁盘，失败只告警
func exportSessionLog(recorder *capture.Recorder) {
	if sessionLogPath == "" || recorder == nil {
		return
	}

	data, err := recorder.ExportJSON()
	if err != nil {
		slog.Warn("export session log failed", "error", err)
		return
	}

	if err := os.WriteFile(sessionLogPath, data, 0644); err != nil {
		slog.Warn("write session log failed", "path", sessionLogPath, "error", err)
		return
	}

	slog.Info("session log written", "path", sessionLogPath)
}

// archiveResult 配置了数据库时归档结果，失败只告警不影响主流程
func archiveResult(ctx context.Context, cfg *config.Config, sessionID string, result *analysis.Result, sport, analysisType string) {
	if cfg.Database.URL == "" {
		return
	}

	archive, err := store.New(ctx, cfg.Database.URL)
	if err != nil {
		slog.Warn("result archive unavailable", "error", err)
		return
	}
	defer archive.Close()

	if err := archive.SaveResult(ctx, sessionID, sport, analysisType, result); err != nil {
		slog.Warn("archive result failed", "error", err)
	}
}

// metricsFromResult 将分析结果转换为训练计划生成的输入指标
func metricsFromResult(result *analysis.Result) []analysis.Metric {
	metrics := []analysis.Metric{
		{Name: "score", Value: result.Score},
	}
	for joint, angle := range result.JointAngles {
		metrics = append(metrics, analysis.Metric{Name: joint, Value: angle, Unit: "deg"})
	}
	return metrics
}
