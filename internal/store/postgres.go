// Package store 分析结果的可选归档层，供平台的分析页查询历史成绩
// 采集管线本身不持有任何持久状态，归档仅在配置了数据库URL时启用
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"GoSportVisionKit/internal/analysis"
)

const schema = `
CREATE TABLE IF NOT EXISTS analysis_results (
	id            BIGSERIAL PRIMARY KEY,
	session_id    TEXT        NOT NULL,
	sport         TEXT        NOT NULL,
	analysis_type TEXT        NOT NULL,
	score         DOUBLE PRECISION NOT NULL,
	metrics       JSONB,
	joint_angles  JSONB,
	feedback      JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_analysis_results_sport ON analysis_results (sport, created_at DESC);
`

// ArchivedResult 一条归档的分析结果
type ArchivedResult struct {
	ID           int64
	SessionID    string
	Sport        string
	AnalysisType string
	Score        float64
	CreatedAt    time.Time
}

// Store 基于pgx连接池的结果归档
type Store struct {
	pool *pgxpool.Pool
}

// New 连接数据库并确保归档表存在
func New(ctx context.Context, databaseURL string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config failed: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database failed: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema failed: %w", err)
	}

	slog.Info("result archive connected")
	return &Store{pool: pool}, nil
}

// SaveResult 归档一条分析结果
func (s *Store) SaveResult(ctx context.Context, sessionID, sport, analysisType string, result *analysis.Result) error {
	metrics, err := json.Marshal(result.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics failed: %w", err)
	}
	angles, err := json.Marshal(result.JointAngles)
	if err != nil {
		return fmt.Errorf("marshal joint angles failed: %w", err)
	}
	feedback, err := json.Marshal(result.Feedback)
	if err != nil {
		return fmt.Errorf("marshal feedback failed: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO analysis_results (session_id, sport, analysis_type, score, metrics, joint_angles, feedback)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sessionID, sport, analysisType, result.Score, metrics, angles, feedback,
	)
	if err != nil {
		return fmt.Errorf("insert analysis result failed: %w", err)
	}

	return nil
}

// ListBySport 按运动项目倒序列出最近的归档结果
func (s *Store) ListBySport(ctx context.Context, sport string, limit int) ([]ArchivedResult, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, sport, analysis_type, score, created_at
		FROM analysis_results
		WHERE sport = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		sport, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query analysis results failed: %w", err)
	}
	defer rows.Close()

	var results []ArchivedResult
	for rows.Next() {
		var r ArchivedResult
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Sport, &r.AnalysisType, &r.Score, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis result failed: %w", err)
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// Close 关闭连接池
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
