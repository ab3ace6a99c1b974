// Package storage 提供對局結果的外部存儲
//
//   - MatchArchive：PostgreSQL 封存已結束的對局（pgx）
//   - Leaderboard：Redis 有序集合記錄勝場（go-redis）
//
// 兩者都只接收 Reporter 非同步送出的結果；進行中的對局狀態只存在記憶體。
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/system-design/14-tank-arena/internal"
)

// MatchArchive PostgreSQL 對局封存
//
// 表結構見 internal/migrations：
//
//	match_results(match_id, winner_id, loser_ids text[], reason,
//	              started_at, ended_at, created_at)
//
// 對局 ID 只在存活對局間唯一，因此主鍵是自增 id 而非 match_id。
type MatchArchive struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewMatchArchive 創建對局封存（連接池由調用方管理生命週期）
func NewMatchArchive(pool *pgxpool.Pool, logger *slog.Logger) *MatchArchive {
	return &MatchArchive{pool: pool, logger: logger}
}

// NewPool 依 DSN 建立連接池並驗證連線
func NewPool(ctx context.Context, dsn string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Save 實現 internal.ResultStore
func (a *MatchArchive) Save(ctx context.Context, result internal.MatchResult) error {
	const query = `
		INSERT INTO match_results (match_id, winner_id, loser_ids, reason, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	losers := result.LoserIDs
	if losers == nil {
		losers = []string{}
	}

	if _, err := a.pool.Exec(ctx, query,
		result.MatchID,
		result.WinnerID,
		losers,
		result.Reason,
		result.StartedAt,
		result.EndedAt,
	); err != nil {
		return fmt.Errorf("insert match result %s: %w", result.MatchID, err)
	}

	a.logger.Debug("對局結果已封存", "match_id", result.MatchID)
	return nil
}

// Recent 實現 internal.MatchHistoryReader，依結束時間由新到舊
func (a *MatchArchive) Recent(ctx context.Context, n int) ([]internal.MatchResult, error) {
	const query = `
		SELECT match_id, winner_id, loser_ids, reason, started_at, ended_at
		FROM match_results
		ORDER BY ended_at DESC, id DESC
		LIMIT $1
	`

	rows, err := a.pool.Query(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("query recent matches: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (internal.MatchResult, error) {
		var r internal.MatchResult
		err := row.Scan(&r.MatchID, &r.WinnerID, &r.LoserIDs, &r.Reason, &r.StartedAt, &r.EndedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan recent matches: %w", err)
	}
	return results, nil
}
