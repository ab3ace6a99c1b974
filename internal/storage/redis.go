package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-tank-arena/internal"
)

// LeaderboardKey 勝場排行的有序集合
const LeaderboardKey = "arena:leaderboard"

// Leaderboard Redis 勝場排行
//
// ZINCRBY 是原子操作，多個實例同時寫入也不會遺失勝場。
// 玩家 ID 是連線 ID，沒有帳號系統；排行只反映連線層級的勝場。
type Leaderboard struct {
	client redis.UniversalClient
	key    string
}

// NewLeaderboard 創建排行榜
func NewLeaderboard(client redis.UniversalClient) *Leaderboard {
	return &Leaderboard{client: client, key: LeaderboardKey}
}

// RecordWin 實現 internal.WinCounter
func (l *Leaderboard) RecordWin(ctx context.Context, playerID string) error {
	if err := l.client.ZIncrBy(ctx, l.key, 1, playerID).Err(); err != nil {
		return fmt.Errorf("record win for %s: %w", playerID, err)
	}
	return nil
}

// Top 實現 internal.LeaderboardReader
func (l *Leaderboard) Top(ctx context.Context, n int) ([]internal.LeaderboardEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	zs, err := l.client.ZRevRangeWithScores(ctx, l.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}

	entries := make([]internal.LeaderboardEntry, 0, len(zs))
	for _, z := range zs {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, internal.LeaderboardEntry{
			PlayerID: id,
			Wins:     int64(z.Score),
		})
	}
	return entries, nil
}
