package internal

import (
	"fmt"
	"time"
)

// MatchStatus 對局狀態
//
// 狀態機只允許前進：
//
//	waiting → playing → finished
//
// finished 且沒有玩家的對局會立即從表中刪除，不是可觀察的狀態。
type MatchStatus string

const (
	StatusWaiting  MatchStatus = "waiting"  // 已建立，玩家未到齊
	StatusPlaying  MatchStatus = "playing"  // 玩家到齊
	StatusFinished MatchStatus = "finished" // 勝負已分
)

// 遊戲常數
const (
	InitialBaseHealth = 3

	// 出生點落在 (2..6)*50 的格點上
	spawnCellMin  = 2
	spawnCellMax  = 7 // 不含
	spawnCellSize = 50
)

// Player 對局中的玩家狀態
type Player struct {
	ID         string  `json:"id"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Rotation   float64 `json:"rotation"`
	BaseHealth int     `json:"baseHealth"`
}

// Match 一場雙人對局
type Match struct {
	ID        string
	Players   map[string]*Player
	Status    MatchStatus
	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time

	// members 是廣播群組，與 Players 不同：
	// 基地被摧毀的玩家離開 Players，但仍會收到該對局的廣播直到斷線。
	members map[string]struct{}
	// roster 依加入順序記錄所有曾加入的玩家
	roster []string
}

func newMatch(id string, now time.Time) *Match {
	return &Match{
		ID:        id,
		Players:   make(map[string]*Player),
		Status:    StatusWaiting,
		CreatedAt: now,
		members:   make(map[string]struct{}),
	}
}

// transition 狀態轉換，拒絕任何非前進的轉換
func (m *Match) transition(to MatchStatus) error {
	switch {
	case m.Status == StatusWaiting && to == StatusPlaying,
		m.Status == StatusPlaying && to == StatusFinished:
		m.Status = to
		return nil
	default:
		return fmt.Errorf("match %s: illegal transition %s → %s", m.ID, m.Status, to)
	}
}

// Members 廣播群組成員
func (m *Match) Members() []string {
	ids := make([]string, 0, len(m.members))
	for id := range m.members {
		ids = append(ids, id)
	}
	return ids
}

// IsMember 檢查連線是否在廣播群組中
func (m *Match) IsMember(connID string) bool {
	_, ok := m.members[connID]
	return ok
}

// Snapshot 玩家表的值拷貝，用於廣播
func (m *Match) Snapshot() map[string]Player {
	out := make(map[string]Player, len(m.Players))
	for id, p := range m.Players {
		out[id] = *p
	}
	return out
}

// soleSurvivor 只剩一名玩家時返回其 ID
func (m *Match) soleSurvivor() (string, bool) {
	if len(m.Players) != 1 {
		return "", false
	}
	for id := range m.Players {
		return id, true
	}
	return "", false
}
