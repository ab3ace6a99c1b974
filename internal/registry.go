package internal

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	mrand "math/rand/v2"
	"time"

	apperrors "github.com/koopa0/system-design/14-tank-arena/pkg/errors"
)

const (
	matchIDChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	matchIDLength = 4
	maxIDAttempts = 64
)

// MatchRegistry 所有進行中／等待中對局的權威表
//
// Registry 獨佔 Match 與 Player 物件；Relay 與廣播器只透過查詢存取，
// 不跨 tick 持有副本。只在事件迴圈中存取。
type MatchRegistry struct {
	matches    map[string]*Match
	sessions   *SessionRegistry
	maxPlayers int
	waitingTTL time.Duration

	newID    func() string
	rng      *mrand.Rand
	now      func() time.Time
	observer MatchObserver
	logger   *slog.Logger
}

// NewMatchRegistry 創建對局表
func NewMatchRegistry(sessions *SessionRegistry, cfg GameConfig, logger *slog.Logger) *MatchRegistry {
	return &MatchRegistry{
		matches:    make(map[string]*Match),
		sessions:   sessions,
		maxPlayers: cfg.MaxPlayersPerMatch,
		waitingTTL: cfg.WaitingMatchTTL,
		newID:      generateMatchID,
		rng:        mrand.New(mrand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		now:        time.Now,
		observer:   nopObserver{},
		logger:     logger,
	}
}

// Create 以不與現存對局衝突的隨機 ID 建立對局
func (r *MatchRegistry) Create() (*Match, error) {
	for range maxIDAttempts {
		id := r.newID()
		if _, exists := r.matches[id]; exists {
			continue
		}
		return r.create(id)
	}
	return nil, fmt.Errorf("create match: %w", apperrors.ErrMatchExists.WithDetails("id space exhausted"))
}

// create 插入 waiting 狀態的對局；ID 已存在時失敗
func (r *MatchRegistry) create(id string) (*Match, error) {
	if _, exists := r.matches[id]; exists {
		return nil, fmt.Errorf("create match %s: %w", id, apperrors.ErrMatchExists)
	}
	m := newMatch(id, r.now())
	r.matches[id] = m

	r.logger.Info("對局已創建", "match_id", id)
	r.observer.MatchCreated(MatchInfo{MatchID: id, At: m.CreatedAt})
	return m, nil
}

// Get 查詢對局
func (r *MatchRegistry) Get(matchID string) (*Match, bool) {
	m, ok := r.matches[matchID]
	return m, ok
}

// Len 對局數量
func (r *MatchRegistry) Len() int {
	return len(r.matches)
}

// CountByStatus 依狀態統計對局
func (r *MatchRegistry) CountByStatus() map[MatchStatus]int {
	out := make(map[MatchStatus]int, 3)
	for _, m := range r.matches {
		out[m.Status]++
	}
	return out
}

// Join 連線加入對局
//
// 先檢查存在再讀取任何欄位。只有 waiting 且未滿的對局接受加入，
// 否則返回 ErrMatchNotFound（「不存在或已滿」）。
// 所有檢查通過前不動原本的綁定，加入失敗時舊對局保持不變。
func (r *MatchRegistry) Join(matchID, connID string) (*Player, error) {
	m, ok := r.matches[matchID]
	if !ok {
		return nil, apperrors.ErrMatchNotFound
	}
	if m.Status != StatusWaiting || len(m.Players) >= r.maxPlayers {
		return nil, apperrors.ErrMatchNotFound
	}

	session, ok := r.sessions.Get(connID)
	if !ok {
		return nil, apperrors.ErrSessionGone
	}
	if err := r.leavePrevious(session, matchID); err != nil {
		return nil, err
	}

	player := &Player{
		ID:         connID,
		X:          r.spawnCoord(),
		Y:          r.spawnCoord(),
		Rotation:   0,
		BaseHealth: InitialBaseHealth,
	}
	m.Players[connID] = player
	m.members[connID] = struct{}{}
	m.roster = append(m.roster, connID)
	r.sessions.Bind(connID, matchID)

	r.logger.Info("玩家加入對局",
		"match_id", matchID,
		"conn_id", connID,
		"players", len(m.Players))

	r.broadcast(m, "", EventInit, m.Snapshot())

	if len(m.Players) == r.maxPlayers {
		if err := m.transition(StatusPlaying); err != nil {
			return player, err
		}
		m.StartedAt = r.now()
		r.logger.Info("對局開始", "match_id", matchID)
		r.broadcast(m, "", EventMatchStart, MsgMatchStarted)
		r.observer.MatchStarted(MatchInfo{MatchID: matchID, Players: append([]string(nil), m.roster...), At: m.StartedAt})
	}

	return player, nil
}

// leavePrevious 處理 session 已綁定其他對局的情況
//
// 仍是未結束對局的玩家時拒絕；已結束或已淘汰的舊對局先退出廣播群組。
func (r *MatchRegistry) leavePrevious(s *Session, target string) error {
	if s.MatchID == "" {
		return nil
	}
	prev, ok := r.matches[s.MatchID]
	if !ok {
		s.MatchID = ""
		return nil
	}
	_, isPlayer := prev.Players[s.ConnID]
	if isPlayer && (prev.Status != StatusFinished || prev.ID == target) {
		return apperrors.ErrAlreadyInMatch
	}
	if prev.ID == target {
		return nil
	}

	delete(prev.members, s.ConnID)
	s.MatchID = ""
	if isPlayer {
		r.RemovePlayer(prev.ID, s.ConnID, "")
	}
	return nil
}

// Leave 將連線移出廣播群組（斷線時使用）
func (r *MatchRegistry) Leave(matchID, connID string) {
	if m, ok := r.matches[matchID]; ok {
		delete(m.members, connID)
	}
	r.sessions.Unbind(connID, matchID)
}

// RemovePlayer 移除玩家並執行勝負判定
//
//   - playing 且剩一名玩家：轉為 finished，廣播 matchEnd
//   - 沒有玩家：立即刪除對局，沒有對象可廣播
func (r *MatchRegistry) RemovePlayer(matchID, connID, reason string) {
	m, ok := r.matches[matchID]
	if !ok {
		return
	}
	delete(m.Players, connID)

	if winnerID, ok := m.soleSurvivor(); ok && m.Status == StatusPlaying {
		if err := m.transition(StatusFinished); err != nil {
			r.logger.Error("狀態轉換失敗", "match_id", matchID, "error", err)
			return
		}
		m.EndedAt = r.now()
		r.logger.Info("對局結束",
			"match_id", matchID,
			"winner_id", winnerID,
			"reason", reason)
		r.broadcast(m, "", EventMatchEnd, MatchEndPayload{WinnerID: winnerID, Reason: reason})
		r.observer.MatchEnded(r.result(m, winnerID, reason))
	}

	if len(m.Players) == 0 {
		r.delete(m)
	}
}

// Expire 刪除無人加入且超過 TTL 的 waiting 對局，返回被刪除的 ID
//
// 配對後雙方都沒有加入（例如其中一方在通知前斷線）的對局靠這裡回收。
func (r *MatchRegistry) Expire(now time.Time) []string {
	if r.waitingTTL <= 0 {
		return nil
	}
	var expired []string
	for id, m := range r.matches {
		if m.Status == StatusWaiting && len(m.Players) == 0 && now.Sub(m.CreatedAt) > r.waitingTTL {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		r.logger.Info("等待中對局已過期", "match_id", id)
		r.delete(r.matches[id])
	}
	return expired
}

// Playing 返回所有 playing 狀態的對局
func (r *MatchRegistry) Playing() []*Match {
	var out []*Match
	for _, m := range r.matches {
		if m.Status == StatusPlaying {
			out = append(out, m)
		}
	}
	return out
}

func (r *MatchRegistry) delete(m *Match) {
	for id := range m.members {
		r.sessions.Unbind(id, m.ID)
	}
	delete(r.matches, m.ID)
	r.logger.Info("對局已移除", "match_id", m.ID)
}

func (r *MatchRegistry) broadcast(m *Match, except, event string, data any) {
	r.sessions.Multicast(m.Members(), except, event, data)
}

func (r *MatchRegistry) result(m *Match, winnerID, reason string) MatchResult {
	losers := make([]string, 0, len(m.roster))
	for _, id := range m.roster {
		if id != winnerID {
			losers = append(losers, id)
		}
	}
	return MatchResult{
		MatchID:   m.ID,
		WinnerID:  winnerID,
		LoserIDs:  losers,
		Reason:    reason,
		StartedAt: m.StartedAt,
		EndedAt:   m.EndedAt,
	}
}

func (r *MatchRegistry) spawnCoord() float64 {
	return float64((spawnCellMin + r.rng.IntN(spawnCellMax-spawnCellMin)) * spawnCellSize)
}

// generateMatchID 生成簡短的對局 ID（如 "K3ZQ"）
func generateMatchID() string {
	b := make([]byte, matchIDLength)
	if _, err := rand.Read(b); err != nil {
		// 如果隨機讀取失敗，使用時間作為隨機源
		n := time.Now().UnixNano()
		for i := range b {
			b[i] = byte(n >> (8 * i))
		}
	}
	for i := range b {
		b[i] = matchIDChars[int(b[i])%len(matchIDChars)]
	}
	return string(b)
}
