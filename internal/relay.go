package internal

import (
	"encoding/json"
	"log/slog"

	apperrors "github.com/koopa0/system-design/14-tank-arena/pkg/errors"
)

// Relay 轉發對局中的玩家動作
//
// 服務器信任客戶端回報的位置與命中，不做任何驗證。
// 每個動作都要求發送者綁定一場 playing 的對局，否則返回 USER_STATE 錯誤，
// 由呼叫端靜默丟棄。
type Relay struct {
	registry *MatchRegistry
	sessions *SessionRegistry
	logger   *slog.Logger
}

// NewRelay 創建動作轉發器
func NewRelay(registry *MatchRegistry, sessions *SessionRegistry, logger *slog.Logger) *Relay {
	return &Relay{
		registry: registry,
		sessions: sessions,
		logger:   logger,
	}
}

// playing 返回發送者所在且正在進行的對局
func (r *Relay) playing(connID string) (*Match, error) {
	s, ok := r.sessions.Get(connID)
	if !ok {
		return nil, apperrors.ErrSessionGone
	}
	if s.MatchID == "" {
		return nil, apperrors.ErrNoMatch
	}
	m, ok := r.registry.Get(s.MatchID)
	if !ok {
		return nil, apperrors.ErrNoMatch
	}
	if m.Status != StatusPlaying {
		return nil, apperrors.ErrNotPlaying
	}
	return m, nil
}

// Movement 覆寫發送者的位置與角度
func (r *Relay) Movement(connID string, mv MovementPayload) error {
	m, err := r.playing(connID)
	if err != nil {
		return err
	}
	p, ok := m.Players[connID]
	if !ok {
		return apperrors.ErrPlayerNotFound
	}
	p.X, p.Y, p.Rotation = mv.X, mv.Y, mv.Rotation
	return nil
}

// Shoot 將子彈原樣轉發給對局中的其他連線
func (r *Relay) Shoot(connID string, bullet json.RawMessage) error {
	m, err := r.playing(connID)
	if err != nil {
		return err
	}
	r.sessions.Multicast(m.Members(), connID, EventShoot, ShotPayload{
		PlayerID: connID,
		Bullet:   bullet,
	})
	return nil
}

// BaseHit 扣減目標基地血量
//
// 血量歸零時廣播 baseDestroyed，再移除該玩家並做勝負判定。
func (r *Relay) BaseHit(connID, victimID string) error {
	m, err := r.playing(connID)
	if err != nil {
		return err
	}
	victim, ok := m.Players[victimID]
	if !ok {
		return apperrors.ErrPlayerNotFound
	}

	if victim.BaseHealth > 1 {
		victim.BaseHealth--
		r.logger.Debug("基地受損",
			"match_id", m.ID,
			"victim_id", victimID,
			"base_health", victim.BaseHealth)
		return nil
	}

	victim.BaseHealth = 0
	r.logger.Info("基地被摧毀", "match_id", m.ID, "victim_id", victimID)
	r.sessions.Multicast(m.Members(), "", EventBaseDestroyed, TargetPayload{ID: victimID})
	r.registry.RemovePlayer(m.ID, victimID, "")
	return nil
}

// PlayerHit 廣播坦克被擊中；不影響對局結果
func (r *Relay) PlayerHit(connID, victimID string) error {
	m, err := r.playing(connID)
	if err != nil {
		return err
	}
	if _, ok := m.Players[victimID]; !ok {
		return apperrors.ErrPlayerNotFound
	}
	r.sessions.Multicast(m.Members(), "", EventDeathPlayer, TargetPayload{ID: victimID})
	return nil
}
