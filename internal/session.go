package internal

import (
	"log/slog"
	"time"

	apperrors "github.com/koopa0/system-design/14-tank-arena/pkg/errors"
)

// Conn 連線的輸出端
//
// Send 不可阻塞；緩衝區滿或連線已關閉時返回錯誤。
type Conn interface {
	Send(msg []byte) error
}

// Session 一條存活連線與其所在對局的綁定
type Session struct {
	ConnID   string
	MatchID  string // 空字串表示未加入對局
	OpenedAt time.Time

	conn Conn
}

// SessionRegistry connID → Session
//
// 只在 Engine 的事件迴圈中存取，因此不需要鎖。
type SessionRegistry struct {
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewSessionRegistry 創建 session 表
func NewSessionRegistry(logger *slog.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Open 建立 session；同 ID 重複建立時取代舊的輸出端
func (r *SessionRegistry) Open(connID string, conn Conn, now time.Time) *Session {
	s := &Session{ConnID: connID, OpenedAt: now, conn: conn}
	r.sessions[connID] = s
	return s
}

// Close 移除 session 並返回它
func (r *SessionRegistry) Close(connID string) (*Session, bool) {
	s, ok := r.sessions[connID]
	if ok {
		delete(r.sessions, connID)
	}
	return s, ok
}

// Get 查詢 session
func (r *SessionRegistry) Get(connID string) (*Session, bool) {
	s, ok := r.sessions[connID]
	return s, ok
}

// Bind 記錄 session 目前的對局
func (r *SessionRegistry) Bind(connID, matchID string) {
	if s, ok := r.sessions[connID]; ok {
		s.MatchID = matchID
	}
}

// Unbind 清除 session 的對局，只在仍指向 matchID 時清除
func (r *SessionRegistry) Unbind(connID, matchID string) {
	if s, ok := r.sessions[connID]; ok && s.MatchID == matchID {
		s.MatchID = ""
	}
}

// Len 存活 session 數量
func (r *SessionRegistry) Len() int {
	return len(r.sessions)
}

// Send 點對點發送事件
func (r *SessionRegistry) Send(connID, event string, data any) error {
	s, ok := r.sessions[connID]
	if !ok {
		return apperrors.ErrSessionGone
	}
	msg, err := Encode(event, data)
	if err != nil {
		return err
	}
	return s.conn.Send(msg)
}

// Multicast 發送同一事件給多個連線，except 不為空時略過該連線
//
// 訊息只編碼一次；單一連線發送失敗不影響其他連線。
func (r *SessionRegistry) Multicast(connIDs []string, except, event string, data any) {
	msg, err := Encode(event, data)
	if err != nil {
		r.logger.Error("編碼事件失敗", "event", event, "error", err)
		return
	}
	for _, id := range connIDs {
		if id == except {
			continue
		}
		s, ok := r.sessions[id]
		if !ok {
			continue
		}
		if err := s.conn.Send(msg); err != nil {
			r.logger.Warn("發送事件失敗",
				"event", event,
				"conn_id", id,
				"error", err)
		}
	}
}
