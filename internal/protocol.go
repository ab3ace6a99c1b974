package internal

import (
	"encoding/json"
	"fmt"
)

// 客戶端 → 服務器事件
const (
	EventFindMatch         = "findMatch"
	EventCancelMatchmaking = "cancelMatchmaking"
	EventJoinMatch         = "joinMatch"
	EventPlayerMovement    = "playerMovement"
	EventShoot             = "shoot"
	EventBaseHit           = "baseHit"
	EventPlayerHit         = "playerHit"
)

// 服務器 → 客戶端事件
const (
	EventMatchStatus   = "matchStatus"
	EventMatchFound    = "matchFound"
	EventMatchError    = "matchError"
	EventInit          = "init"
	EventMatchStart    = "matchStart"
	EventGameState     = "gameState"
	EventBaseDestroyed = "baseDestroyed"
	EventDeathPlayer   = "deathPlayer"
	EventMatchEnd      = "matchEnd"
)

// matchStatus 的狀態值
const (
	QueueStatusWaiting       = "waiting"
	QueueStatusAlreadyQueued = "already_queued"
	QueueStatusCancelled     = "cancelled"
)

// 對外訊息文字
const (
	MsgMatchStarted    = "Match started!"
	MsgRoomNotFound    = "Room not found or full."
	MsgAlreadyInMatch  = "Already in a match."
	ReasonOpponentLeft = "opponent_left"
)

// Event 線上傳輸的事件信封
//
// 雙向都使用 {"event": "...", "data": ...} 的 JSON 文字幀。
type Event struct {
	Type string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// InboundEvent 尚未解析 payload 的事件
type InboundEvent struct {
	Type string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode 編碼事件
func Encode(event string, data any) ([]byte, error) {
	if event == "" {
		return nil, fmt.Errorf("encode: empty event name")
	}
	return json.Marshal(Event{Type: event, Data: data})
}

// Decode 解析事件信封
func Decode(b []byte) (InboundEvent, error) {
	if len(b) == 0 {
		return InboundEvent{}, fmt.Errorf("decode: empty frame")
	}
	var in InboundEvent
	if err := json.Unmarshal(b, &in); err != nil {
		return InboundEvent{}, fmt.Errorf("decode: %w", err)
	}
	if in.Type == "" {
		return InboundEvent{}, fmt.Errorf("decode: missing event name")
	}
	return in, nil
}

// DecodeData 將 payload 解析為指定型別
func DecodeData[T any](in InboundEvent) (T, error) {
	var out T
	if len(in.Data) == 0 {
		return out, fmt.Errorf("empty payload for event %q", in.Type)
	}
	if err := json.Unmarshal(in.Data, &out); err != nil {
		return out, fmt.Errorf("payload for event %q: %w", in.Type, err)
	}
	return out, nil
}

// MatchStatusPayload matchStatus 事件
type MatchStatusPayload struct {
	Status    string `json:"status"`
	QueueSize int    `json:"queueSize,omitempty"`
}

// MatchFoundPayload matchFound 事件
type MatchFoundPayload struct {
	MatchID string `json:"matchId"`
}

// JoinMatchPayload joinMatch 事件
//
// 舊版客戶端直接送出房間 ID 字串，兩種格式都接受。
type JoinMatchPayload struct {
	RoomID string `json:"roomId"`
}

// UnmarshalJSON 同時接受 {"roomId": "ABCD"} 與 "ABCD"
func (p *JoinMatchPayload) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		p.RoomID = id
		return nil
	}
	type plain JoinMatchPayload
	var v plain
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = JoinMatchPayload(v)
	return nil
}

// MovementPayload playerMovement 事件
type MovementPayload struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation"`
}

// ShootPayload shoot 事件（客戶端 → 服務器）
//
// bullet 原樣轉發，服務器不解析內容。
type ShootPayload struct {
	Bullet json.RawMessage `json:"bullet"`
}

// ShotPayload shoot 事件（服務器 → 其他玩家）
type ShotPayload struct {
	PlayerID string          `json:"playerId"`
	Bullet   json.RawMessage `json:"bullet"`
}

// TargetPayload baseHit/playerHit/baseDestroyed/deathPlayer 共用
type TargetPayload struct {
	ID string `json:"id"`
}

// MatchEndPayload matchEnd 事件
type MatchEndPayload struct {
	WinnerID string `json:"winnerId"`
	Reason   string `json:"reason,omitempty"`
}
