package internal

import (
	"context"
	"errors"
	"log/slog"
	mrand "math/rand/v2"
	"time"

	apperrors "github.com/koopa0/system-design/14-tank-arena/pkg/errors"
	"github.com/koopa0/system-design/14-tank-arena/pkg/logger"
)

// Engine 對局生命週期引擎
//
// 單一事件迴圈（Run）獨佔佇列、對局表與 session 表：
//
//	傳輸層 goroutine ──→ inbox (buffered chan) ──┐
//	tick ticker（預設 30 Hz）───────────────────┼──→ Run 逐一執行
//	matchmaker ticker（預設 2 s）───────────────┘
//
// 任兩個回呼不會同時執行，每個回呼執行完畢才處理下一個，
// 因此共享狀態不需要鎖。同一連線的訊息依投遞順序處理。
//
// On* / FindMatch / Tick / Matchmake 等方法是迴圈內的同步回呼，
// 只能在迴圈中（或尚未啟動迴圈的測試中）呼叫；
// 其他 goroutine 使用 Connect / Receive / Disconnect / Query。
type Engine struct {
	cfg      GameConfig
	sessions *SessionRegistry
	queue    *MatchQueue
	registry *MatchRegistry
	relay    *Relay
	now      func() time.Time
	logger   *slog.Logger

	inbox chan func()
	done  chan struct{}
}

// Option 引擎選項
type Option func(*Engine)

// WithIDGenerator 替換對局 ID 產生器
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.registry.newID = fn }
}

// WithRand 替換出生點使用的亂數來源
func WithRand(rng *mrand.Rand) Option {
	return func(e *Engine) { e.registry.rng = rng }
}

// WithClock 替換時鐘
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
		e.registry.now = now
	}
}

// WithObserver 設定對局生命週期的觀察者
func WithObserver(obs MatchObserver) Option {
	return func(e *Engine) {
		if obs != nil {
			e.registry.observer = obs
		}
	}
}

// NewEngine 創建引擎
func NewEngine(cfg GameConfig, logger *slog.Logger, opts ...Option) *Engine {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	sessions := NewSessionRegistry(logger)
	registry := NewMatchRegistry(sessions, cfg, logger)

	e := &Engine{
		cfg:      cfg,
		sessions: sessions,
		queue:    NewMatchQueue(),
		registry: registry,
		relay:    NewRelay(registry, sessions, logger),
		now:      time.Now,
		logger:   logger,
		inbox:    make(chan func(), cfg.InboxSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run 執行事件迴圈直到 ctx 取消
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	tick := time.NewTicker(e.cfg.TickRate)
	defer tick.Stop()
	matchmaking := time.NewTicker(e.cfg.MatchmakingInterval)
	defer matchmaking.Stop()

	e.logger.Info("事件迴圈啟動",
		"tick_rate", e.cfg.TickRate,
		"matchmaking_interval", e.cfg.MatchmakingInterval)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("事件迴圈停止")
			return ctx.Err()
		case cmd := <-e.inbox:
			cmd()
		case <-tick.C:
			e.Tick()
		case <-matchmaking.C:
			e.Matchmake()
		}
	}
}

// post 將命令排入事件迴圈
//
// inbox 滿時阻塞，讓慢的事件迴圈對讀取端形成背壓。
// 迴圈已停止時一律失敗，不會把命令留在 inbox。
func (e *Engine) post(ctx context.Context, cmd func()) error {
	select {
	case <-e.done:
		return apperrors.ErrUnavailable
	default:
	}

	select {
	case e.inbox <- cmd:
		return nil
	case <-e.done:
		return apperrors.ErrUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect 非同步登記新連線
func (e *Engine) Connect(ctx context.Context, connID string, conn Conn) error {
	return e.post(ctx, func() { e.OnConnect(connID, conn) })
}

// Receive 非同步處理一個入站訊息幀
func (e *Engine) Receive(ctx context.Context, connID string, frame []byte) error {
	return e.post(ctx, func() { e.OnMessage(connID, frame) })
}

// Disconnect 非同步處理斷線
func (e *Engine) Disconnect(ctx context.Context, connID string) error {
	return e.post(ctx, func() { e.OnDisconnect(connID) })
}

// Query 在事件迴圈中執行 fn 並等待完成
func (e *Engine) Query(ctx context.Context, fn func(*Engine)) error {
	finished := make(chan struct{})
	if err := e.post(ctx, func() {
		defer close(finished)
		fn(e)
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		return apperrors.ErrUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnConnect 建立 session
func (e *Engine) OnConnect(connID string, conn Conn) {
	e.sessions.Open(connID, conn, e.now())
	e.logger.Info("連線建立", "conn_id", connID, "sessions", e.sessions.Len())
}

// OnMessage 解析並分派入站事件
func (e *Engine) OnMessage(connID string, frame []byte) {
	in, err := Decode(frame)
	if err != nil {
		e.logger.Warn("無法解析訊息", "conn_id", connID, "error", err)
		return
	}

	switch in.Type {
	case EventFindMatch:
		err = e.FindMatch(connID)
	case EventCancelMatchmaking:
		err = e.CancelMatchmaking(connID)
	case EventJoinMatch:
		var p JoinMatchPayload
		if p, err = DecodeData[JoinMatchPayload](in); err == nil {
			err = e.JoinMatch(connID, p.RoomID)
		}
	case EventPlayerMovement:
		var p MovementPayload
		if p, err = DecodeData[MovementPayload](in); err == nil {
			err = e.relay.Movement(connID, p)
		}
	case EventShoot:
		var p ShootPayload
		if p, err = DecodeData[ShootPayload](in); err == nil {
			err = e.relay.Shoot(connID, p.Bullet)
		}
	case EventBaseHit:
		var p TargetPayload
		if p, err = DecodeData[TargetPayload](in); err == nil {
			err = e.relay.BaseHit(connID, p.ID)
		}
	case EventPlayerHit:
		var p TargetPayload
		if p, err = DecodeData[TargetPayload](in); err == nil {
			err = e.relay.PlayerHit(connID, p.ID)
		}
	default:
		e.logger.Debug("收到未知事件", "conn_id", connID, "event", in.Type)
		return
	}

	if err != nil {
		e.logDropped(connID, in.Type, err)
	}
}

// logDropped 記錄被丟棄的動作；狀態不符屬於正常情況，只記錄 debug
func (e *Engine) logDropped(connID, event string, err error) {
	level := slog.LevelWarn
	if apperrors.IsUserState(err) || apperrors.IsNotFound(err) {
		level = slog.LevelDebug
	}
	e.logger.Log(context.Background(), level, "動作已丟棄",
		"conn_id", connID,
		"event", event,
		"error", err)
}

// OnDisconnect 處理連線中斷
//
// 先退出佇列；若綁定存活的對局，通知其他人 deathPlayer，
// 再以 opponent_left 移除玩家並做勝負判定；最後刪除 session。
func (e *Engine) OnDisconnect(connID string) {
	e.queue.Remove(connID)

	s, ok := e.sessions.Get(connID)
	if !ok {
		return
	}

	if matchID := s.MatchID; matchID != "" {
		if m, ok := e.registry.Get(matchID); ok {
			e.sessions.Multicast(m.Members(), connID, EventDeathPlayer, TargetPayload{ID: connID})
			e.registry.Leave(matchID, connID)
			e.registry.RemovePlayer(matchID, connID, ReasonOpponentLeft)
		}
	}

	e.sessions.Close(connID)
	e.logger.Info("連線中斷", "conn_id", connID, "sessions", e.sessions.Len())
}

// FindMatch 加入配對佇列
func (e *Engine) FindMatch(connID string) error {
	if _, ok := e.sessions.Get(connID); !ok {
		return apperrors.ErrSessionGone
	}

	size, err := e.queue.Enqueue(connID)
	if errors.Is(err, apperrors.ErrAlreadyQueued) {
		return e.sessions.Send(connID, EventMatchStatus, MatchStatusPayload{Status: QueueStatusAlreadyQueued})
	}
	if err != nil {
		return err
	}

	e.logger.Debug("加入配對佇列", "conn_id", connID, "queue_size", size)
	return e.sessions.Send(connID, EventMatchStatus, MatchStatusPayload{
		Status:    QueueStatusWaiting,
		QueueSize: size,
	})
}

// CancelMatchmaking 退出配對佇列
func (e *Engine) CancelMatchmaking(connID string) error {
	if e.queue.Remove(connID) {
		e.logger.Debug("退出配對佇列", "conn_id", connID)
	}
	return e.sessions.Send(connID, EventMatchStatus, MatchStatusPayload{Status: QueueStatusCancelled})
}

// JoinMatch 加入指定對局
//
// 不存在或已滿的房間以 matchError 回覆發送者。
func (e *Engine) JoinMatch(connID, matchID string) error {
	_, err := e.registry.Join(matchID, connID)
	switch {
	case err == nil:
		e.queue.Remove(connID)
		return nil
	case apperrors.IsNotFound(err):
		return e.sessions.Send(connID, EventMatchError, MsgRoomNotFound)
	case errors.Is(err, apperrors.ErrAlreadyInMatch):
		return e.sessions.Send(connID, EventMatchError, MsgAlreadyInMatch)
	default:
		return err
	}
}

// Tick 向每場 playing 對局廣播完整玩家狀態
func (e *Engine) Tick() {
	for _, m := range e.registry.Playing() {
		e.sessions.Multicast(m.Members(), "", EventGameState, m.Snapshot())
	}
}

// Matchmake 每次最多配對一組，並回收過期的等待中對局
func (e *Engine) Matchmake() {
	defer e.registry.Expire(e.now())

	first, second, ok := e.queue.DequeuePair()
	if !ok {
		return
	}

	m, err := e.registry.Create()
	if err != nil {
		e.logger.Error("創建對局失敗", "error", err)
		return
	}

	ctx := logger.WithMatchID(context.Background(), m.ID)
	e.logger.InfoContext(ctx, "配對成功", "first", first, "second", second)

	for _, connID := range []string{first, second} {
		err := e.sessions.Send(connID, EventMatchFound, MatchFoundPayload{MatchID: m.ID})
		switch {
		case err == nil:
		case apperrors.IsRace(err):
			e.logger.WarnContext(ctx, "配對後連線已消失", "conn_id", connID, "error", err)
		default:
			e.logger.WarnContext(ctx, "通知配對結果失敗", "conn_id", connID, "error", err)
		}
	}
}

// Stats 引擎統計
type Stats struct {
	Sessions       int                 `json:"sessions"`
	QueueSize      int                 `json:"queue_size"`
	Matches        int                 `json:"matches"`
	MatchesByState map[MatchStatus]int `json:"matches_by_status"`
}

// Stats 在事件迴圈中讀取統計
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := e.Query(ctx, func(e *Engine) {
		out = e.snapshotStats()
	})
	return out, err
}

func (e *Engine) snapshotStats() Stats {
	return Stats{
		Sessions:       e.sessions.Len(),
		QueueSize:      e.queue.Len(),
		Matches:        e.registry.Len(),
		MatchesByState: e.registry.CountByStatus(),
	}
}

// ClearQueue 清空配對佇列，返回移除的數量
func (e *Engine) ClearQueue(ctx context.Context) (int, error) {
	var n int
	err := e.Query(ctx, func(e *Engine) {
		n = e.queue.Clear()
		e.logger.Info("配對佇列已清空", "removed", n)
	})
	return n, err
}

// Sessions 測試與診斷用
func (e *Engine) Sessions() *SessionRegistry { return e.sessions }

// Registry 測試與診斷用
func (e *Engine) Registry() *MatchRegistry { return e.registry }

// Queue 測試與診斷用
func (e *Engine) Queue() *MatchQueue { return e.queue }
