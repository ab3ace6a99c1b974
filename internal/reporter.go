package internal

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MatchObserver 接收對局生命週期通知
//
// 由事件迴圈同步呼叫，實作不可阻塞。
type MatchObserver interface {
	MatchCreated(info MatchInfo)
	MatchStarted(info MatchInfo)
	MatchEnded(result MatchResult)
}

// MatchInfo 對局建立／開始的通知內容
type MatchInfo struct {
	MatchID string
	Players []string
	At      time.Time
}

// MatchResult 一場已分勝負的對局
type MatchResult struct {
	MatchID   string    `json:"match_id"`
	WinnerID  string    `json:"winner_id"`
	LoserIDs  []string  `json:"loser_ids"`
	Reason    string    `json:"reason,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// LifecycleType 生命週期事件類型
type LifecycleType string

const (
	LifecycleCreated LifecycleType = "created"
	LifecycleStarted LifecycleType = "started"
	LifecycleEnded   LifecycleType = "ended"
)

// LifecycleEvent 發佈到事件匯流排的內容
type LifecycleEvent struct {
	Type     LifecycleType `json:"type"`
	MatchID  string        `json:"match_id"`
	Players  []string      `json:"players,omitempty"`
	WinnerID string        `json:"winner_id,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	At       time.Time     `json:"at"`
}

// ResultStore 對局結果封存（PostgreSQL）
type ResultStore interface {
	Save(ctx context.Context, result MatchResult) error
}

// WinCounter 勝場排行（Redis）
type WinCounter interface {
	RecordWin(ctx context.Context, playerID string) error
}

// EventPublisher 生命週期事件發佈（NATS）
type EventPublisher interface {
	Publish(ctx context.Context, event LifecycleEvent) error
}

// Sinks Reporter 的輸出端，未設定的欄位為 nil
type Sinks struct {
	Results   ResultStore
	Wins      WinCounter
	Publisher EventPublisher
}

// ReporterConfig Reporter 設定
type ReporterConfig struct {
	BufferSize int
	Timeout    time.Duration // 單次 sink 呼叫的逾時
}

// Reporter 將對局通知非同步地送往外部系統
//
// 架構：
//
//	事件迴圈 → items (buffered chan) → worker → PostgreSQL / Redis / NATS
//
// 事件迴圈只做非阻塞投遞；緩衝區滿時丟棄並記錄，不影響對局。
// sink 失敗只記錄日誌，不重試。
type Reporter struct {
	sinks   Sinks
	cfg     ReporterConfig
	logger  *slog.Logger
	items   chan reportItem
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped int64
}

type reportItem struct {
	event  LifecycleEvent
	result *MatchResult
}

// NewReporter 創建並啟動 Reporter
func NewReporter(sinks Sinks, cfg ReporterConfig, logger *slog.Logger) *Reporter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	r := &Reporter{
		sinks:  sinks,
		cfg:    cfg,
		logger: logger,
		items:  make(chan reportItem, cfg.BufferSize),
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// MatchCreated 實現 MatchObserver
func (r *Reporter) MatchCreated(info MatchInfo) {
	r.post(reportItem{event: LifecycleEvent{
		Type:    LifecycleCreated,
		MatchID: info.MatchID,
		Players: info.Players,
		At:      info.At,
	}})
}

// MatchStarted 實現 MatchObserver
func (r *Reporter) MatchStarted(info MatchInfo) {
	r.post(reportItem{event: LifecycleEvent{
		Type:    LifecycleStarted,
		MatchID: info.MatchID,
		Players: info.Players,
		At:      info.At,
	}})
}

// MatchEnded 實現 MatchObserver
func (r *Reporter) MatchEnded(result MatchResult) {
	res := result
	r.post(reportItem{
		event: LifecycleEvent{
			Type:     LifecycleEnded,
			MatchID:  result.MatchID,
			Players:  append([]string{result.WinnerID}, result.LoserIDs...),
			WinnerID: result.WinnerID,
			Reason:   result.Reason,
			At:       result.EndedAt,
		},
		result: &res,
	})
}

// Dropped 因緩衝區滿而丟棄的數量
func (r *Reporter) Dropped() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}

func (r *Reporter) post(item reportItem) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	select {
	case r.items <- item:
	default:
		r.dropped++
		r.logger.Warn("通知緩衝區已滿，丟棄項目",
			"type", item.event.Type,
			"match_id", item.event.MatchID)
	}
}

func (r *Reporter) worker() {
	defer r.wg.Done()

	for item := range r.items {
		r.deliver(item)
	}
}

func (r *Reporter) deliver(item reportItem) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	if item.result != nil {
		if r.sinks.Results != nil {
			if err := r.sinks.Results.Save(ctx, *item.result); err != nil {
				r.logger.Error("封存對局結果失敗",
					"match_id", item.result.MatchID,
					"error", err)
			}
		}
		if r.sinks.Wins != nil && item.result.WinnerID != "" {
			if err := r.sinks.Wins.RecordWin(ctx, item.result.WinnerID); err != nil {
				r.logger.Error("記錄勝場失敗",
					"match_id", item.result.MatchID,
					"winner_id", item.result.WinnerID,
					"error", err)
			}
		}
	}

	if r.sinks.Publisher != nil {
		if err := r.sinks.Publisher.Publish(ctx, item.event); err != nil {
			r.logger.Warn("發佈生命週期事件失敗",
				"type", item.event.Type,
				"match_id", item.event.MatchID,
				"error", err)
		}
	}
}

// Shutdown 停止接收並等待已排入的項目送出
func (r *Reporter) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.items)
	r.mu.Unlock()

	r.wg.Wait()
}

// nopObserver 未設定 Reporter 時使用
type nopObserver struct{}

func (nopObserver) MatchCreated(MatchInfo) {}
func (nopObserver) MatchStarted(MatchInfo) {}
func (nopObserver) MatchEnded(MatchResult) {}
