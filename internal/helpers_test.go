package internal_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	mrand "math/rand/v2"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-tank-arena/internal"
	"github.com/stretchr/testify/require"
)

// 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // 測試時只顯示錯誤
	}))
}

func testGameConfig() internal.GameConfig {
	cfg := internal.DefaultConfig().Game
	cfg.TickRate = 10 * time.Millisecond
	cfg.MatchmakingInterval = 20 * time.Millisecond
	return cfg
}

// recorder 收集送往單一連線的事件
type recorder struct {
	mu     sync.Mutex
	events []internal.InboundEvent
	fail   bool
}

func (r *recorder) Send(msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail {
		return errors.New("send failed")
	}
	in, err := internal.Decode(msg)
	if err != nil {
		return err
	}
	r.events = append(r.events, in)
	return nil
}

// names 依序返回收到的事件名稱
func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// only 返回指定名稱的事件
func (r *recorder) only(name string) []internal.InboundEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []internal.InboundEvent
	for _, e := range r.events {
		if e.Type == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) last(t *testing.T) internal.InboundEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	require.NotEmpty(t, r.events, "no events received")
	return r.events[len(r.events)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// decodeAs 解析事件 payload
func decodeAs[T any](t *testing.T, in internal.InboundEvent) T {
	t.Helper()
	v, err := internal.DecodeData[T](in)
	require.NoError(t, err)
	return v
}

// sequentialIDs 依序產生 M001、M002……
func sequentialIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("M%03d", n)
	}
}

// fakeClock 可手動推進的時鐘
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// observerSpy 記錄生命週期通知
type observerSpy struct {
	mu      sync.Mutex
	created []internal.MatchInfo
	started []internal.MatchInfo
	ended   []internal.MatchResult
}

func (o *observerSpy) MatchCreated(info internal.MatchInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created = append(o.created, info)
}

func (o *observerSpy) MatchStarted(info internal.MatchInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, info)
}

func (o *observerSpy) MatchEnded(result internal.MatchResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended = append(o.ended, result)
}

// newTestEngine 事件迴圈不啟動，測試直接呼叫同步回呼
func newTestEngine(t *testing.T, opts ...internal.Option) *internal.Engine {
	t.Helper()
	base := []internal.Option{
		internal.WithIDGenerator(sequentialIDs()),
		internal.WithRand(mrand.New(mrand.NewPCG(1, 2))),
	}
	return internal.NewEngine(testGameConfig(), testLogger(), append(base, opts...)...)
}

// connectAll 為每個 ID 建立 session
func connectAll(e *internal.Engine, ids ...string) map[string]*recorder {
	out := make(map[string]*recorder, len(ids))
	for _, id := range ids {
		rec := &recorder{}
		e.OnConnect(id, rec)
		out[id] = rec
	}
	return out
}

func frame(t *testing.T, event string, data any) []byte {
	t.Helper()
	b, err := internal.Encode(event, data)
	require.NoError(t, err)
	return b
}

// startMatch 讓 a、b 經由配對與加入進入一場 playing 對局，返回對局 ID
//
// 返回前清空兩者已收到的事件。
func startMatch(t *testing.T, e *internal.Engine, recs map[string]*recorder, a, b string) string {
	t.Helper()

	require.NoError(t, e.FindMatch(a))
	require.NoError(t, e.FindMatch(b))
	e.Matchmake()

	found := recs[a].only(internal.EventMatchFound)
	require.Len(t, found, 1)
	matchID := decodeAs[internal.MatchFoundPayload](t, found[0]).MatchID

	require.NoError(t, e.JoinMatch(a, matchID))
	require.NoError(t, e.JoinMatch(b, matchID))

	m, ok := e.Registry().Get(matchID)
	require.True(t, ok)
	require.Equal(t, internal.StatusPlaying, m.Status)

	recs[a].reset()
	recs[b].reset()
	return matchID
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
