package internal_test

import (
	"testing"

	"github.com/koopa0/system-design/14-tank-arena/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRelay_BaseDestroyedEndsMatch 三次 baseHit 後只產生一次 baseDestroyed 與 matchEnd
func TestRelay_BaseDestroyedEndsMatch(t *testing.T) {
	spy := &observerSpy{}
	e := newTestEngine(t, internal.WithObserver(spy))
	recs := connectAll(e, "A", "B")
	matchID := startMatch(t, e, recs, "A", "B")

	hit := frame(t, internal.EventBaseHit, internal.TargetPayload{ID: "B"})
	e.OnMessage("A", hit)
	e.OnMessage("A", hit)

	m, ok := e.Registry().Get(matchID)
	require.True(t, ok)
	assert.Equal(t, 1, m.Players["B"].BaseHealth)
	assert.Empty(t, recs["A"].names(), "扣血不廣播")

	e.OnMessage("A", hit)
	// 已結束的對局忽略後續命中
	e.OnMessage("A", hit)

	for _, id := range []string{"A", "B"} {
		assert.Equal(t, []string{internal.EventBaseDestroyed, internal.EventMatchEnd}, recs[id].names(), id)

		destroyed := decodeAs[internal.TargetPayload](t, recs[id].only(internal.EventBaseDestroyed)[0])
		assert.Equal(t, "B", destroyed.ID)

		end := decodeAs[internal.MatchEndPayload](t, recs[id].last(t))
		assert.Equal(t, internal.MatchEndPayload{WinnerID: "A"}, end)
	}

	assert.Equal(t, internal.StatusFinished, m.Status)
	assert.NotContains(t, m.Players, "B")
	assert.True(t, m.IsMember("B"), "被淘汰的玩家仍在廣播群組")

	require.Len(t, spy.ended, 1)
	assert.Equal(t, "A", spy.ended[0].WinnerID)
	assert.Equal(t, []string{"B"}, spy.ended[0].LoserIDs)
	assert.Empty(t, spy.ended[0].Reason)
}

// TestRelay_PlayerHit 坦克被擊中只廣播 deathPlayer，不改變對局狀態
func TestRelay_PlayerHit(t *testing.T) {
	e := newTestEngine(t)
	recs := connectAll(e, "A", "B")
	matchID := startMatch(t, e, recs, "A", "B")

	for range 5 {
		e.OnMessage("A", frame(t, internal.EventPlayerHit, internal.TargetPayload{ID: "B"}))
	}

	for _, id := range []string{"A", "B"} {
		events := recs[id].only(internal.EventDeathPlayer)
		require.Len(t, events, 5, id)
		assert.Equal(t, "B", decodeAs[internal.TargetPayload](t, events[0]).ID)
		assert.Empty(t, recs[id].only(internal.EventMatchEnd))
	}

	m, _ := e.Registry().Get(matchID)
	assert.Equal(t, internal.StatusPlaying, m.Status)
	assert.Equal(t, internal.InitialBaseHealth, m.Players["B"].BaseHealth)
}

// TestRelay_MovementAppearsInGameState 位置更新在下一次 tick 廣播
func TestRelay_MovementAppearsInGameState(t *testing.T) {
	e := newTestEngine(t)
	recs := connectAll(e, "A", "B")
	startMatch(t, e, recs, "A", "B")

	e.OnMessage("A", frame(t, internal.EventPlayerMovement, internal.MovementPayload{X: 412.5, Y: 80, Rotation: 1.57}))
	assert.Empty(t, recs["B"].names(), "移動不立即轉發")

	e.Tick()

	for _, id := range []string{"A", "B"} {
		state := decodeAs[map[string]internal.Player](t, recs[id].last(t))
		require.Len(t, state, 2)
		a := state["A"]
		assert.Equal(t, 412.5, a.X)
		assert.Equal(t, 80.0, a.Y)
		assert.Equal(t, 1.57, a.Rotation)
		assert.Equal(t, internal.InitialBaseHealth, a.BaseHealth)
	}
}

// TestRelay_ShootForwardedToOthers 子彈只轉發給其他玩家，內容原樣保留
func TestRelay_ShootForwardedToOthers(t *testing.T) {
	e := newTestEngine(t)
	recs := connectAll(e, "A", "B")
	startMatch(t, e, recs, "A", "B")

	bullet := mustJSON(t, map[string]any{"x": 10, "y": 20, "angle": 0.5, "owner": "A"})
	e.OnMessage("A", frame(t, internal.EventShoot, internal.ShootPayload{Bullet: bullet}))

	assert.Empty(t, recs["A"].names())
	require.Equal(t, []string{internal.EventShoot}, recs["B"].names())

	shot := decodeAs[internal.ShotPayload](t, recs["B"].last(t))
	assert.Equal(t, "A", shot.PlayerID)
	assert.JSONEq(t, string(bullet), string(shot.Bullet))
}

// TestRelay_DroppedActions 不符合條件的動作被靜默丟棄
func TestRelay_DroppedActions(t *testing.T) {
	tests := []struct {
		name   string
		sender string
		event  string
		data   any
		setup  func(t *testing.T, e *internal.Engine, recs map[string]*recorder)
	}{
		{
			name:   "sender not in any match",
			sender: "C",
			event:  internal.EventShoot,
			data:   internal.ShootPayload{Bullet: []byte(`{}`)},
			setup: func(t *testing.T, e *internal.Engine, recs map[string]*recorder) {
				startMatch(t, e, recs, "A", "B")
			},
		},
		{
			name:   "match still waiting",
			sender: "A",
			event:  internal.EventBaseHit,
			data:   internal.TargetPayload{ID: "A"},
			setup: func(t *testing.T, e *internal.Engine, recs map[string]*recorder) {
				m, err := e.Registry().Create()
				require.NoError(t, err)
				require.NoError(t, e.JoinMatch("A", m.ID))
				recs["A"].reset()
			},
		},
		{
			name:   "unknown victim",
			sender: "A",
			event:  internal.EventBaseHit,
			data:   internal.TargetPayload{ID: "ghost"},
			setup: func(t *testing.T, e *internal.Engine, recs map[string]*recorder) {
				startMatch(t, e, recs, "A", "B")
			},
		},
		{
			name:   "unknown player hit",
			sender: "B",
			event:  internal.EventPlayerHit,
			data:   internal.TargetPayload{ID: "ghost"},
			setup: func(t *testing.T, e *internal.Engine, recs map[string]*recorder) {
				startMatch(t, e, recs, "A", "B")
			},
		},
		{
			name:   "match already finished",
			sender: "A",
			event:  internal.EventShoot,
			data:   internal.ShootPayload{Bullet: []byte(`{}`)},
			setup: func(t *testing.T, e *internal.Engine, recs map[string]*recorder) {
				startMatch(t, e, recs, "A", "B")
				for range internal.InitialBaseHealth {
					e.OnMessage("A", frame(t, internal.EventBaseHit, internal.TargetPayload{ID: "B"}))
				}
				recs["A"].reset()
				recs["B"].reset()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			recs := connectAll(e, "A", "B", "C")
			tt.setup(t, e, recs)

			e.OnMessage(tt.sender, frame(t, tt.event, tt.data))

			for id, rec := range recs {
				assert.Empty(t, rec.names(), id)
			}
		})
	}
}
