package internal_test

import (
	"testing"

	"github.com/koopa0/system-design/14-tank-arena/internal"
	apperrors "github.com/koopa0/system-design/14-tank-arena/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMatchRegistry_CreateRetriesOnCollision ID 衝突時重新產生
func TestMatchRegistry_CreateRetriesOnCollision(t *testing.T) {
	ids := []string{"AAAA", "AAAA", "AAAA", "BBBB"}
	next := func() string {
		id := ids[0]
		if len(ids) > 1 {
			ids = ids[1:]
		}
		return id
	}
	e := newTestEngine(t, internal.WithIDGenerator(next))

	first, err := e.Registry().Create()
	require.NoError(t, err)
	assert.Equal(t, "AAAA", first.ID)

	second, err := e.Registry().Create()
	require.NoError(t, err)
	assert.Equal(t, "BBBB", second.ID)

	// 產生器只剩已用過的 ID
	_, err = e.Registry().Create()
	assert.ErrorIs(t, err, apperrors.ErrMatchExists)
	assert.Equal(t, 2, e.Registry().Len())
}

func TestMatchRegistry_DefaultIDs(t *testing.T) {
	e := internal.NewEngine(testGameConfig(), testLogger())

	seen := make(map[string]bool)
	for range 50 {
		m, err := e.Registry().Create()
		require.NoError(t, err)
		assert.Regexp(t, `^[A-Z0-9]{4}$`, m.ID)
		assert.False(t, seen[m.ID])
		seen[m.ID] = true
	}
}

func TestMatchRegistry_CountByStatus(t *testing.T) {
	e := newTestEngine(t)
	recs := connectAll(e, "A", "B", "C")

	startMatch(t, e, recs, "A", "B")
	_, err := e.Registry().Create()
	require.NoError(t, err)

	counts := e.Registry().CountByStatus()
	assert.Equal(t, 1, counts[internal.StatusPlaying])
	assert.Equal(t, 1, counts[internal.StatusWaiting])
	assert.Zero(t, counts[internal.StatusFinished])
	assert.Len(t, e.Registry().Playing(), 1)
}

// TestMatchRegistry_RemovePlayerFromWaiting waiting 對局移除玩家不判定勝負
func TestMatchRegistry_RemovePlayerFromWaiting(t *testing.T) {
	spy := &observerSpy{}
	e := newTestEngine(t, internal.WithObserver(spy))
	connectAll(e, "A")

	m, err := e.Registry().Create()
	require.NoError(t, err)
	_, err = e.Registry().Join(m.ID, "A")
	require.NoError(t, err)

	e.Registry().RemovePlayer(m.ID, "A", "")

	_, ok := e.Registry().Get(m.ID)
	assert.False(t, ok)
	assert.Empty(t, spy.ended)

	s, _ := e.Sessions().Get("A")
	assert.Empty(t, s.MatchID, "刪除對局時解除綁定")

	// 不存在的對局直接忽略
	e.Registry().RemovePlayer("NOPE", "A", "")
}

func TestMatchRegistry_JoinUnknownSession(t *testing.T) {
	e := newTestEngine(t)

	m, err := e.Registry().Create()
	require.NoError(t, err)

	_, err = e.Registry().Join(m.ID, "ghost")
	assert.ErrorIs(t, err, apperrors.ErrSessionGone)
	assert.Empty(t, m.Players)
}

func TestMatchRegistry_ExpireKeepsJoinedMatches(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, internal.WithClock(clock.Now))
	connectAll(e, "A")

	empty, err := e.Registry().Create()
	require.NoError(t, err)
	joined, err := e.Registry().Create()
	require.NoError(t, err)
	_, err = e.Registry().Join(joined.ID, "A")
	require.NoError(t, err)

	clock.Advance(2 * testGameConfig().WaitingMatchTTL)
	expired := e.Registry().Expire(clock.Now())

	assert.Equal(t, []string{empty.ID}, expired)
	_, ok := e.Registry().Get(joined.ID)
	assert.True(t, ok)
}
