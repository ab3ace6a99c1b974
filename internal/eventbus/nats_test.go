package eventbus_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-tank-arena/internal"
	"github.com/koopa0/system-design/14-tank-arena/internal/eventbus"
	"github.com/koopa0/system-design/14-tank-arena/internal/testutils"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu     sync.Mutex
	msgs   []published
	err    error
	closed bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func TestPublisher_Subject(t *testing.T) {
	tests := []struct {
		prefix string
		typ    internal.LifecycleType
		want   string
	}{
		{prefix: "", typ: internal.LifecycleCreated, want: "arena.match.created"},
		{prefix: "arena", typ: internal.LifecycleStarted, want: "arena.match.started"},
		{prefix: "staging", typ: internal.LifecycleEnded, want: "staging.match.ended"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			p := eventbus.NewPublisher(&fakeConn{}, tt.prefix, testutils.NewLogger())
			assert.Equal(t, tt.want, p.Subject(tt.typ))
		})
	}
}

func TestPublisher_Publish(t *testing.T) {
	conn := &fakeConn{}
	p := eventbus.NewPublisher(conn, "arena", testutils.NewLogger())

	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	err := p.Publish(context.Background(), internal.LifecycleEvent{
		Type:     internal.LifecycleEnded,
		MatchID:  "K3ZQ",
		Players:  []string{"A", "B"},
		WinnerID: "A",
		Reason:   internal.ReasonOpponentLeft,
		At:       at,
	})
	require.NoError(t, err)

	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "arena.match.ended", conn.msgs[0].subject)
	assert.JSONEq(t, `{
		"type": "ended",
		"match_id": "K3ZQ",
		"players": ["A", "B"],
		"winner_id": "A",
		"reason": "opponent_left",
		"at": "2024-01-01T12:00:00Z"
	}`, string(conn.msgs[0].data))

	p.Close()
	assert.True(t, conn.closed)
}

func TestPublisher_Errors(t *testing.T) {
	conn := &fakeConn{}
	p := eventbus.NewPublisher(conn, "", testutils.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Publish(ctx, internal.LifecycleEvent{Type: internal.LifecycleCreated, MatchID: "M1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, conn.msgs)

	conn.err = errors.New("nats: connection closed")
	err = p.Publish(context.Background(), internal.LifecycleEvent{Type: internal.LifecycleCreated, MatchID: "M1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arena.match.created")
}

// TestPublisher_NATS 透過真實的 NATS Server 訂閱已發佈的事件
func TestPublisher_NATS(t *testing.T) {
	env := testutils.SetupNATS(t)

	conn, err := eventbus.Connect(env.NATSURL, env.Logger)
	require.NoError(t, err)
	p := eventbus.NewPublisher(conn, "test", env.Logger)
	t.Cleanup(p.Close)

	sub, err := nats.Connect(env.NATSURL)
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	msgs := make(chan *nats.Msg, 4)
	subscription, err := sub.ChanSubscribe("test.match.>", msgs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = subscription.Unsubscribe() })
	require.NoError(t, sub.Flush())

	require.NoError(t, p.Publish(context.Background(), internal.LifecycleEvent{
		Type:    internal.LifecycleStarted,
		MatchID: "K3ZQ",
		Players: []string{"A", "B"},
		At:      time.Now(),
	}))
	require.NoError(t, conn.Flush())

	select {
	case msg := <-msgs:
		assert.Equal(t, "test.match.started", msg.Subject)
		var got internal.LifecycleEvent
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "K3ZQ", got.MatchID)
		assert.Equal(t, []string{"A", "B"}, got.Players)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for lifecycle event")
	}
}
