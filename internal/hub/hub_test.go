package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/metropoly-server/internal/engine"
	"github.com/DoyleJ11/metropoly-server/internal/room"
	wire "github.com/DoyleJ11/metropoly-server/pkg/types"
)

func newTestHub(t *testing.T, cfg Config) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	cfg.Log = zaptest.NewLogger(t)
	return NewHub(ctx, cfg)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}

func joinRoom(t *testing.T, rm *room.Room, clientID, playerID string) chan wire.ServerMessage {
	t.Helper()
	out := make(chan wire.ServerMessage, 16)
	err := rm.Send(testCtx(t), room.FromClient{
		ClientID: clientID,
		Outbox:   out,
		Op:       wire.EventJoinRoom,
		Cmd:      engine.Command{Type: engine.CmdJoin, PlayerID: playerID},
	})
	require.NoError(t, err)
	return out
}

func TestHub_Create_Get_SamePointer(t *testing.T) {
	h := newTestHub(t, Config{})
	reply := make(chan *room.Room, 1)

	h.Inbox() <- EnsureRoom{ID: "zed12345", Reply: reply}
	rm1 := <-reply

	h.Inbox() <- GetRoom{ID: "zed12345", Reply: reply}
	rm2 := <-reply

	if rm1 == nil || rm2 == nil || rm1 != rm2 {
		t.Fatalf("expected same room pointer")
	}
}

func TestHub_EnsureIsIdempotent(t *testing.T) {
	h := newTestHub(t, Config{})
	ctx := testCtx(t)

	a, err := h.Ensure(ctx, "A1")
	require.NoError(t, err)
	b, err := h.Ensure(ctx, "A1")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "A1", a.ID())
}

func TestHub_GetUnknownRoom(t *testing.T) {
	h := newTestHub(t, Config{})
	_, err := h.Get(testCtx(t), "nope")
	assert.True(t, errors.Is(err, engine.ErrRoomNotFound))
}

func TestHub_CreateRegeneratesOnCollision(t *testing.T) {
	ids := []string{"taken000", "taken000", "fresh001"}
	h := newTestHub(t, Config{NewID: func() (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}})
	ctx := testCtx(t)

	first, _, err := h.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, "taken000", first)

	second, rm, err := h.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh001", second)
	assert.Equal(t, "fresh001", rm.ID())
}

func TestHub_CreateReportsIDFailure(t *testing.T) {
	h := newTestHub(t, Config{NewID: func() (string, error) { return "", errors.New("entropy exhausted") }})
	_, _, err := h.Create(testCtx(t))
	assert.ErrorContains(t, err, "entropy exhausted")
}

func TestHub_RoomsGetConfiguredRules(t *testing.T) {
	h := newTestHub(t, Config{Rules: engine.Rules{UniqueTokens: true}})
	ctx := testCtx(t)
	rm, err := h.Ensure(ctx, "A1")
	require.NoError(t, err)

	v, err := rm.View(ctx)
	require.NoError(t, err)
	assert.True(t, v.State.Rules.UniqueTokens)
	assert.Equal(t, "A1", v.State.RoomID)
}

func TestHub_ListCountsPlayers(t *testing.T) {
	h := newTestHub(t, Config{})
	ctx := testCtx(t)

	b, err := h.Ensure(ctx, "bbbb")
	require.NoError(t, err)
	_, err = h.Ensure(ctx, "aaaa")
	require.NoError(t, err)
	joinRoom(t, b, "c1", "P1")
	joinRoom(t, b, "c2", "P2")

	list, err := h.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []wire.RoomSummary{
		{ID: "aaaa", PlayerCount: 0},
		{ID: "bbbb", PlayerCount: 2},
	}, list)
}

func TestHub_IdleRoomIsRemoved(t *testing.T) {
	h := newTestHub(t, Config{IdleTTL: 20 * time.Millisecond})
	ctx := testCtx(t)

	rm, err := h.Ensure(ctx, "A1")
	require.NoError(t, err)

	select {
	case <-rm.Done():
	case <-time.After(time.Second):
		t.Fatalf("idle room was not shut down")
	}
	_, err = h.Get(ctx, "A1")
	assert.ErrorIs(t, err, engine.ErrRoomNotFound)
}

func TestHub_OccupiedRoomIsKept(t *testing.T) {
	h := newTestHub(t, Config{IdleTTL: 100 * time.Millisecond})
	ctx := testCtx(t)

	rm, err := h.Ensure(ctx, "A1")
	require.NoError(t, err)
	joinRoom(t, rm, "c1", "P1")

	time.Sleep(250 * time.Millisecond)
	got, err := h.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Same(t, rm, got)
}

func TestHub_JoinQueuedBehindIdleFireKeepsRoom(t *testing.T) {
	h := newTestHub(t, Config{IdleTTL: 20 * time.Millisecond})
	ctx := testCtx(t)

	rm, err := h.Ensure(ctx, "A1")
	require.NoError(t, err)

	// Stall the room on an unread reply so the idle fire and the join queue
	// up behind it.
	stall := make(chan room.View)
	rm.Inbox() <- room.GetState{Reply: stall}
	time.Sleep(60 * time.Millisecond)
	out := joinRoom(t, rm, "c1", "P1")
	<-stall

	select {
	case msg := <-out:
		assert.Equal(t, wire.EventPlayerNumber, msg.Event)
	case <-time.After(time.Second):
		t.Fatalf("join was not handled")
	}

	time.Sleep(100 * time.Millisecond)
	select {
	case <-rm.Done():
		t.Fatalf("occupied room was retired")
	default:
	}
	got, err := h.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Same(t, rm, got)

	v, err := rm.View(ctx)
	require.NoError(t, err)
	assert.Len(t, v.State.Players, 1)
}

func TestHub_ShutdownStopsRooms(t *testing.T) {
	h := newTestHub(t, Config{})
	ctx := testCtx(t)
	rm, err := h.Ensure(ctx, "A1")
	require.NoError(t, err)

	require.NoError(t, h.Shutdown(ctx))
	select {
	case <-rm.Done():
	case <-time.After(time.Second):
		t.Fatalf("room still running after hub shutdown")
	}

	_, err = h.Ensure(ctx, "A2")
	assert.Error(t, err)
	assert.NoError(t, h.Shutdown(ctx), "second shutdown is a no-op")
}

func TestGenerateRoomID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := GenerateRoomID()
		require.NoError(t, err)
		require.Len(t, id, RoomIDLength)
		for _, c := range id {
			require.Contains(t, roomIDCharset, string(c))
		}
		seen[id] = true
	}
	assert.Len(t, seen, 50)
}
