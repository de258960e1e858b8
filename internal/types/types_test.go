package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/metropoly-server/internal/engine"
	wire "github.com/DoyleJ11/metropoly-server/pkg/types"
)

func TestDecode(t *testing.T) {
	cm, p, err := Decode([]byte(`{"event":"endTurn","data":{"roomId":"abc12345","playerId":"P1","nextPlayerIndex":0}}`))
	require.NoError(t, err)
	assert.Equal(t, wire.EventEndTurn, cm.Event)
	assert.Equal(t, "abc12345", p.RoomID)
	assert.Equal(t, "P1", p.PlayerID)
	require.NotNil(t, p.NextPlayerIndex)
	assert.Equal(t, 0, *p.NextPlayerIndex)
}

func TestDecode_NoPayload(t *testing.T) {
	for _, frame := range []string{`{"event":"createRoom"}`, `{"event":"getRooms","data":null}`} {
		cm, p, err := Decode([]byte(frame))
		require.NoError(t, err, frame)
		assert.NotEmpty(t, cm.Event)
		assert.Equal(t, ClientPayload{}, p)
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `{"event":`,
		"missing event": `{"data":{"roomId":"r"}}`,
		"bad payload":   `{"event":"moveToken","data":{"from":"two"}}`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Decode([]byte(frame))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBadRequest)
			assert.Equal(t, "bad_request", RejectionCode(err))
		})
	}
}

func TestToCommand(t *testing.T) {
	next := 2
	p := ClientPayload{
		PlayerID:        "P1",
		PlayerName:      "Ann",
		Token:           "car",
		From:            3,
		To:              7,
		NextPlayerIndex: &next,
		Action:          "buy",
		Details:         []byte(`{"property":"Boardwalk"}`),
	}

	cases := []struct {
		event string
		want  engine.Command
	}{
		{wire.EventJoinRoom, engine.Command{Type: engine.CmdJoin, PlayerID: "P1", PlayerName: "Ann"}},
		{wire.EventJoinMetropoly, engine.Command{Type: engine.CmdJoin, PlayerID: "P1", PlayerName: "Ann"}},
		{wire.EventSelectToken, engine.Command{Type: engine.CmdSelectToken, PlayerID: "P1", Token: "car"}},
		{wire.EventPlayerReady, engine.Command{Type: engine.CmdSetReady, PlayerID: "P1"}},
		{wire.EventStartGame, engine.Command{Type: engine.CmdStartGame, PlayerID: "P1", PlayerName: "Ann"}},
		{wire.EventMoveToken, engine.Command{Type: engine.CmdMove, PlayerID: "P1", From: 3, To: 7}},
		{wire.EventEndTurn, engine.Command{Type: engine.CmdEndTurn, PlayerID: "P1", NextPlayerIndex: &next}},
		{wire.EventPlayerAction, engine.Command{Type: engine.CmdAction, PlayerID: "P1", Action: "buy", Details: p.Details}},
	}
	for _, tc := range cases {
		t.Run(tc.event, func(t *testing.T) {
			got, ok := ToCommand(tc.event, p)
			require.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}

	for _, event := range []string{wire.EventCreateRoom, wire.EventGetRooms, "teleport"} {
		_, ok := ToCommand(event, p)
		assert.False(t, ok, event)
	}
}

func TestRejectionCode(t *testing.T) {
	assert.Equal(t, "room_not_found", RejectionCode(fmt.Errorf("%w: abc", engine.ErrRoomNotFound)))
	assert.Equal(t, "not_host", RejectionCode(engine.ErrNotHost))
	assert.Equal(t, "wrong_turn", RejectionCode(engine.ErrWrongTurn))
	assert.Equal(t, "token_taken", RejectionCode(engine.ErrTokenTaken))
	assert.Equal(t, "bad_request", RejectionCode(engine.ErrInvalidPlayer))
	assert.Equal(t, "internal", RejectionCode(errors.New("boom")))
}

func TestReject(t *testing.T) {
	msg := Reject(wire.EventStartGame, "abc12345", engine.ErrNotHost)
	assert.Equal(t, wire.EventRejected, msg.Event)

	rej, ok := msg.Data.(wire.Rejection)
	require.True(t, ok)
	assert.Equal(t, wire.Rejection{
		Op:      wire.EventStartGame,
		RoomID:  "abc12345",
		Code:    "not_host",
		Message: engine.ErrNotHost.Error(),
	}, rej)
}
