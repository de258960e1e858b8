package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/metropoly-server/internal/engine"
	wire "github.com/DoyleJ11/metropoly-server/pkg/types"
)

// ClientMessage is one inbound websocket frame: {"event": ..., "data": {...}}.
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ClientPayload is the union of every inbound payload; each event reads the
// fields it needs.
type ClientPayload struct {
	RoomID          string          `json:"roomId,omitempty"`
	PlayerID        string          `json:"playerId,omitempty"`
	PlayerName      string          `json:"playerName,omitempty"`
	Token           string          `json:"token,omitempty"`
	From            int             `json:"from,omitempty"`
	To              int             `json:"to,omitempty"`
	NextPlayerIndex *int            `json:"nextPlayerIndex,omitempty"`
	Action          string          `json:"action,omitempty"`
	Details         json.RawMessage `json:"details,omitempty"`
}

var ErrBadRequest = errors.New("bad request")

// Decode parses a frame and its payload. Events without a payload (createRoom,
// getRooms) yield a zero ClientPayload.
func Decode(frame []byte) (ClientMessage, ClientPayload, error) {
	var cm ClientMessage
	if err := json.Unmarshal(frame, &cm); err != nil {
		return cm, ClientPayload{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if cm.Event == "" {
		return cm, ClientPayload{}, fmt.Errorf("%w: missing event", ErrBadRequest)
	}

	var p ClientPayload
	if len(cm.Data) > 0 && string(cm.Data) != "null" {
		if err := json.Unmarshal(cm.Data, &p); err != nil {
			return cm, p, fmt.Errorf("%w: %s payload: %v", ErrBadRequest, cm.Event, err)
		}
	}
	return cm, p, nil
}

// ToCommand maps a room-scoped inbound event to an engine command.
func ToCommand(event string, p ClientPayload) (engine.Command, bool) {
	switch event {
	case wire.EventJoinRoom, wire.EventJoinMetropoly:
		return engine.Command{Type: engine.CmdJoin, PlayerID: p.PlayerID, PlayerName: p.PlayerName}, true
	case wire.EventSelectToken:
		return engine.Command{Type: engine.CmdSelectToken, PlayerID: p.PlayerID, Token: p.Token}, true
	case wire.EventPlayerReady:
		return engine.Command{Type: engine.CmdSetReady, PlayerID: p.PlayerID}, true
	case wire.EventStartGame:
		return engine.Command{Type: engine.CmdStartGame, PlayerID: p.PlayerID, PlayerName: p.PlayerName}, true
	case wire.EventMoveToken:
		return engine.Command{Type: engine.CmdMove, PlayerID: p.PlayerID, From: p.From, To: p.To}, true
	case wire.EventEndTurn:
		return engine.Command{Type: engine.CmdEndTurn, PlayerID: p.PlayerID, NextPlayerIndex: p.NextPlayerIndex}, true
	case wire.EventPlayerAction:
		return engine.Command{Type: engine.CmdAction, PlayerID: p.PlayerID, Action: p.Action, Details: p.Details}, true
	default:
		return engine.Command{}, false
	}
}

var rejectionCodes = []struct {
	err  error
	code string
}{
	{engine.ErrRoomNotFound, "room_not_found"},
	{engine.ErrInvalidPlayer, "bad_request"},
	{engine.ErrNotMember, "not_member"},
	{engine.ErrNotHost, "not_host"},
	{engine.ErrWrongTurn, "wrong_turn"},
	{engine.ErrNotAllReady, "not_all_ready"},
	{engine.ErrNoPlayers, "no_players"},
	{engine.ErrInvalidToken, "invalid_token"},
	{engine.ErrTokenTaken, "token_taken"},
	{engine.ErrUnsupportedCommand, "unsupported"},
	{ErrBadRequest, "bad_request"},
}

// RejectionCode maps an error to its stable wire code.
func RejectionCode(err error) string {
	for _, rc := range rejectionCodes {
		if errors.Is(err, rc.err) {
			return rc.code
		}
	}
	return "internal"
}

// Reject builds the rejected frame sent back to the caller only.
func Reject(op, roomID string, err error) wire.ServerMessage {
	return wire.ServerMessage{
		Event: wire.EventRejected,
		Data: wire.Rejection{
			Op:      op,
			RoomID:  roomID,
			Code:    RejectionCode(err),
			Message: err.Error(),
		},
	}
}
