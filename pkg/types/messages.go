package types

import "encoding/json"

// Client -> Server event names.
const (
	EventCreateRoom    = "createRoom"
	EventJoinRoom      = "joinRoom"
	EventJoinMetropoly = "joinMetropoly"
	EventSelectToken   = "selectToken"
	EventPlayerReady   = "playerReady"
	EventStartGame     = "startGame"
	EventMoveToken     = "moveToken" // also relayed Server -> Client
	EventEndTurn       = "endTurn"
	EventPlayerAction  = "playerAction" // also relayed Server -> Client
	EventGetRooms      = "getRooms"
)

// Server -> Client event names.
const (
	EventPlayerNumber        = "playerNumber"
	EventPlayerList          = "playerList"
	EventTokenPositions      = "tokenPositions"
	EventNextTurnToPick      = "nextTurnToPick"
	EventPlayerSelectedToken = "playerSelectedToken"
	EventPlayerReadyStates   = "playerReadyStates"
	EventGameStarted         = "gameStarted"
	EventTurnUpdate          = "turnUpdate"
	EventRoomCreated         = "roomCreated"
	EventRoomList            = "roomList"
	EventRejected            = "rejected"
)

// ServerMessage is one outbound websocket frame: {"event": ..., "data": ...}.
type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// PlayerEntry is one element of a playerList payload. Token is null until picked.
type PlayerEntry struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Token *string `json:"token"`
}

// PickTurn is the nextTurnToPick payload.
type PickTurn struct {
	PlayerID string `json:"playerId"`
}

// TokenSelected is the playerSelectedToken payload.
type TokenSelected struct {
	PlayerID string `json:"playerId"`
	Token    string `json:"token"`
}

// GameStarted is the gameStarted payload.
type GameStarted struct {
	HostName string `json:"hostName"`
	RoomID   string `json:"roomId"`
}

// TurnUpdate is the turnUpdate payload.
type TurnUpdate struct {
	CurrentTurnPlayerID string `json:"currentTurnPlayerId"`
}

// TokenMove is the outbound moveToken payload.
type TokenMove struct {
	PlayerID string `json:"playerId"`
	From     int    `json:"from"`
	To       int    `json:"to"`
}

// PlayerAction is the outbound playerAction payload. Details are relayed verbatim.
type PlayerAction struct {
	PlayerID string          `json:"playerId"`
	Action   string          `json:"action"`
	Details  json.RawMessage `json:"details,omitempty"`
}

// Rejection is sent only to the connection whose request was refused.
// Other room members never see it.
//
//	op:      inbound event name that was refused
//	roomId:  room the request targeted, if any
//	code:    room_not_found | not_member | not_host | wrong_turn | not_all_ready |
//	         no_players | invalid_token | token_taken | bad_request | unsupported
//	message: human readable reason
type Rejection struct {
	Op      string `json:"op"`
	RoomID  string `json:"roomId,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
