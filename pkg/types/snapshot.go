package types

// RoomSummary is one element of a roomList payload and of GET /rooms.
type RoomSummary struct {
	ID          string `json:"id"`
	PlayerCount int    `json:"playerCount"`
}

// RoomSnapshot is the read-only view served by GET /rooms/{roomID}.
//
//	version:              number of state changes applied so far
//	roomId:               room id
//	phase:                "drafting" | "awaiting_ready" | "playing"
//	players:              join order, each {id, name, token|null}
//	positions:            { [playerId]: number }
//	ready:                { [playerId]: boolean }
//	currentTurnIndex:     index into players
//	currentTurnPlayerId:  players[currentTurnIndex].id, "" when empty
//	subscribers:          connections receiving this room's broadcasts
type RoomSnapshot struct {
	Version             int             `json:"version"`
	RoomID              string          `json:"roomId"`
	Phase               string          `json:"phase"`
	Players             []PlayerEntry   `json:"players"`
	Positions           map[string]int  `json:"positions"`
	Ready               map[string]bool `json:"ready"`
	CurrentTurnIndex    int             `json:"currentTurnIndex"`
	CurrentTurnPlayerID string          `json:"currentTurnPlayerId"`
	Subscribers         int             `json:"subscribers"`
}
