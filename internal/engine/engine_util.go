package engine

import (
	"maps"
	"slices"

	"github.com/DoyleJ11/metropoly-server/pkg/types"
)

func NewState(roomID string, rules Rules) State {
	return State{
		RoomID:    roomID,
		Phase:     PhaseDrafting,
		Players:   []Player{},
		Positions: map[string]int{},
		Tokens:    map[string]string{},
		Ready:     map[string]bool{},
		Turn:      0,
		Rules:     rules,
	}
}

// clone copies everything Apply mutates so the caller's State stays untouched.
func (s State) clone() State {
	c := s
	c.Players = slices.Clone(s.Players)
	c.Positions = cloneMap(s.Positions)
	c.Tokens = cloneMap(s.Tokens)
	c.Ready = cloneMap(s.Ready)
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return maps.Clone(m)
}

// derivePhase keeps a started game playing; before that the phase follows
// whether every player holds a token.
func derivePhase(s State) Phase {
	if s.Phase == PhasePlaying {
		return PhasePlaying
	}
	if _, pending := s.NextToPick(); pending || len(s.Players) == 0 {
		return PhaseDrafting
	}
	return PhaseAwaitingReady
}

func (s State) IndexOf(playerID string) int {
	return slices.IndexFunc(s.Players, func(p Player) bool { return p.ID == playerID })
}

// AllReady reports whether every current player has signalled ready.
// It is vacuously true for an empty room.
func (s State) AllReady() bool {
	for _, p := range s.Players {
		if !s.Ready[p.ID] {
			return false
		}
	}
	return true
}

// ReadyStates has one entry per current player.
func (s State) ReadyStates() map[string]bool {
	out := make(map[string]bool, len(s.Players))
	for _, p := range s.Players {
		out[p.ID] = s.Ready[p.ID]
	}
	return out
}

func (s State) PlayerList() []types.PlayerEntry {
	out := make([]types.PlayerEntry, 0, len(s.Players))
	for _, p := range s.Players {
		e := types.PlayerEntry{ID: p.ID, Name: p.Name}
		if tok, ok := s.Tokens[p.ID]; ok && tok != "" {
			e.Token = &tok
		}
		out = append(out, e)
	}
	return out
}

func (s State) positionMap() map[string]int {
	out := make(map[string]int, len(s.Players))
	for _, p := range s.Players {
		out[p.ID] = s.Positions[p.ID]
	}
	return out
}
