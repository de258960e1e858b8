package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/DoyleJ11/metropoly-server/pkg/types"
)

var ErrRoomNotFound = errors.New("room not found")
var ErrInvalidPlayer = errors.New("player id required")
var ErrNotMember = errors.New("player is not in the room")
var ErrNotHost = errors.New("only the host can start the game")
var ErrWrongTurn = errors.New("not this player's turn")
var ErrNotAllReady = errors.New("not all players are ready")
var ErrNoPlayers = errors.New("room has no players")
var ErrInvalidToken = errors.New("invalid token")
var ErrTokenTaken = errors.New("token already taken")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Phase string

const (
	PhaseDrafting      Phase = "drafting"
	PhaseAwaitingReady Phase = "awaiting_ready"
	PhasePlaying       Phase = "playing"
)

// DefaultPlayerName replaces an empty display name on join.
const DefaultPlayerName = "Player"

type Player struct {
	ID    string
	Name  string
	Token string // "" until picked
}

// Rules are per-room switches. The zero value accepts any token and any pick
// order, starts without a ready check and advances the turn server-side.
type Rules struct {
	UniqueTokens         bool
	EnforcePickOrder     bool
	StartRequiresReady   bool
	TrustNextPlayerIndex bool
	TokenSet             []string // empty: any non-empty token
}

type State struct {
	RoomID    string
	Phase     Phase
	Players   []Player // join order
	Positions map[string]int
	Tokens    map[string]string
	Ready     map[string]bool
	Turn      int
	Rules     Rules
}

type CommandType string

const (
	CmdJoin        CommandType = "Join"
	CmdLeave       CommandType = "Leave"
	CmdSelectToken CommandType = "SelectToken"
	CmdSetReady    CommandType = "SetReady"
	CmdStartGame   CommandType = "StartGame"
	CmdMove        CommandType = "Move"
	CmdEndTurn     CommandType = "EndTurn"
	CmdAction      CommandType = "Action"
)

/*
	CmdJoin        -> playerNumber (caller) -> playerList -> tokenPositions -> nextTurnToPick?
	CmdLeave       -> playerList -> tokenPositions -> turnUpdate? (only while playing and the turn moved)
	CmdSelectToken -> playerSelectedToken -> playerList -> playerReadyStates -> nextTurnToPick?
	CmdSetReady    -> playerReadyStates
	CmdStartGame   -> gameStarted -> turnUpdate
	CmdMove        -> moveToken -> tokenPositions (mover only)
	CmdEndTurn     -> turnUpdate
	CmdAction      -> playerAction
*/

type Command struct {
	Type            CommandType
	PlayerID        string
	PlayerName      string
	Token           string
	From            int
	To              int
	NextPlayerIndex *int
	Action          string
	Details         json.RawMessage
}

// Event is one outbound message produced by Apply. Direct events go only to
// the connection that sent the command; the rest are broadcast to the room.
type Event struct {
	Name     string
	PlayerID string
	Direct   bool
	Data     any
}

func Apply(s State, cmd Command) ([]Event, State, error) {
	if cmd.PlayerID == "" {
		return nil, s, ErrInvalidPlayer
	}

	switch cmd.Type {
	case CmdJoin:
		next := s.clone()
		name := cmd.PlayerName
		if name == "" {
			name = DefaultPlayerName
		}

		// Re-join keeps the join slot and the previously picked token.
		if i := next.IndexOf(cmd.PlayerID); i >= 0 {
			next.Players[i].Name = name
			next.Players[i].Token = next.Tokens[cmd.PlayerID]
		} else {
			next.Players = append(next.Players, Player{ID: cmd.PlayerID, Name: name})
		}
		next.Positions[cmd.PlayerID] = 0
		next.Phase = derivePhase(next)

		events := []Event{
			{Name: types.EventPlayerNumber, PlayerID: cmd.PlayerID, Direct: true, Data: next.PlayerNumber(cmd.PlayerID)},
			next.playerListEvent(cmd.PlayerID),
			{Name: types.EventTokenPositions, PlayerID: cmd.PlayerID, Data: next.positionMap()},
		}
		if p, ok := next.NextToPick(); ok {
			events = append(events, Event{Name: types.EventNextTurnToPick, PlayerID: cmd.PlayerID, Data: types.PickTurn{PlayerID: p.ID}})
		}
		return events, next, nil

	case CmdLeave:
		i := s.IndexOf(cmd.PlayerID)
		if i < 0 {
			return nil, s, ErrNotMember
		}
		next := s.clone()
		before, _ := s.Current()

		next.Players = slices.Delete(next.Players, i, i+1)
		delete(next.Positions, cmd.PlayerID)
		delete(next.Tokens, cmd.PlayerID)
		delete(next.Ready, cmd.PlayerID)
		next.Turn = turnAfterRemoval(s.Turn, i, len(next.Players))
		next.Phase = derivePhase(next)

		events := []Event{
			next.playerListEvent(cmd.PlayerID),
			{Name: types.EventTokenPositions, PlayerID: cmd.PlayerID, Data: next.positionMap()},
		}
		if after, ok := next.Current(); ok && next.Phase == PhasePlaying && after.ID != before.ID {
			events = append(events, turnUpdateEvent(cmd.PlayerID, after))
		}
		return events, next, nil

	case CmdSelectToken:
		i := s.IndexOf(cmd.PlayerID)
		if i < 0 {
			return nil, s, ErrNotMember
		}
		if err := s.checkToken(cmd.PlayerID, cmd.Token); err != nil {
			return nil, s, err
		}
		if s.Rules.EnforcePickOrder && s.Phase == PhaseDrafting {
			if p, ok := s.NextToPick(); ok && p.ID != cmd.PlayerID {
				return nil, s, fmt.Errorf("%w: %s picks next", ErrWrongTurn, p.ID)
			}
		}

		next := s.clone()
		next.Tokens[cmd.PlayerID] = cmd.Token
		next.Players[i].Token = cmd.Token
		// Changing your token always un-readies you.
		next.Ready[cmd.PlayerID] = false
		next.Phase = derivePhase(next)

		events := []Event{
			{Name: types.EventPlayerSelectedToken, PlayerID: cmd.PlayerID, Data: types.TokenSelected{PlayerID: cmd.PlayerID, Token: cmd.Token}},
			next.playerListEvent(cmd.PlayerID),
			{Name: types.EventPlayerReadyStates, PlayerID: cmd.PlayerID, Data: next.ReadyStates()},
		}
		if p, ok := next.NextToPick(); ok {
			events = append(events, Event{Name: types.EventNextTurnToPick, PlayerID: cmd.PlayerID, Data: types.PickTurn{PlayerID: p.ID}})
		}
		return events, next, nil

	case CmdSetReady:
		if s.IndexOf(cmd.PlayerID) < 0 {
			return nil, s, ErrNotMember
		}
		next := s.clone()
		next.Ready[cmd.PlayerID] = true
		return []Event{
			{Name: types.EventPlayerReadyStates, PlayerID: cmd.PlayerID, Data: next.ReadyStates()},
		}, next, nil

	case CmdStartGame:
		host, ok := s.Host()
		if !ok || host.ID != cmd.PlayerID {
			return nil, s, ErrNotHost
		}
		if s.Rules.StartRequiresReady && !s.AllReady() {
			return nil, s, ErrNotAllReady
		}

		next := s.clone()
		next.Turn = 0
		next.Phase = PhasePlaying

		hostName := cmd.PlayerName
		if hostName == "" {
			hostName = host.Name
		}
		return []Event{
			{Name: types.EventGameStarted, PlayerID: cmd.PlayerID, Data: types.GameStarted{HostName: hostName, RoomID: s.RoomID}},
			turnUpdateEvent(cmd.PlayerID, host),
		}, next, nil

	case CmdMove:
		cur, ok := s.Current()
		if !ok || cur.ID != cmd.PlayerID {
			return nil, s, ErrWrongTurn
		}

		// Moving never advances the turn; a turn may hold several moves.
		next := s.clone()
		next.Positions[cmd.PlayerID] = cmd.To
		return []Event{
			{Name: types.EventMoveToken, PlayerID: cmd.PlayerID, Data: types.TokenMove{PlayerID: cmd.PlayerID, From: cmd.From, To: cmd.To}},
			{Name: types.EventTokenPositions, PlayerID: cmd.PlayerID, Data: map[string]int{cmd.PlayerID: cmd.To}},
		}, next, nil

	case CmdEndTurn:
		if len(s.Players) == 0 {
			return nil, s, ErrNoPlayers
		}
		if !s.AllReady() {
			return nil, s, ErrNotAllReady
		}

		next := s.clone()
		next.Turn = nextTurn(s, cmd.NextPlayerIndex)
		cur, _ := next.Current()
		return []Event{turnUpdateEvent(cmd.PlayerID, cur)}, next, nil

	case CmdAction:
		return []Event{
			{Name: types.EventPlayerAction, PlayerID: cmd.PlayerID, Data: types.PlayerAction{PlayerID: cmd.PlayerID, Action: cmd.Action, Details: cmd.Details}},
		}, s, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func (s State) checkToken(playerID, token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	if len(s.Rules.TokenSet) > 0 && !slices.Contains(s.Rules.TokenSet, token) {
		return fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	if s.Rules.UniqueTokens {
		for _, p := range s.Players {
			if p.ID != playerID && p.Token == token {
				return fmt.Errorf("%w: %q held by %s", ErrTokenTaken, token, p.ID)
			}
		}
	}
	return nil
}

func (s State) playerListEvent(actor string) Event {
	return Event{Name: types.EventPlayerList, PlayerID: actor, Data: s.PlayerList()}
}

func turnUpdateEvent(actor string, cur Player) Event {
	return Event{Name: types.EventTurnUpdate, PlayerID: actor, Data: types.TurnUpdate{CurrentTurnPlayerID: cur.ID}}
}
