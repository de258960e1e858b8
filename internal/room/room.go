package room

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/metropoly-server/internal/engine"
	"github.com/DoyleJ11/metropoly-server/internal/journal"
	"github.com/DoyleJ11/metropoly-server/internal/types"
	wire "github.com/DoyleJ11/metropoly-server/pkg/types"
)

var ErrClosed = errors.New("room closed")

type Msg interface{ isRoomMsg() }

// FromClient carries one command from a connection. Outbox receives the
// caller-only replies (playerNumber, rejected). A successful join subscribes
// the connection to the room's broadcasts and binds it to the player.
type FromClient struct {
	ClientID string
	Outbox   chan<- wire.ServerMessage
	Evict    func() // called if the connection cannot keep up
	Op       string // inbound event name, echoed in rejections
	Cmd      engine.Command
}

func (FromClient) isRoomMsg() {}

// Disconnect unsubscribes a connection. The player it joined as leaves the
// room unless another connection has re-joined under the same id.
type Disconnect struct{ ClientID string }

func (Disconnect) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type idleFired struct{ gen int }

func (idleFired) isRoomMsg() {}

type retire struct{ reply chan bool }

func (retire) isRoomMsg() {}

type View struct {
	Version    int
	NumClients int
	State      engine.State
}

// Snapshot renders the view for HTTP clients.
func (v View) Snapshot() wire.RoomSnapshot {
	cur, _ := v.State.Current()
	positions := make(map[string]int, len(v.State.Players))
	for _, p := range v.State.Players {
		positions[p.ID] = v.State.Positions[p.ID]
	}
	return wire.RoomSnapshot{
		Version:             v.Version,
		RoomID:              v.State.RoomID,
		Phase:               string(v.State.Phase),
		Players:             v.State.PlayerList(),
		Positions:           positions,
		Ready:               v.State.ReadyStates(),
		CurrentTurnIndex:    v.State.Turn,
		CurrentTurnPlayerID: cur.ID,
		Subscribers:         v.NumClients,
	}
}

// subscriber is one connection. A connection may join under several player
// ids; all of them leave when it goes away.
type subscriber struct {
	outbox  chan<- wire.ServerMessage
	evict   func()
	players []string
}

type departure struct {
	clientID string
	players  []string
}

type Config struct {
	// IdleTTL > 0 reports the room through OnIdle once it has had no players
	// and no subscribers for that long.
	IdleTTL time.Duration
	OnIdle  func(r *Room)
	Journal journal.Appender
	Log     *zap.Logger
}

type Room struct {
	id      string
	inbox   chan Msg
	state   engine.State
	version int
	clients map[string]*subscriber
	gone    []departure
	cfg     Config
	log     *zap.Logger
	idleGen int
	idle    *time.Timer
	ctx     context.Context
	cancel  context.CancelFunc

	// sendMu is held shared by Send for the whole enqueue. Retire takes it
	// exclusively, so a room only retires with no send in flight.
	sendMu sync.RWMutex
	closed bool
}

func NewRoom(parent context.Context, initial engine.State, cfg Config) *Room {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Journal == nil {
		cfg.Journal = journal.Nop{}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}

	r := &Room{
		id:      initial.RoomID,
		inbox:   make(chan Msg, 64),
		state:   initial,
		clients: make(map[string]*subscriber),
		cfg:     cfg,
		log:     cfg.Log.Named("room").With(zap.String("room", initial.RoomID)),
		ctx:     ctx,
		cancel:  cancel,
	}

	r.armIdle()
	go r.loop()
	return r
}

func (r *Room) ID() string { return r.id }

// Done is closed once the room has stopped processing messages.
func (r *Room) Done() <-chan struct{} { return r.ctx.Done() }

// Inbox exposes the raw mailbox for tests. Callers outside the package should
// prefer Send, which cannot block on a stopped room.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Send delivers msg unless the room or ctx is done first.
func (r *Room) Send(ctx context.Context, msg Msg) error {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case <-r.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case r.inbox <- msg:
		return nil
	case <-r.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View asks the room for a consistent copy of its state.
func (r *Room) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := r.Send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.ctx.Done():
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Retire stops the room if it is still idle: no players, no subscribers and
// nothing queued or being sent. It reports whether the room stopped; once it
// has, every later Send fails with ErrClosed.
func (r *Room) Retire(ctx context.Context) (bool, error) {
	reply := make(chan bool, 1)
	select {
	case r.inbox <- retire{reply: reply}:
	case <-r.ctx.Done():
		return false, ErrClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case ok := <-reply:
		return ok, nil
	case <-r.ctx.Done():
		select {
		case ok := <-reply:
			return ok, nil
		default:
			return false, ErrClosed
		}
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case FromClient:
				r.handle(msg)

			case Disconnect:
				r.disconnect(msg.ClientID)

			case GetState:
				msg.Reply <- View{
					Version:    r.version,
					NumClients: len(r.clients),
					State:      r.state,
				}

			case idleFired:
				if msg.gen != r.idleGen {
					break
				}
				r.idle = nil
				if r.empty() && r.cfg.OnIdle != nil {
					r.log.Info("room idle", zap.Duration("ttl", r.cfg.IdleTTL))
					r.cfg.OnIdle(r)
				}

			case retire:
				ok := r.tryRetire()
				msg.reply <- ok
				if ok {
					r.log.Info("room retired")
					r.shutdown()
					return
				}

			case Shutdown:
				r.shutdown()
				return
			}
			r.settle()
			r.armIdle()
		}
	}
}

func (r *Room) handle(msg FromClient) {
	events, next, err := engine.Apply(r.state, msg.Cmd)
	if err != nil {
		r.log.Debug("command rejected",
			zap.String("op", msg.Op),
			zap.String("player", msg.Cmd.PlayerID),
			zap.Error(err))
		r.sendTo(msg.ClientID, msg.Outbox, msg.Evict, types.Reject(msg.Op, r.id, err))
		return
	}

	if msg.Cmd.Type == engine.CmdJoin {
		// Subscribe before broadcasting so the joiner sees its own playerList.
		sub := r.clients[msg.ClientID]
		if sub == nil {
			sub = &subscriber{outbox: msg.Outbox, evict: msg.Evict}
			r.clients[msg.ClientID] = sub
		}
		if !slices.Contains(sub.players, msg.Cmd.PlayerID) {
			sub.players = append(sub.players, msg.Cmd.PlayerID)
		}
		r.log.Info("player joined",
			zap.String("player", msg.Cmd.PlayerID),
			zap.String("client", msg.ClientID),
			zap.Int("players", len(next.Players)))
	}

	r.state = next
	r.version++
	r.publish(msg.ClientID, msg.Outbox, msg.Evict, events)
}

func (r *Room) disconnect(clientID string) {
	sub, ok := r.clients[clientID]
	if !ok {
		return
	}
	delete(r.clients, clientID)
	r.gone = append(r.gone, departure{clientID: clientID, players: sub.players})
}

// settle removes the players of every connection that went away while the
// last message was handled.
func (r *Room) settle() {
	for len(r.gone) > 0 {
		d := r.gone[0]
		r.gone = r.gone[1:]
		for _, playerID := range d.players {
			r.leave(d.clientID, playerID)
		}
	}
}

// leave removes the player bound to a departed connection unless a newer
// connection has re-joined under the same player id.
func (r *Room) leave(clientID, playerID string) {
	if playerID == "" {
		return
	}
	for _, other := range r.clients {
		if slices.Contains(other.players, playerID) {
			return
		}
	}

	events, next, err := engine.Apply(r.state, engine.Command{Type: engine.CmdLeave, PlayerID: playerID})
	if err != nil {
		return
	}
	r.state = next
	r.version++
	r.log.Info("player left",
		zap.String("player", playerID),
		zap.String("client", clientID),
		zap.Int("players", len(next.Players)))
	r.publish(clientID, nil, nil, events)
}

func (r *Room) publish(clientID string, outbox chan<- wire.ServerMessage, evict func(), events []engine.Event) {
	entries := make([]journal.Entry, 0, len(events))
	for _, e := range events {
		out := wire.ServerMessage{Event: e.Name, Data: e.Data}
		if e.Direct {
			r.sendTo(clientID, outbox, evict, out)
		} else {
			r.broadcast(out)
		}

		payload, err := json.Marshal(e.Data)
		if err != nil {
			r.log.Warn("unable to encode journal payload", zap.String("event", e.Name), zap.Error(err))
			continue
		}
		entries = append(entries, journal.Entry{
			RoomID:   r.id,
			Event:    e.Name,
			PlayerID: e.PlayerID,
			Direct:   e.Direct,
			Payload:  string(payload),
		})
	}
	r.cfg.Journal.Append(entries...)
}

func (r *Room) sendTo(clientID string, outbox chan<- wire.ServerMessage, evict func(), out wire.ServerMessage) {
	if outbox == nil {
		return
	}
	select {
	case outbox <- out:
	default:
		r.drop(clientID, evict)
	}
}

func (r *Room) broadcast(out wire.ServerMessage) {
	for id, sub := range r.clients {
		select {
		case sub.outbox <- out:
			// ok
		default:
			// Client is slow/full - drop them.
			r.drop(id, sub.evict)
		}
	}
}

// drop forgets a slow subscriber and asks its connection to close. Its
// player leaves once the current message is settled.
func (r *Room) drop(clientID string, evict func()) {
	if sub, ok := r.clients[clientID]; ok {
		delete(r.clients, clientID)
		r.gone = append(r.gone, departure{clientID: clientID, players: sub.players})
		r.log.Warn("dropping slow client", zap.String("client", clientID), zap.Strings("players", sub.players))
	}
	if evict != nil {
		evict()
	}
}

func (r *Room) empty() bool {
	return len(r.clients) == 0 && len(r.state.Players) == 0
}

// tryRetire closes the room to new sends if it is empty and nothing is queued
// behind the retire request.
func (r *Room) tryRetire() bool {
	if !r.empty() {
		return false
	}
	if !r.sendMu.TryLock() {
		return false
	}
	defer r.sendMu.Unlock()
	if len(r.inbox) > 0 {
		return false
	}
	r.closed = true
	return true
}

// armIdle starts the idle countdown when the room becomes empty and cancels
// it when someone arrives. Fires from a cancelled countdown carry a stale
// generation and are ignored.
func (r *Room) armIdle() {
	if r.cfg.IdleTTL <= 0 {
		return
	}
	if !r.empty() {
		if r.idle != nil {
			r.idle.Stop()
			r.idle = nil
			r.idleGen++
		}
		return
	}
	if r.idle != nil {
		return
	}
	r.idleGen++
	gen := r.idleGen
	r.idle = time.AfterFunc(r.cfg.IdleTTL, func() {
		select {
		case r.inbox <- idleFired{gen: gen}:
		case <-r.ctx.Done():
		}
	})
}

func (r *Room) shutdown() {
	if r.idle != nil {
		r.idle.Stop()
	}
	clear(r.clients)
	r.cancel()
}
