package hub

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/metropoly-server/internal/engine"
	"github.com/DoyleJ11/metropoly-server/internal/journal"
	"github.com/DoyleJ11/metropoly-server/internal/room"
	wire "github.com/DoyleJ11/metropoly-server/pkg/types"
)

type HubMsg interface{ isHubMsg() }

type Created struct {
	ID   string
	Room *room.Room
	Err  error
}

type CreateRoom struct {
	Reply chan Created
}

type GetRoom struct {
	ID    string
	Reply chan *room.Room
}

type EnsureRoom struct {
	ID    string
	Reply chan *room.Room
}

type ListRooms struct {
	Reply chan []*room.Room
}

// RemoveRoom forgets the room only if it is still the one registered under ID
// and it agrees to retire.
type RemoveRoom struct {
	ID   string
	Room *room.Room
}

type ShutdownHub struct {
	Done chan struct{}
}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (EnsureRoom) isHubMsg()  {}
func (ListRooms) isHubMsg()   {}
func (RemoveRoom) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

type Config struct {
	Rules   engine.Rules
	IdleTTL time.Duration
	Journal journal.Appender
	Log     *zap.Logger
	// NewID overrides room id generation in tests.
	NewID func() (string, error)
}

type Hub struct {
	inbox chan HubMsg
	rooms map[string]*room.Room
	cfg   Config
	log   *zap.Logger
	ctx   context.Context
	// cancel stops every room; rooms derive their context from ctx.
	cancel context.CancelFunc
}

func NewHub(parent context.Context, cfg Config) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.NewID == nil {
		cfg.NewID = GenerateRoomID
	}
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		cfg:    cfg,
		log:    cfg.Log.Named("hub"),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			clear(h.rooms)
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				var id string
				for {
					c, err := h.cfg.NewID()
					if err != nil {
						msg.Reply <- Created{Err: fmt.Errorf("generating room id: %w", err)}
						break
					}
					if h.rooms[c] == nil {
						id = c
						break
					}
					h.log.Debug("collision on room id, regenerating", zap.String("room", c))
				}
				if id == "" {
					break
				}
				rm := h.newRoom(id)
				msg.Reply <- Created{ID: id, Room: rm}

			case GetRoom:
				msg.Reply <- h.rooms[msg.ID] // May be nil

			case EnsureRoom:
				if rm := h.rooms[msg.ID]; rm != nil {
					msg.Reply <- rm
					break
				}
				msg.Reply <- h.newRoom(msg.ID)

			case ListRooms:
				out := make([]*room.Room, 0, len(h.rooms))
				for _, rm := range h.rooms {
					out = append(out, rm)
				}
				msg.Reply <- out

			case RemoveRoom:
				rm := h.rooms[msg.ID]
				if rm == nil || rm != msg.Room {
					break
				}
				// The room has the final say: someone may have joined since
				// it reported idle.
				retired, err := rm.Retire(h.ctx)
				if err != nil && !errors.Is(err, room.ErrClosed) {
					break
				}
				if !retired && err == nil {
					h.log.Debug("room busy again, kept", zap.String("room", msg.ID))
					break
				}
				delete(h.rooms, msg.ID)
				h.log.Info("room removed", zap.String("room", msg.ID), zap.Int("rooms", len(h.rooms)))

			case ShutdownHub:
				for _, rm := range h.rooms {
					_ = rm.Send(h.ctx, room.Shutdown{})
				}
				clear(h.rooms)
				h.cancel()
				if msg.Done != nil {
					close(msg.Done)
				}
				return
			}
		}
	}
}

func (h *Hub) newRoom(id string) *room.Room {
	rm := room.NewRoom(h.ctx, engine.NewState(id, h.cfg.Rules), room.Config{
		IdleTTL: h.cfg.IdleTTL,
		OnIdle: func(idle *room.Room) {
			// Called from the room's goroutine; never block it on the hub.
			go func() {
				select {
				case h.inbox <- RemoveRoom{ID: idle.ID(), Room: idle}:
				case <-h.ctx.Done():
				}
			}()
		},
		Journal: h.cfg.Journal,
		Log:     h.cfg.Log,
	})
	h.rooms[id] = rm
	h.log.Info("room created", zap.String("room", id), zap.Int("rooms", len(h.rooms)))
	return rm
}

func (h *Hub) ask(ctx context.Context, msg HubMsg) error {
	if h.ctx.Err() != nil {
		return context.Canceled
	}
	select {
	case h.inbox <- msg:
		return nil
	case <-h.ctx.Done():
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, h *Hub, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-h.ctx.Done():
		return zero, context.Canceled
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Create registers a room under a fresh id.
func (h *Hub) Create(ctx context.Context) (string, *room.Room, error) {
	reply := make(chan Created, 1)
	if err := h.ask(ctx, CreateRoom{Reply: reply}); err != nil {
		return "", nil, err
	}
	c, err := await(ctx, h, reply)
	if err != nil {
		return "", nil, err
	}
	return c.ID, c.Room, c.Err
}

// Ensure returns the room registered under id, creating it if needed.
func (h *Hub) Ensure(ctx context.Context, id string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	if err := h.ask(ctx, EnsureRoom{ID: id, Reply: reply}); err != nil {
		return nil, err
	}
	return await(ctx, h, reply)
}

// Get returns engine.ErrRoomNotFound for unknown ids.
func (h *Hub) Get(ctx context.Context, id string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	if err := h.ask(ctx, GetRoom{ID: id, Reply: reply}); err != nil {
		return nil, err
	}
	rm, err := await(ctx, h, reply)
	if err != nil {
		return nil, err
	}
	if rm == nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrRoomNotFound, id)
	}
	return rm, nil
}

// List summarizes every room, sorted by id. Rooms that stop while being
// asked are skipped.
func (h *Hub) List(ctx context.Context) ([]wire.RoomSummary, error) {
	reply := make(chan []*room.Room, 1)
	if err := h.ask(ctx, ListRooms{Reply: reply}); err != nil {
		return nil, err
	}
	rooms, err := await(ctx, h, reply)
	if err != nil {
		return nil, err
	}

	out := make([]wire.RoomSummary, 0, len(rooms))
	for _, rm := range rooms {
		v, err := rm.View(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		out = append(out, wire.RoomSummary{ID: rm.ID(), PlayerCount: len(v.State.Players)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Shutdown stops every room and the hub itself.
func (h *Hub) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	if err := h.ask(ctx, ShutdownHub{Done: done}); err != nil {
		if h.ctx.Err() != nil {
			return nil
		}
		return err
	}
	select {
	case <-done:
		return nil
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const roomIDCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// RoomIDLength matches the 8 base36 characters clients already share.
const RoomIDLength = 8

func GenerateRoomID() (string, error) {
	code := make([]byte, RoomIDLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomIDCharset))))
		if err != nil {
			return "", err
		}
		code[i] = roomIDCharset[num.Int64()]
	}
	return string(code), nil
}
