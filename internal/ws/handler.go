package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/DoyleJ11/metropoly-server/internal/engine"
	"github.com/DoyleJ11/metropoly-server/internal/hub"
	"github.com/DoyleJ11/metropoly-server/internal/room"
	"github.com/DoyleJ11/metropoly-server/internal/types"
	wire "github.com/DoyleJ11/metropoly-server/pkg/types"
)

type Config struct {
	WriteTimeout time.Duration
	PingPeriod   time.Duration
	ReadLimit    int64
	OutboxSize   int
	// AllowedOrigins holds full origins ("https://host:port") or "*".
	AllowedOrigins []string
	Log            *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 25 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = 32
	}
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
	return c
}

// requestTimeout bounds each hub or room round trip made on behalf of a frame.
const requestTimeout = 5 * time.Second

func Handler(h *hub.Hub, cfg Config) http.HandlerFunc {
	cfg = cfg.withDefaults()
	log := cfg.Log.Named("ws")
	opts := acceptOptions(cfg.AllowedOrigins)

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			log.Debug("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}
		defer conn.CloseNow()
		conn.SetReadLimit(cfg.ReadLimit)

		s := newSession(r.Context(), h, conn, cfg, log)
		s.log.Info("client connected", zap.String("remote", r.RemoteAddr))
		err = s.run()
		s.leaveAll()

		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			s.log.Info("client disconnected")
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
		default:
			s.log.Info("client dropped", zap.Error(err))
			_ = conn.Close(websocket.StatusPolicyViolation, "closing")
		}
	}
}

func acceptOptions(allowed []string) *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, origin := range allowed {
		if origin == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			opts.OriginPatterns = append(opts.OriginPatterns, u.Host)
		} else {
			opts.OriginPatterns = append(opts.OriginPatterns, origin)
		}
	}
	return opts
}

// session is one websocket connection. Its reader goroutine owns rooms; the
// rooms it joined write to out, which only the writer goroutine drains.
type session struct {
	id     string
	hub    *hub.Hub
	conn   *websocket.Conn
	out    chan wire.ServerMessage
	rooms  map[string]*room.Room
	cfg    Config
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(parent context.Context, h *hub.Hub, conn *websocket.Conn, cfg Config, log *zap.Logger) *session {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	return &session{
		id:     id,
		hub:    h,
		conn:   conn,
		out:    make(chan wire.ServerMessage, cfg.OutboxSize),
		rooms:  make(map[string]*room.Room),
		cfg:    cfg,
		log:    log.With(zap.String("client", id)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// run returns once either side of the connection stops.
func (s *session) run() error {
	g, ctx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		defer s.cancel()
		return s.writeLoop(ctx)
	})
	g.Go(func() error {
		defer s.cancel()
		return s.readLoop(ctx)
	})
	return g.Wait()
}

func (s *session) writeLoop(ctx context.Context) error {
	ping := time.NewTicker(s.cfg.PingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg := <-s.out:
			wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := wsjson.Write(wctx, s.conn, msg)
			cancel()
			if err != nil {
				return fmt.Errorf("write %s: %w", msg.Event, err)
			}

		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := s.conn.Ping(pctx)
			cancel()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (s *session) readLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}

		cm, p, err := types.Decode(data)
		if err != nil {
			s.log.Debug("bad frame", zap.Error(err))
			s.reply(types.Reject(cm.Event, p.RoomID, err))
			continue
		}
		s.dispatch(ctx, cm.Event, p)
	}
}

func (s *session) dispatch(ctx context.Context, event string, p types.ClientPayload) {
	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	switch event {
	case wire.EventCreateRoom:
		id, _, err := s.hub.Create(rctx)
		if err != nil {
			s.log.Warn("create room failed", zap.Error(err))
			s.reply(types.Reject(event, "", err))
			return
		}
		s.reply(wire.ServerMessage{Event: wire.EventRoomCreated, Data: id})

	case wire.EventGetRooms:
		list, err := s.hub.List(rctx)
		if err != nil {
			s.reply(types.Reject(event, "", err))
			return
		}
		s.reply(wire.ServerMessage{Event: wire.EventRoomList, Data: list})

	default:
		cmd, ok := types.ToCommand(event, p)
		if !ok {
			s.reply(types.Reject(event, p.RoomID, fmt.Errorf("%w: %s", engine.ErrUnsupportedCommand, event)))
			return
		}
		if p.RoomID == "" {
			s.reply(types.Reject(event, "", fmt.Errorf("%w: missing roomId", types.ErrBadRequest)))
			return
		}
		if cmd.PlayerID == "" {
			// Checked here so a bad join never creates the room.
			s.reply(types.Reject(event, p.RoomID, engine.ErrInvalidPlayer))
			return
		}
		if err := s.forward(rctx, event, p.RoomID, cmd); err != nil {
			s.reply(types.Reject(event, p.RoomID, err))
		}
	}
}

// forward hands cmd to the room. Joins create the room on demand; every other
// command needs an existing room.
func (s *session) forward(ctx context.Context, event, roomID string, cmd engine.Command) error {
	join := cmd.Type == engine.CmdJoin
	msg := room.FromClient{
		ClientID: s.id,
		Outbox:   s.out,
		Evict:    s.cancel,
		Op:       event,
		Cmd:      cmd,
	}

	// A room reaped between lookup and send is retried once.
	for attempt := 0; attempt < 2; attempt++ {
		rm, err := s.lookup(ctx, roomID, join)
		if err != nil {
			return err
		}
		err = rm.Send(ctx, msg)
		if err == nil {
			if join {
				s.rooms[roomID] = rm
			}
			return nil
		}
		delete(s.rooms, roomID)
		if !errors.Is(err, room.ErrClosed) {
			return err
		}
	}
	return fmt.Errorf("%w: %s", engine.ErrRoomNotFound, roomID)
}

func (s *session) lookup(ctx context.Context, roomID string, create bool) (*room.Room, error) {
	if rm := s.rooms[roomID]; rm != nil {
		select {
		case <-rm.Done():
		default:
			return rm, nil
		}
	}
	if create {
		return s.hub.Ensure(ctx, roomID)
	}
	return s.hub.Get(ctx, roomID)
}

// reply queues a message for this connection only. A full outbox closes the
// connection, same as a room dropping a slow subscriber.
func (s *session) reply(msg wire.ServerMessage) {
	select {
	case s.out <- msg:
	default:
		s.log.Warn("outbox full, closing", zap.String("event", msg.Event))
		s.cancel()
	}
}

// leaveAll tells every joined room that this connection is gone.
func (s *session) leaveAll() {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	for id, rm := range s.rooms {
		if err := rm.Send(ctx, room.Disconnect{ClientID: s.id}); err != nil && !errors.Is(err, room.ErrClosed) {
			s.log.Warn("disconnect not delivered", zap.String("room", id), zap.Error(err))
		}
	}
	clear(s.rooms)
}
