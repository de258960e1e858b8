package httpapi

import (
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/DoyleJ11/metropoly-server/internal/hub"
	"github.com/DoyleJ11/metropoly-server/internal/logging"
	"github.com/DoyleJ11/metropoly-server/internal/ws"
)

type Config struct {
	AllowedOrigins []string
	WS             ws.Config
	Log            *zap.Logger
	// Started is shown on the status page; zero means now.
	Started time.Time
}

func SetupRoutes(h *hub.Hub, cfg Config) http.Handler {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Started.IsZero() {
		cfg.Started = time.Now()
	}
	if cfg.WS.Log == nil {
		cfg.WS.Log = cfg.Log
	}
	cfg.WS.AllowedOrigins = cfg.AllowedOrigins
	log := cfg.Log.Named("http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(corsOptions(cfg.AllowedOrigins)))

	// Public routes
	r.Get("/", Status(h, cfg.Started))
	r.Get("/health", Health)
	r.Get("/ws", ws.Handler(h, cfg.WS))

	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", CreateRoom(h, log))
		r.Get("/", ListRooms(h, log))
		r.Get("/{roomID}", GetRoom(h, log))
	})
	return r
}

// corsOptions allows the configured origins with credentials. "*" accepts
// any origin and echoes it back, since browsers refuse a literal "*" on
// credentialed requests.
func corsOptions(allow []string) cors.Options {
	opts := cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if slices.Contains(allow, "*") {
		opts.AllowOriginFunc = func(*http.Request, string) bool { return true }
		return opts
	}
	opts.AllowedOrigins = allow
	if len(allow) == 0 {
		opts.AllowOriginFunc = func(*http.Request, string) bool { return false }
	}
	return opts
}
