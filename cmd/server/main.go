package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/metropoly-server/internal/config"
	"github.com/DoyleJ11/metropoly-server/internal/httpapi"
	"github.com/DoyleJ11/metropoly-server/internal/hub"
	"github.com/DoyleJ11/metropoly-server/internal/journal"
	"github.com/DoyleJ11/metropoly-server/internal/logging"
	"github.com/DoyleJ11/metropoly-server/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	stopped := make(chan struct{})

	var appender journal.Appender = journal.Nop{}
	if cfg.DatabaseURL != "" {
		db, err := journal.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		w := journal.NewWriter(db, log, journal.Options{})
		appender = w
		// The writer outlives the hub so the last events still get flushed.
		jctx, jcancel := context.WithCancel(context.Background())
		defer jcancel()
		g.Go(func() error {
			<-stopped
			jcancel()
			return nil
		})
		g.Go(func() error { return w.Run(jctx) })
		log.Info("event journal enabled")
	}

	h := hub.NewHub(context.Background(), hub.Config{
		Rules:   cfg.Rules(),
		IdleTTL: cfg.RoomIdleTTL,
		Journal: appender,
		Log:     log,
	})

	// Build the router *with* the hub injected
	handler := httpapi.SetupRoutes(h, httpapi.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		WS: ws.Config{
			WriteTimeout: cfg.WSWriteTimeout,
			PingPeriod:   cfg.WSPingPeriod,
			ReadLimit:    cfg.WSReadLimit,
			OutboxSize:   cfg.OutboxSize,
		},
		Log: log,
	})
	// Websocket sessions hang off BaseContext; Shutdown does not wait for
	// hijacked connections, so cancel them explicitly.
	base, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     handler,
		ErrorLog:    zap.NewStdLog(log.Named("http")),
		BaseContext: func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancelBase)

	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := multierr.Combine(
			srv.Shutdown(sctx),
			h.Shutdown(sctx),
		)
		close(stopped)
		return err
	})

	return g.Wait()
}
