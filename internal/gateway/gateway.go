// ABOUTME: Gateway orchestrator wiring the store, hub, relay, and dispatch together
// ABOUTME: Owns the HTTP server, websocket endpoints, and background sweepers

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/craterhq/crater/internal/action"
	"github.com/craterhq/crater/internal/auth"
	"github.com/craterhq/crater/internal/config"
	"github.com/craterhq/crater/internal/conversation"
	"github.com/craterhq/crater/internal/dispatch"
	"github.com/craterhq/crater/internal/fanout"
	"github.com/craterhq/crater/internal/hub"
	"github.com/craterhq/crater/internal/node"
	"github.com/craterhq/crater/internal/relay"
	"github.com/craterhq/crater/internal/store"
)

// Gateway orchestrates the crater server components. It owns the HTTP
// server for websocket and API endpoints and the background loops that
// keep node state honest.
type Gateway struct {
	config        *config.Config
	store         store.Store
	hub           *hub.Hub
	registry      *node.Registry
	correlator    *relay.Correlator
	dispatcher    *dispatch.Dispatcher
	fanout        *fanout.Fanout
	actions       *action.Service
	conversations *conversation.Service
	verifier      *auth.JWTVerifier
	httpServer    *http.Server
	logger        *slog.Logger

	cancel context.CancelFunc
}

// initStore creates a store from config, honoring the CRATER_DB_PATH override.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CRATER_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New builds a fully wired gateway from config.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	h := hub.New(logger)
	registry := node.NewRegistry(st, logger)
	correlator := relay.New(h, logger)
	dispatcher := dispatch.New(correlator, h, registry, st, dispatch.Options{
		CallTimeout:   cfg.Dispatch.CallTimeout,
		BackupTimeout: cfg.Dispatch.BackupTimeout,
	}, logger)
	fan := fanout.New(h, st, logger)
	actions := action.NewService(st, action.NewDispatchRegistry(dispatcher), logger)
	conversations := conversation.New(st, logger)
	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	gw := &Gateway{
		config:        cfg,
		store:         st,
		hub:           h,
		registry:      registry,
		correlator:    correlator,
		dispatcher:    dispatcher,
		fanout:        fan,
		actions:       actions,
		conversations: conversations,
		verifier:      verifier,
		logger:        logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Dispatcher exposes the command facade for external callers (HTTP
// handlers, schedulers).
func (g *Gateway) Dispatcher() *dispatch.Dispatcher {
	return g.dispatcher
}

// Actions exposes the action lifecycle service.
func (g *Gateway) Actions() *action.Service {
	return g.actions
}

// Start runs the gateway until ctx is cancelled or the listener fails.
// Stuck approved actions from a previous run are failed before any new
// work is accepted.
func (g *Gateway) Start(ctx context.Context) error {
	ctx, g.cancel = context.WithCancel(ctx)

	if _, err := g.actions.ReconcileStuck(ctx, time.Now()); err != nil {
		return err
	}

	g.registry.StartSweeper(ctx, g.config.Nodes.HeartbeatInterval, g.config.Nodes.HeartbeatWindow)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", g.config.Server.HTTPAddr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return g.Shutdown()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

// Shutdown stops the HTTP server, background loops, and store.
func (g *Gateway) Shutdown() error {
	g.logger.Info("shutting down")
	if g.cancel != nil {
		g.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
		g.logger.Warn("http shutdown failed", "error", err)
	}

	g.correlator.Close()
	if err := g.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}
