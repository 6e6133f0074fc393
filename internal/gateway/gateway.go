// ABOUTME: Gateway orchestrator that wires the registry, relay, and HTTP server
// ABOUTME: Manages route registration, startup, and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fleetgate/fleetgate/internal/config"
	"github.com/fleetgate/fleetgate/internal/mediacache"
	"github.com/fleetgate/fleetgate/internal/protocol"
	"github.com/fleetgate/fleetgate/internal/registry"
	"github.com/fleetgate/fleetgate/internal/relay"
)

// Gateway orchestrates the fleetgate server components. It owns the
// connection registry, the command router, the event relay, and the
// HTTP server that fronts every transport.
type Gateway struct {
	config     *config.Config
	registry   *registry.Registry
	media      *mediacache.Cache
	relay      *relay.Relay
	router     *relay.Router
	longpoll   *longPoll
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg := registry.New(logger)
	media := mediacache.New(cfg.Media.TTL)
	rly := relay.New(reg, media, relay.Mode(cfg.Relay.Mode), logger)
	router := relay.NewRouter(reg, media, logger)

	g := &Gateway{
		config:   cfg,
		registry: reg,
		media:    media,
		relay:    rly,
		router:   router,
		logger:   logger.With("component", "gateway"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	// Panel-facing API
	r.Get("/api/agents", g.handleListAgents)
	r.Post("/api/send-command", g.handleSendCommand)
	r.Get("/api/get_media_list/{device_id}", g.handleMediaList)
	r.Get("/api/fetch_status/{device_id}", g.handleFetchStatus)
	r.Get("/api/agent_events/{device_id}", g.handleAgentEvents)

	// Agent-facing media submission (used by both transports)
	r.Post("/api/submit_media_chunk/{device_id}", g.handleSubmitMediaChunk)

	switch cfg.Transport.Mode {
	case "longpoll":
		g.longpoll = newLongPoll(reg, rly, media, cfg.Agents.HeartbeatTTL, cfg.Agents.PollTimeout, logger)
		r.Post("/heartbeat/{device_id}/{device_name}", g.longpoll.handleHeartbeat)
		r.Get("/poll_commands/{device_id}", g.longpoll.handlePoll)
		// Panels still attach over websocket in long-poll deployments.
		r.Get("/ws/{device_id}/{device_name}", g.handleWS)
	default:
		r.Get("/ws/{device_id}/{device_name}", g.handleWS)
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Router exposes the HTTP handler, primarily for tests that mount the
// gateway behind httptest.Server.
func (g *Gateway) Router() http.Handler {
	return g.httpServer.Handler
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if
// the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.longpoll != nil {
		g.longpoll.start()
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening",
			"addr", ln.Addr().String(),
			"transport", g.config.Transport.Mode,
			"relay", g.config.Relay.Mode,
		)
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases in-memory resources.
// All registry and cache state is discarded: agents re-register on
// reconnect and media listings are re-fetched on demand.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	err := g.httpServer.Shutdown(ctx)

	for _, conn := range g.registry.Senders(protocol.RoleAgent) {
		_ = conn.Sender.Close()
	}
	for _, conn := range g.registry.Senders(protocol.RolePanel) {
		_ = conn.Sender.Close()
	}

	if g.longpoll != nil {
		g.longpoll.stop()
	}
	g.media.Close()

	if err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the server has at least one agent connected.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n := g.registry.Count(protocol.RoleAgent)
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", n)
}
