package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"copytrader/internal/config"
	"copytrader/internal/engine"
)

// Server runs the HTTP/WebSocket operator control surface described in
// spec.md §6: wallet management, config edits, engine lifecycle,
// trade/issue history, a live event feed, and a Prometheus /metrics
// endpoint.
type Server struct {
	cfg      config.ControlConfig
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates the control server and wires every route around an
// already-constructed Hub (typically the same Hub passed to the
// Coordinator as its EventSink, so trade/lifecycle events reach both the
// WebSocket feed and whatever else observes the engine). Metrics are
// served from the default Prometheus registry, the same registry
// metrics.NewRecorder registers against.
func NewServer(cfg config.ControlConfig, eng *engine.Engine, hub *Hub, logger *slog.Logger) *Server {
	handlers := NewHandlers(eng, cfg, hub, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/wallets", handlers.HandleListWallets)
	mux.HandleFunc("POST /api/wallets", handlers.HandleAddWallet)
	mux.HandleFunc("DELETE /api/wallets/{addr}", handlers.HandleRemoveWallet)
	mux.HandleFunc("POST /api/wallets/{addr}/active", handlers.HandleSetActive)
	mux.HandleFunc("POST /api/wallets/{addr}/label", handlers.HandleSetLabel)
	mux.HandleFunc("POST /api/wallets/{addr}/policy", handlers.HandleUpdatePolicy)

	mux.HandleFunc("GET /api/config/stop-loss", handlers.HandleGetStopLoss)
	mux.HandleFunc("POST /api/config/stop-loss", handlers.HandleSetStopLoss)
	mux.HandleFunc("GET /api/config/trade-size", handlers.HandleGetTradeSize)
	mux.HandleFunc("POST /api/config/trade-size", handlers.HandleSetTradeSize)
	mux.HandleFunc("GET /api/config/interval", handlers.HandleGetInterval)
	mux.HandleFunc("POST /api/config/interval", handlers.HandleSetInterval)

	mux.HandleFunc("GET /api/engine/status", handlers.HandleEngineStatus)
	mux.HandleFunc("POST /api/engine/start", handlers.HandleEngineStart)
	mux.HandleFunc("POST /api/engine/stop", handlers.HandleEngineStop)
	mux.HandleFunc("POST /api/engine/reload-credentials", handlers.HandleReloadCredentials)

	mux.HandleFunc("GET /api/trades/recent", handlers.HandleRecentTrades)
	mux.HandleFunc("GET /api/trades/failed", handlers.HandleFailedTrades)
	mux.HandleFunc("GET /api/issues", handlers.HandleListIssues)
	mux.HandleFunc("POST /api/issues/{id}/resolve", handlers.HandleResolveIssue)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		hub:      hub,
		handlers: handlers,
		server:   httpServer,
		logger:   logger.With("component", "control-server"),
	}
}

// Hub exposes the event hub so the caller can register it as the
// Coordinator's EventSink.
func (s *Server) Hub() *Hub { return s.hub }

// Start starts the WebSocket hub and the HTTP server. Blocks until the
// server stops or errors.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("control server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping control server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
