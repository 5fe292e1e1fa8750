// Copytrader — a copy-trading engine for a prediction-market venue.
//
// Architecture:
//
//	main.go                   — entry point: loads config, starts the Coordinator, waits for SIGINT/SIGTERM
//	internal/engine           — Coordinator: dedup, in-flight tracking, lifecycle, reload
//	internal/detector         — fans in Poller + PushStream into one DetectedTrade stream
//	internal/poller           — periodic trade-history scan per tracked wallet
//	internal/pushstream       — optional WebSocket feed of matched-wallet trades
//	internal/policy           — 12-step per-trade filter/sizing chain
//	internal/execution        — signs, posts, and classifies accepted orders
//	internal/venue            — typed client + signer for the venue's Data/order-book APIs
//	internal/storage          — tracked wallets, config, ledger, rolling trade/issue buffers
//	internal/control          — operator-facing HTTP/WebSocket control surface + Prometheus metrics
//
// Data flow: Poller ∪ PushStream -> Detector -> Coordinator (dedup) ->
// PolicyEngine -> Executor -> Storage.ledger + metrics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"copytrader/internal/config"
	"copytrader/internal/control"
	"copytrader/internal/engine"
	"copytrader/internal/metrics"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)

	var controlServer *control.Server
	var sink engine.EventSink
	if cfg.Control.Enabled {
		hub := control.NewHub(logger)
		sink = hub
		eng := engine.New(*cfg, recorder, sink, logger)
		controlServer = control.NewServer(cfg.Control, eng, hub, logger)
		run(cfg, logger, controlServer, eng)
		return
	}

	eng := engine.New(*cfg, recorder, sink, logger)
	run(cfg, logger, nil, eng)
}

// run performs Initialize/Start, starts the control server if present, and
// blocks until a shutdown signal arrives.
func run(cfg *config.Config, logger *slog.Logger, controlServer *control.Server, eng *engine.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := eng.Initialize(ctx); err != nil {
		cancel()
		logger.Error("failed to initialize engine", "error", err)
		os.Exit(1)
	}
	cancel()

	if controlServer != nil {
		go func() {
			if err := controlServer.Start(); err != nil {
				logger.Error("control server failed", "error", err)
			}
		}()
		logger.Info("control surface started", "url", fmt.Sprintf("http://localhost:%d", cfg.Control.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("copytrader started",
		"default_trade_size_usd", cfg.Global.DefaultTradeSizeUsd,
		"poll_interval", cfg.Global.PollInterval,
		"stop_loss_enabled", cfg.Global.StopLoss.Enabled,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if controlServer != nil {
		if err := controlServer.Stop(); err != nil {
			logger.Error("failed to stop control server", "error", err)
		}
	}

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
