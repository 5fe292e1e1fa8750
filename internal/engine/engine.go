// Package engine implements the Coordinator: it owns the
// Detector -> PolicyEngine -> Executor pipeline, the cross-source dedup
// maps, the in-flight set, and the start/stop/reload lifecycle that ties
// every other package together.
//
// Lifecycle: New() -> Initialize() -> Start() -> [runs] -> Stop().
// Credential reload performs a running -> stopping -> initialized ->
// running cycle in place.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"copytrader/internal/config"
	"copytrader/internal/detector"
	"copytrader/internal/execution"
	"copytrader/internal/metrics"
	"copytrader/internal/policy"
	"copytrader/internal/poller"
	"copytrader/internal/pushstream"
	"copytrader/internal/storage"
	"copytrader/internal/venue"
	"copytrader/pkg/types"
)

const (
	txHashTTL       = 60 * time.Minute
	compoundKeyTTL  = 5 * time.Minute
	cleanupInterval = 1 * time.Minute
	drainTimeout    = 30 * time.Second
)

// State is the Coordinator's lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateInitialized State = "initialized"
	StateRunning     State = "running"
	StateStopping    State = "stopping"
	StateStopped     State = "stopped"
)

// EventSink receives lifecycle/trade notifications for an optional
// operator-facing control surface. Nil-safe: Engine never requires one.
type EventSink interface {
	Publish(eventType string, payload interface{})
}

// Engine is the Coordinator: it merges the Poller and PushStream through
// the Detector, deduplicates, evaluates the PolicyEngine, executes
// accepted orders, and records bookkeeping. All of its mutable
// dedup/in-flight state is private and mutated only from its own
// processing loop.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	storage    *storage.Store
	venue      *venue.Client
	signer     *venue.Signer
	poller     *poller.Poller
	pushstream *pushstream.Stream
	detector   *detector.Detector
	policy     *policy.Engine
	executor   *execution.Executor
	metrics    *metrics.Recorder
	sink       EventSink

	stateMu sync.Mutex
	state   State

	dedupMu    sync.Mutex
	byTxHash   map[string]time.Time
	byCompound map[string]time.Time
	inFlight   map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an uninitialized Engine. Call Initialize before Start.
func New(cfg config.Config, metricsRecorder *metrics.Recorder, sink EventSink, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		logger:     logger.With("component", "coordinator"),
		metrics:    metricsRecorder,
		sink:       sink,
		state:      StateIdle,
		byTxHash:   make(map[string]time.Time),
		byCompound: make(map[string]time.Time),
		inFlight:   make(map[string]struct{}),
	}
}

// Initialize builds the VenueClient (deriving L2 credentials if needed),
// opens Storage, cleans expired ledger entries using the longest
// configured per-wallet block window, and wires the Detector/PolicyEngine/
// Executor. It does not start any goroutines.
func (e *Engine) Initialize(ctx context.Context) error {
	signer, err := venue.NewSigner(e.cfg)
	if err != nil {
		return fmt.Errorf("build signer: %w", err)
	}
	e.signer = signer

	client := venue.NewClient(e.cfg, signer, e.logger)
	if !signer.HasL2Credentials() {
		if _, err := client.DeriveApiCredentials(ctx); err != nil {
			return fmt.Errorf("derive L2 credentials: %w", err)
		}
	}
	e.venue = client

	st, err := storage.Open(e.cfg.Store.DataDir, e.cfg.Global.AsTypes())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	e.storage = st

	if removed, err := st.CleanupExpiredPositions(e.longestBlockWindowHours()); err != nil {
		e.logger.Warn("ledger cleanup failed", "error", err)
	} else if removed > 0 {
		e.logger.Info("cleaned up expired ledger entries", "removed", removed)
	}

	operatorAddr := signer.FunderAddress().Hex()
	e.policy = policy.New(st, st, client, st.LoadConfig(), operatorAddr, e.logger)
	e.executor = execution.New(client, e.logger)
	e.poller = poller.New(e.cfg.Global.PollInterval, st, client, st, e.logger)

	if e.cfg.API.WSURL != "" {
		e.pushstream = pushstream.New(e.cfg.API.WSURL, e.logger)
	}

	e.setState(StateInitialized)
	return nil
}

// longestBlockWindowHours returns the largest per-wallet no-repeat window
// configured across all tracked wallets, used to bound ledger cleanup so
// no-repeat history old enough to never matter again gets compacted.
func (e *Engine) longestBlockWindowHours() int {
	longest := 24 // always keep at least a day, even with no wallets configured
	for _, w := range e.storageOrEmpty() {
		if w.Policy.NoRepeatEnabled && w.Policy.NoRepeatPeriodHours > longest {
			longest = w.Policy.NoRepeatPeriodHours
		}
	}
	return longest
}

func (e *Engine) storageOrEmpty() []types.TrackedWallet {
	if e.storage == nil {
		return nil
	}
	return e.storage.ListWallets()
}

// Start spawns the Poller, attempts the PushStream, and begins consuming
// the merged Detector stream. It is safe to call only after Initialize.
func (e *Engine) Start() error {
	if e.storage == nil || e.venue == nil {
		return fmt.Errorf("engine not initialized")
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())

	// Rebuilt on every Start so a SetPollInterval made while stopped applies.
	e.poller = poller.New(e.cfg.Global.PollInterval, e.storage, e.venue, e.storage, e.logger)

	var pushCh <-chan types.DetectedTrade
	if e.pushstream != nil {
		pushCh = e.pushstream.Events()
		if addrs := activeAddresses(e.storage.ListActive()); len(addrs) > 0 {
			_ = e.pushstream.Subscribe(addrs)
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.pushstream.Run(e.ctx); err != nil && e.ctx.Err() == nil {
				e.logger.Warn("pushstream exited", "error", err)
			}
		}()
	}

	e.detector = detector.New(e.poller.Events(), pushCh)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.poller.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.detector.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.consume()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.cleanupLoop()
	}()

	e.setState(StateRunning)
	e.publish("engine.started", nil)
	return nil
}

// consume reads the Detector's merged stream and processes each trade.
// Distinct trades are processed concurrently; the in-flight set is the
// only thing serializing two trades that collide on tx-hash or compound key.
func (e *Engine) consume() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case t, ok := <-e.detector.Events():
			if !ok {
				return
			}
			e.wg.Add(1)
			go func(trade types.DetectedTrade) {
				defer e.wg.Done()
				e.processTrade(e.ctx, trade)
			}(t)
		}
	}
}

func activeAddresses(wallets []types.TrackedWallet) []string {
	out := make([]string, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, w.Address)
	}
	return out
}

// processTrade implements the dedup/in-flight protocol: the hash and
// compound-key inserts into inFlight (and the hash into byTxHash) happen
// synchronously before any suspension point, so a burst of concurrent
// events for the same underlying trade cannot all pass the check at once.
func (e *Engine) processTrade(ctx context.Context, t types.DetectedTrade) {
	if e.metrics != nil {
		e.metrics.TradesDetected.Inc()
	}

	hash := t.TransactionHash
	compound := t.CompoundKey()

	e.dedupMu.Lock()
	if _, seen := e.byTxHash[hash]; seen {
		e.dedupMu.Unlock()
		return
	}
	if _, seen := e.byCompound[compound]; seen {
		e.dedupMu.Unlock()
		return
	}
	if _, busy := e.inFlight[hash]; busy {
		e.dedupMu.Unlock()
		return
	}
	if _, busy := e.inFlight[compound]; busy {
		e.dedupMu.Unlock()
		return
	}
	e.inFlight[hash] = struct{}{}
	e.inFlight[compound] = struct{}{}
	e.byTxHash[hash] = time.Now()
	e.updateInFlightGaugeLocked()
	e.dedupMu.Unlock()

	defer func() {
		e.dedupMu.Lock()
		delete(e.inFlight, hash)
		delete(e.inFlight, compound)
		e.updateInFlightGaugeLocked()
		e.dedupMu.Unlock()
	}()

	// Fresh policy read on every trade, per step 1 of the acceptance
	// chain: a wallet's snapshot at detection time (or a zero-value
	// snapshot, for pushstream-origin events) may already be stale.
	if w, ok := e.storage.GetWallet(t.SourceWallet); ok {
		t.Policy = w.Policy
	}

	decision := e.policy.Evaluate(ctx, t)

	if !decision.Accepted {
		e.recordCompound(compound)
		if e.metrics != nil {
			e.metrics.RecordRejection(decision.Reason)
		}
		e.storage.RecordTradeMetric(storage.TradeMetric{
			Timestamp: time.Now(),
			Wallet:    t.SourceWallet,
			MarketID:  t.MarketID,
			Status:    "rejected",
			Reason:    decision.Reason,
		})
		e.publish("trade.rejected", decision)
		return
	}

	start := time.Now()
	result := e.executor.Execute(ctx, decision.Order)
	if e.metrics != nil {
		e.metrics.TradesAccepted.Inc()
		e.metrics.ExecutionLatencyMs.Observe(float64(time.Since(start).Milliseconds()))
	}

	switch result.Status {
	case types.StatusExecuted:
		e.recordCompound(compound)
		if err := e.storage.AppendExecutedPosition(t.MarketID, t.Outcome, t.SourceWallet, time.Now()); err != nil {
			e.logger.Error("failed to append ledger entry after successful execution", "error", err)
			e.storage.RecordSystemIssue("coordinator", "ledger append failed after execution: "+err.Error())
		}
		e.policy.RecordExecution(t.SourceWallet)
		if e.metrics != nil {
			e.metrics.TradesExecuted.Inc()
		}
		e.storage.RecordTradeMetric(storage.TradeMetric{
			Timestamp: time.Now(), Wallet: t.SourceWallet, MarketID: t.MarketID, Status: "executed",
		})
		e.publish("trade.executed", result)

	case types.StatusMarketClosed:
		e.recordCompound(compound)
		if e.metrics != nil {
			e.metrics.TradesClosed.Inc()
		}
		e.storage.RecordTradeMetric(storage.TradeMetric{
			Timestamp: time.Now(), Wallet: t.SourceWallet, MarketID: t.MarketID, Status: "market_closed",
		})
		e.publish("trade.market_closed", result)

	default: // failed
		e.recordCompound(compound)
		if e.metrics != nil {
			e.metrics.TradesFailed.Inc()
		}
		e.storage.RecordSystemIssue("executor", result.Error)
		e.storage.RecordTradeMetric(storage.TradeMetric{
			Timestamp: time.Now(), Wallet: t.SourceWallet, MarketID: t.MarketID, Status: "failed", Reason: result.Error,
		})
		e.publish("trade.failed", result)
	}
}

func (e *Engine) recordCompound(key string) {
	e.dedupMu.Lock()
	e.byCompound[key] = time.Now()
	e.updateInFlightGaugeLocked()
	e.dedupMu.Unlock()
}

// updateInFlightGaugeLocked must be called with dedupMu held.
func (e *Engine) updateInFlightGaugeLocked() {
	if e.metrics == nil {
		return
	}
	e.metrics.InFlightSize.Set(float64(len(e.inFlight)))
	e.metrics.DedupTxHashSize.Set(float64(len(e.byTxHash)))
	e.metrics.DedupCompoundSize.Set(float64(len(e.byCompound)))
}

// cleanupLoop periodically evicts aged-out dedup entries rather than
// relying solely on lazy eviction, bounding memory even during quiet
// periods with no incoming trades.
func (e *Engine) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.evictStale()
		}
	}
}

func (e *Engine) evictStale() {
	now := time.Now()
	e.dedupMu.Lock()
	for k, ts := range e.byTxHash {
		if now.Sub(ts) > txHashTTL {
			delete(e.byTxHash, k)
		}
	}
	for k, ts := range e.byCompound {
		if now.Sub(ts) > compoundKeyTTL {
			delete(e.byCompound, k)
		}
	}
	e.updateInFlightGaugeLocked()
	e.dedupMu.Unlock()
}

// Stop cancels all workers, waits up to drainTimeout for in-flight
// Executor calls to return, then discards anything still outstanding. No
// new orders are initiated once Stop begins; already-posted orders are
// never cancelled (at-most-once).
func (e *Engine) Stop() {
	e.setState(StateStopping)
	e.logger.Info("stopping coordinator")

	if e.cancel != nil {
		e.cancel()
	}

	if e.pushstream != nil {
		_ = e.pushstream.Close()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		e.logger.Warn("drain timeout exceeded, discarding remaining in-flight results")
	}

	e.setState(StateStopped)
	e.publish("engine.stopped", nil)
}

// ReloadWallets re-subscribes the PushStream to the current active wallet
// set. The Poller needs no action: it re-reads ListActive() every tick.
func (e *Engine) ReloadWallets() {
	if e.pushstream == nil || e.storage == nil {
		return
	}
	addrs := activeAddresses(e.storage.ListActive())
	if len(addrs) > 0 {
		_ = e.pushstream.Subscribe(addrs)
	}
}

// ReloadCredentials rebuilds the VenueClient/Signer from the current
// config. If the engine is running, it performs a full
// running -> stopping -> initialized -> running cycle.
func (e *Engine) ReloadCredentials(ctx context.Context, cfg config.Config) error {
	wasRunning := e.State() == StateRunning
	if wasRunning {
		e.Stop()
	}

	e.cfg = cfg
	if err := e.Initialize(ctx); err != nil {
		return fmt.Errorf("reinit after credential reload: %w", err)
	}

	if wasRunning {
		return e.Start()
	}
	return nil
}

// State returns the Coordinator's current lifecycle state.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

func (e *Engine) publish(eventType string, payload interface{}) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(eventType, payload)
}

// Storage exposes the underlying Store for the control surface's
// wallet/config/trade/issue endpoints.
func (e *Engine) Storage() *storage.Store { return e.storage }

// Config returns the engine's current configuration snapshot.
func (e *Engine) Config() config.Config { return e.cfg }

// SetPollInterval updates the configured Poller tick interval. It takes
// effect on the next Start, since the Poller's ticker is created once at
// Start and not reconfigurable in place; a running engine must be
// restarted (ReloadCredentials or a manual Stop/Start) to pick it up.
func (e *Engine) SetPollInterval(d time.Duration) {
	e.cfg.Global.PollInterval = d
}

// SetGlobalConfig applies a new GlobalConfig to the running PolicyEngine
// and persists it, so config edits (stop-loss, default size) take effect
// without a restart. Changing the poll interval requires a restart of the
// Poller goroutine and is intentionally not applied live.
func (e *Engine) SetGlobalConfig(cfg types.GlobalConfig) error {
	if err := e.storage.SaveConfig(cfg); err != nil {
		return err
	}
	e.policy.SetGlobalConfig(cfg)
	return nil
}
