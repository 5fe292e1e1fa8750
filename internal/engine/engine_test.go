package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"copytrader/internal/config"
	"copytrader/internal/execution"
	"copytrader/internal/metrics"
	"copytrader/internal/policy"
	"copytrader/internal/storage"
	"copytrader/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine() *Engine {
	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	return New(config.Config{}, recorder, nil, discardLogger())
}

func TestNewEngineStartsIdle(t *testing.T) {
	t.Parallel()
	e := newTestEngine()
	if e.State() != StateIdle {
		t.Fatalf("expected initial state idle, got %s", e.State())
	}
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	t.Parallel()
	e := newTestEngine()
	e.Stop()
	if e.State() != StateStopped {
		t.Fatalf("expected stopped after Stop(), got %s", e.State())
	}
}

func TestSetPollIntervalUpdatesConfig(t *testing.T) {
	t.Parallel()
	e := newTestEngine()
	e.SetPollInterval(45 * time.Second)
	if e.Config().Global.PollInterval != 45*time.Second {
		t.Fatalf("expected poll interval to update, got %v", e.Config().Global.PollInterval)
	}
}

func TestActiveAddressesCollectsAddresses(t *testing.T) {
	t.Parallel()
	wallets := []types.TrackedWallet{
		{Address: "0xabc", Active: true},
		{Address: "0xdef", Active: true},
	}
	addrs := activeAddresses(wallets)
	if len(addrs) != 2 || addrs[0] != "0xabc" || addrs[1] != "0xdef" {
		t.Fatalf("unexpected addresses: %v", addrs)
	}
}

func TestActiveAddressesEmptyForNoWallets(t *testing.T) {
	t.Parallel()
	if addrs := activeAddresses(nil); len(addrs) != 0 {
		t.Fatalf("expected empty slice, got %v", addrs)
	}
}

type fakeSink struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeSink) Publish(eventType string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func TestPublishIsNilSafeWithoutSink(t *testing.T) {
	t.Parallel()
	e := newTestEngine()
	// Must not panic even though no sink was supplied.
	e.publish("engine.started", nil)
}

func TestPublishForwardsToSink(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	e := New(config.Config{}, recorder, sink, discardLogger())

	e.publish("engine.started", nil)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 1 || sink.events[0] != "engine.started" {
		t.Fatalf("expected sink to receive 'engine.started', got %v", sink.events)
	}
}

func TestDedupEvictStaleRemovesExpiredEntries(t *testing.T) {
	t.Parallel()
	e := newTestEngine()

	e.dedupMu.Lock()
	e.byTxHash["old"] = time.Now().Add(-2 * txHashTTL)
	e.byTxHash["fresh"] = time.Now()
	e.byCompound["old-compound"] = time.Now().Add(-2 * compoundKeyTTL)
	e.byCompound["fresh-compound"] = time.Now()
	e.dedupMu.Unlock()

	e.evictStale()

	e.dedupMu.Lock()
	defer e.dedupMu.Unlock()
	if _, ok := e.byTxHash["old"]; ok {
		t.Fatal("expected expired tx-hash entry to be evicted")
	}
	if _, ok := e.byTxHash["fresh"]; !ok {
		t.Fatal("expected fresh tx-hash entry to survive")
	}
	if _, ok := e.byCompound["old-compound"]; ok {
		t.Fatal("expected expired compound entry to be evicted")
	}
	if _, ok := e.byCompound["fresh-compound"]; !ok {
		t.Fatal("expected fresh compound entry to survive")
	}
}

func TestRecordCompoundInsertsKey(t *testing.T) {
	t.Parallel()
	e := newTestEngine()
	e.recordCompound("wallet|market|YES|BUY|100")

	e.dedupMu.Lock()
	defer e.dedupMu.Unlock()
	if _, ok := e.byCompound["wallet|market|YES|BUY|100"]; !ok {
		t.Fatal("expected compound key to be recorded")
	}
}

// fakeProcessVenue backs both the PolicyEngine's PositionSource and the
// Executor's OrderPoster for processTrade-level tests, so every accepted
// trade in these tests actually reaches a real, countable PlaceOrder call.
type fakeProcessVenue struct {
	mu           sync.Mutex
	placedOrders int
}

func (f *fakeProcessVenue) GetUserPositions(ctx context.Context, address string) ([]types.RawPosition, error) {
	return nil, nil
}

func (f *fakeProcessVenue) GetPortfolioValue(ctx context.Context, address string) (types.PortfolioValue, error) {
	return types.PortfolioValue{}, nil
}

func (f *fakeProcessVenue) GetMinOrderSize(ctx context.Context, marketID string) (float64, error) {
	return 0, nil
}

func (f *fakeProcessVenue) GetMarket(ctx context.Context, marketID string) (types.MarketMeta, error) {
	return types.MarketMeta{TickSize: types.Tick001}, nil
}

func (f *fakeProcessVenue) PlaceOrder(ctx context.Context, order types.TradeOrder) (types.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placedOrders++
	return types.OrderResponse{Status: "matched"}, nil
}

func (f *fakeProcessVenue) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.placedOrders
}

// newProcessTestEngine builds an Engine with a real, temp-dir-backed Store
// (processTrade talks to storage as a concrete *storage.Store, not an
// interface) and a single tracked, active wallet ready to accept trades.
func newProcessTestEngine(t *testing.T) (*Engine, *fakeProcessVenue) {
	t.Helper()

	st, err := storage.Open(t.TempDir(), types.GlobalConfig{})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	if err := st.AddWallet("0xwallet", "test"); err != nil {
		t.Fatalf("add wallet: %v", err)
	}
	if err := st.SetActive("0xwallet", true); err != nil {
		t.Fatalf("activate wallet: %v", err)
	}

	venue := &fakeProcessVenue{}
	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	e := New(config.Config{}, recorder, nil, discardLogger())
	e.storage = st
	e.policy = policy.New(st, st, venue, types.GlobalConfig{DefaultTradeSizeUsd: 50}, "", discardLogger())
	e.executor = execution.New(venue, discardLogger())
	e.ctx = context.Background()

	return e, venue
}

func sampleTrade(hash string, ts time.Time) types.DetectedTrade {
	return types.DetectedTrade{
		SourceWallet:    "0xwallet",
		MarketID:        "market-1",
		AssetID:         "asset-1",
		Outcome:         types.YES,
		Side:            types.BUY,
		Size:            100,
		Price:           0.5,
		Timestamp:       ts,
		TransactionHash: hash,
	}
}

func TestProcessTradeDuplicateTxHashIsIgnored(t *testing.T) {
	t.Parallel()
	e, venue := newProcessTestEngine(t)

	trade := sampleTrade("tx-dup", time.Now())
	e.processTrade(e.ctx, trade)
	e.processTrade(e.ctx, trade)

	if got := venue.count(); got != 1 {
		t.Fatalf("expected exactly one order placed for a duplicate tx hash, got %d", got)
	}

	e.dedupMu.Lock()
	defer e.dedupMu.Unlock()
	if _, busy := e.inFlight["tx-dup"]; busy {
		t.Fatal("expected in-flight entry to be cleared after processing")
	}
}

func TestProcessTradeDuplicateCompoundKeyIsIgnored(t *testing.T) {
	t.Parallel()
	e, venue := newProcessTestEngine(t)

	ts := time.Now()
	first := sampleTrade("tx-1", ts)
	second := sampleTrade("tx-2", ts) // same wallet/market/outcome/side/time-bucket, different hash

	e.processTrade(e.ctx, first)
	e.processTrade(e.ctx, second)

	if got := venue.count(); got != 1 {
		t.Fatalf("expected the second trade to be rejected as a duplicate compound key, got %d orders placed", got)
	}

	e.dedupMu.Lock()
	defer e.dedupMu.Unlock()
	if _, busy := e.inFlight[second.CompoundKey()]; busy {
		t.Fatal("expected in-flight compound entry to be cleared after processing")
	}
}

func TestProcessTradeConcurrentDuplicatesExecuteOnce(t *testing.T) {
	t.Parallel()
	e, venue := newProcessTestEngine(t)

	trade := sampleTrade("tx-race", time.Now())

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			e.processTrade(e.ctx, trade)
		}()
	}
	wg.Wait()

	if got := venue.count(); got != 1 {
		t.Fatalf("expected exactly one order placed across %d racing goroutines, got %d", n, got)
	}

	e.dedupMu.Lock()
	defer e.dedupMu.Unlock()
	if len(e.inFlight) != 0 {
		t.Fatalf("expected in-flight set to be fully cleared after all goroutines return, got %v", e.inFlight)
	}
}
