package poller

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"copytrader/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalizeRejectsMissingMarket(t *testing.T) {
	t.Parallel()
	rt := types.RawTrade{Side: "BUY", Price: "0.5", Size: "10"}
	if _, ok := normalize(rt, types.TrackedWallet{}, time.Now(), nil); ok {
		t.Fatal("expected rejection: no conditionId or asset")
	}
}

func TestNormalizeFallsBackToAssetForMarketID(t *testing.T) {
	t.Parallel()
	rt := types.RawTrade{Asset: "asset-1", Side: "buy", Price: "0.5", Size: "10", Timestamp: "1700000000"}
	trade, ok := normalize(rt, types.TrackedWallet{Address: "0xABC"}, time.Now(), nil)
	if !ok {
		t.Fatal("expected normalize to succeed")
	}
	if trade.MarketID != "asset-1" {
		t.Fatalf("expected MarketID fallback to asset, got %q", trade.MarketID)
	}
	if trade.SourceWallet != "0xabc" {
		t.Fatalf("expected lower-cased wallet, got %q", trade.SourceWallet)
	}
	if trade.Side != types.BUY {
		t.Fatalf("expected side normalized to BUY, got %q", trade.Side)
	}
}

func TestNormalizeRejectsInvalidSide(t *testing.T) {
	t.Parallel()
	rt := types.RawTrade{ConditionID: "m1", Side: "HOLD", Price: "0.5", Size: "10"}
	if _, ok := normalize(rt, types.TrackedWallet{}, time.Now(), nil); ok {
		t.Fatal("expected rejection: side is neither BUY nor SELL")
	}
}

func TestNormalizeRejectsOutOfRangePrice(t *testing.T) {
	t.Parallel()
	for _, price := range []string{"0", "1", "1.5", "-0.1", "not-a-number"} {
		rt := types.RawTrade{ConditionID: "m1", Side: "BUY", Price: price, Size: "10"}
		if _, ok := normalize(rt, types.TrackedWallet{}, time.Now(), nil); ok {
			t.Fatalf("expected rejection for price %q", price)
		}
	}
}

func TestNormalizeRejectsNonPositiveSize(t *testing.T) {
	t.Parallel()
	rt := types.RawTrade{ConditionID: "m1", Side: "BUY", Price: "0.5", Size: "0"}
	if _, ok := normalize(rt, types.TrackedWallet{}, time.Now(), nil); ok {
		t.Fatal("expected rejection: non-positive size")
	}
}

func TestNormalizeOutcomeFromIndexWhenOutcomeStringMissing(t *testing.T) {
	t.Parallel()
	idx := 0
	rt := types.RawTrade{ConditionID: "m1", Side: "BUY", Price: "0.5", Size: "10", OutcomeIndex: &idx}
	trade, ok := normalize(rt, types.TrackedWallet{}, time.Now(), nil)
	if !ok {
		t.Fatal("expected normalize to succeed")
	}
	if trade.Outcome != types.YES {
		t.Fatalf("expected YES from outcomeIndex 0, got %q", trade.Outcome)
	}
}

func TestNormalizeSyntheticTxHashWhenMissing(t *testing.T) {
	t.Parallel()
	rt := types.RawTrade{ConditionID: "m1", Side: "SELL", Price: "0.5", Size: "10"}
	trade, ok := normalize(rt, types.TrackedWallet{}, time.Now(), nil)
	if !ok {
		t.Fatal("expected normalize to succeed")
	}
	if trade.TransactionHash == "" {
		t.Fatal("expected a synthetic transaction hash to be generated")
	}
}

func TestNormalizeUsesIDWhenTransactionHashMissing(t *testing.T) {
	t.Parallel()
	rt := types.RawTrade{ConditionID: "m1", Side: "SELL", Price: "0.5", Size: "10", ID: "order-7"}
	trade, ok := normalize(rt, types.TrackedWallet{}, time.Now(), nil)
	if !ok {
		t.Fatal("expected normalize to succeed")
	}
	if trade.TransactionHash != "order-7" {
		t.Fatalf("expected id fallback 'order-7', got %q", trade.TransactionHash)
	}
}

func TestParseTimestampSecondsVsMillis(t *testing.T) {
	t.Parallel()
	now := time.Now()

	secs := strconv.FormatInt(1_700_000_000, 10) // seconds-epoch, well under the ms threshold
	got := parseTimestamp(secs, now)
	if got.Unix() != 1_700_000_000 {
		t.Fatalf("expected seconds-epoch to convert correctly, got %v", got)
	}

	millis := strconv.FormatInt(1_700_000_000_000, 10)
	got = parseTimestamp(millis, now)
	if got.UnixMilli() != 1_700_000_000_000 {
		t.Fatalf("expected millis-epoch to pass through, got %v", got)
	}

	if got := parseTimestamp("garbage", now); !got.Equal(now) {
		t.Fatalf("expected fallback to now for unparseable timestamp, got %v", got)
	}
}

type fakeWalletSource struct {
	wallets []types.TrackedWallet
}

func (f *fakeWalletSource) ListActive() []types.TrackedWallet { return f.wallets }

type fakeTradeFetcher struct {
	trades map[string][]types.RawTrade
}

func (f *fakeTradeFetcher) GetUserTrades(ctx context.Context, address string, limit int) ([]types.RawTrade, error) {
	return f.trades[address], nil
}

func TestTickEmitsOnlyRecentTrades(t *testing.T) {
	t.Parallel()

	recentTs := strconv.FormatInt(time.Now().UnixMilli(), 10)
	staleTs := strconv.FormatInt(time.Now().Add(-2*time.Hour).UnixMilli(), 10)

	fetcher := &fakeTradeFetcher{trades: map[string][]types.RawTrade{
		"0xabc": {
			{ConditionID: "m1", Side: "BUY", Price: "0.5", Size: "10", Timestamp: recentTs, TransactionHash: "tx-recent"},
			{ConditionID: "m1", Side: "BUY", Price: "0.5", Size: "10", Timestamp: staleTs, TransactionHash: "tx-stale"},
		},
	}}
	wallets := &fakeWalletSource{wallets: []types.TrackedWallet{{Address: "0xabc", Active: true}}}

	p := New(time.Hour, wallets, fetcher, nil, discardLogger())
	p.tick(context.Background())

	select {
	case trade := <-p.Events():
		if trade.TransactionHash != "tx-recent" {
			t.Fatalf("expected only the recent trade to be emitted, got %q", trade.TransactionHash)
		}
	default:
		t.Fatal("expected one emitted event")
	}

	select {
	case trade := <-p.Events():
		t.Fatalf("expected no second event, got %+v", trade)
	default:
	}
}

func TestTickSkipsWhenNoActiveWallets(t *testing.T) {
	t.Parallel()
	p := New(time.Hour, &fakeWalletSource{}, &fakeTradeFetcher{}, nil, discardLogger())
	p.tick(context.Background())

	select {
	case trade := <-p.Events():
		t.Fatalf("expected no events with no active wallets, got %+v", trade)
	default:
	}
}

type fakeCheckpointStore struct {
	last map[string]string
}

func (f *fakeCheckpointStore) SetLastEmitted(address, txHash string) error {
	if f.last == nil {
		f.last = make(map[string]string)
	}
	f.last[strings.ToLower(address)] = txHash
	return nil
}

func (f *fakeCheckpointStore) GetLastEmitted(address string) (string, bool) {
	h, ok := f.last[strings.ToLower(address)]
	return h, ok
}

func TestTickPersistsNewestCheckpointPerWallet(t *testing.T) {
	t.Parallel()

	recentTs := strconv.FormatInt(time.Now().UnixMilli(), 10)
	fetcher := &fakeTradeFetcher{trades: map[string][]types.RawTrade{
		"0xabc": {
			{ConditionID: "m1", Side: "BUY", Price: "0.5", Size: "10", Timestamp: recentTs, TransactionHash: "tx-1"},
			{ConditionID: "m1", Side: "BUY", Price: "0.5", Size: "10", Timestamp: recentTs, TransactionHash: "tx-2"},
		},
	}}
	wallets := &fakeWalletSource{wallets: []types.TrackedWallet{{Address: "0xABC", Active: true}}}
	checkpoints := &fakeCheckpointStore{}

	p := New(time.Hour, wallets, fetcher, checkpoints, discardLogger())
	p.tick(context.Background())

	got, ok := checkpoints.GetLastEmitted("0xabc")
	if !ok {
		t.Fatal("expected a checkpoint to be persisted for the wallet")
	}
	if got != "tx-1" {
		t.Fatalf("expected checkpoint to hold the first emitted hash this tick, got %q", got)
	}
}
