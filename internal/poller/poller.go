// Package poller periodically pulls recent trade history for each active
// tracked wallet and emits normalized, recency-filtered DetectedTrade
// events. It runs a single ticker loop; each tick fans out one scan per
// active wallet through a bounded worker pool so a slow wallet cannot
// starve the others, while each individual wallet still has at most one
// outstanding Data API call in flight at a time.
package poller

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"copytrader/pkg/types"
)

const (
	tradesPerWallet = 50
	recencyWindow   = 5 * time.Minute
	maxConcurrency  = 8
)

// WalletSource supplies the current active wallet set and per-wallet policy
// snapshot. The Poller re-reads it every tick so config/activation changes
// take effect without a restart.
type WalletSource interface {
	ListActive() []types.TrackedWallet
}

// TradeFetcher is the subset of the venue client the Poller needs.
type TradeFetcher interface {
	GetUserTrades(ctx context.Context, address string, limit int) ([]types.RawTrade, error)
}

// CheckpointStore persists the newest transactionHash emitted per wallet, so
// the Poller's high-water mark survives a restart. Diagnostic/resume
// bookkeeping only: it is never consulted to gate emission, and a Poller
// created without one (nil) simply skips checkpointing.
type CheckpointStore interface {
	SetLastEmitted(address, txHash string) error
	GetLastEmitted(address string) (string, bool)
}

// Poller periodically scans each active wallet's recent trade history.
type Poller struct {
	interval    time.Duration
	wallets     WalletSource
	venue       TradeFetcher
	checkpoints CheckpointStore
	eventCh     chan types.DetectedTrade
	logger      *slog.Logger
}

// New creates a Poller with the given tick interval. checkpoints may be nil,
// in which case the Poller runs without persisted resume bookkeeping.
func New(interval time.Duration, wallets WalletSource, venue TradeFetcher, checkpoints CheckpointStore, logger *slog.Logger) *Poller {
	return &Poller{
		interval:    interval,
		wallets:     wallets,
		venue:       venue,
		checkpoints: checkpoints,
		eventCh:     make(chan types.DetectedTrade, 256),
		logger:      logger.With("component", "poller"),
	}
}

// Events returns a read-only channel of normalized trade events.
func (p *Poller) Events() <-chan types.DetectedTrade { return p.eventCh }

// Run starts the polling loop. Blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.tick(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick fans out one scan per active wallet, bounded to maxConcurrency
// concurrent Data API calls; each wallet itself is scanned serially (at
// most one outstanding call per wallet).
func (p *Poller) tick(ctx context.Context) {
	wallets := p.wallets.ListActive()
	if len(wallets) == 0 {
		return
	}

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for _, w := range wallets {
		w := w
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			p.scanWallet(ctx, w)
		}()
	}

	wg.Wait()
}

func (p *Poller) scanWallet(ctx context.Context, wallet types.TrackedWallet) {
	raw, err := p.venue.GetUserTrades(ctx, wallet.Address, tradesPerWallet)
	if err != nil {
		p.logger.Warn("fetch trades failed", "wallet", wallet.Address, "error", err)
		return
	}

	newest := ""
	now := time.Now()

	for _, rt := range raw {
		trade, ok := normalize(rt, wallet, now, p.logger)
		if !ok {
			continue
		}
		if now.Sub(trade.Timestamp) > recencyWindow {
			continue // primary guard against replaying history on restart
		}

		select {
		case p.eventCh <- trade:
		default:
			p.logger.Warn("poller event channel full, dropping event", "wallet", wallet.Address)
		}

		if newest == "" {
			newest = trade.TransactionHash
		}
	}

	if newest != "" && p.checkpoints != nil {
		if err := p.checkpoints.SetLastEmitted(wallet.Address, newest); err != nil {
			p.logger.Warn("failed to persist poller checkpoint", "wallet", wallet.Address, "error", err)
		}
	}
}

// normalize converts a raw Data API trade record into a DetectedTrade,
// applying every field-tolerance rule the venue's inconsistent encodings require.
func normalize(rt types.RawTrade, wallet types.TrackedWallet, now time.Time, logger *slog.Logger) (types.DetectedTrade, bool) {
	marketID := rt.ConditionID
	if marketID == "" {
		marketID = rt.Asset
	}
	if marketID == "" {
		return types.DetectedTrade{}, false
	}

	side := types.Side(strings.ToUpper(rt.Side))
	if side != types.BUY && side != types.SELL {
		return types.DetectedTrade{}, false
	}

	price, err := strconv.ParseFloat(rt.Price, 64)
	if err != nil || price <= 0 || price >= 1 {
		return types.DetectedTrade{}, false
	}

	size, err := strconv.ParseFloat(rt.Size, 64)
	if err != nil || size <= 0 {
		return types.DetectedTrade{}, false
	}
	if size*price > 10_000_000 {
		corrected := size / 1e6
		if logger != nil {
			logger.Warn("base-unit sanity check: correcting unscaled trade size", "wallet", wallet.Address, "raw_size", size, "corrected_size", corrected)
		}
		size = corrected
	}

	outcome := types.NO
	if strings.EqualFold(rt.Outcome, "yes") || (rt.OutcomeIndex != nil && *rt.OutcomeIndex == 0) {
		outcome = types.YES
	}

	ts := parseTimestamp(rt.Timestamp, now)

	txHash := rt.TransactionHash
	if txHash == "" {
		txHash = rt.ID
	}
	if txHash == "" {
		txHash = "trade-" + strconv.FormatInt(ts.UnixMilli(), 10) + "-" + uuid.NewString()
	}

	return types.DetectedTrade{
		SourceWallet:    strings.ToLower(wallet.Address),
		MarketID:        marketID,
		AssetID:         rt.Asset,
		Outcome:         outcome,
		Side:            side,
		Size:            size,
		Price:           price,
		Timestamp:       ts,
		TransactionHash: txHash,
		Policy:          wallet.Policy,
		Source:          "poller",
	}, true
}

func parseTimestamp(raw string, now time.Time) time.Time {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return now
	}
	if v < 1_000_000_000_000 {
		v *= 1000 // seconds-epoch, normalize to ms
	}
	return time.UnixMilli(v)
}
