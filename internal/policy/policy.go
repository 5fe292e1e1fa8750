// Package policy implements the PolicyEngine: the ordered chain of filters
// and sizing rules that turns a DetectedTrade into either an accepted
// TradeOrder or a rejection. The safety steps are fail-closed — an error
// reading supporting state (positions, portfolio value, ledger) rejects the
// trade rather than letting it through. Two reads fall back instead of
// rejecting: proportional sizing uses the fixed/global size when a
// portfolio-value read fails, and a failed minimum-order-size read uses the
// default of 5 shares.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"copytrader/pkg/types"
)

const (
	globalPriceMin         = 0.01
	globalPriceMax         = 0.99
	globalNoRepeatMinutes  = 5 // safety minimum applied even when no-repeat is not configured
	defaultMinOrderShares  = 5
	proportionalSafetyFlat = 500 // USD floor used in max(2x, 500) proportional safety cap
)

// Decision is the PolicyEngine's verdict on one DetectedTrade.
type Decision struct {
	Accepted bool
	Order    types.TradeOrder
	Reason   string // non-empty only when Accepted is false
}

// LedgerChecker is the subset of storage.Store the no-repeat filter needs.
type LedgerChecker interface {
	IsPositionBlocked(marketID string, outcome types.Outcome, blockMinutes int) (bool, error)
}

// WalletChecker is the subset of storage.Store the tracked-wallet filter
// needs. It is re-read on every trade rather than cached, so a removal or
// deactivation takes effect on the very next trade for that wallet.
type WalletChecker interface {
	IsActive(address string) bool
}

// PositionSource is the subset of venue.Client the stop-loss and SELL
// ownership steps need.
type PositionSource interface {
	GetUserPositions(ctx context.Context, address string) ([]types.RawPosition, error)
	GetPortfolioValue(ctx context.Context, address string) (types.PortfolioValue, error)
	GetMinOrderSize(ctx context.Context, marketID string) (float64, error)
	GetMarket(ctx context.Context, marketID string) (types.MarketMeta, error)
}

// Engine runs the 12-step acceptance chain.
type Engine struct {
	wallets     WalletChecker
	ledger      LedgerChecker
	venue       PositionSource
	rateLimiter *RateLimiter
	global      types.GlobalConfig
	operator    string // the operator's own wallet address, whose book/positions gate sizing
	logger      *slog.Logger
}

// New creates a PolicyEngine. operatorAddress is the wallet whose portfolio
// value and positions back the stop-loss and SELL-ownership checks.
func New(wallets WalletChecker, ledger LedgerChecker, venue PositionSource, global types.GlobalConfig, operatorAddress string, logger *slog.Logger) *Engine {
	return &Engine{
		wallets:     wallets,
		ledger:      ledger,
		venue:       venue,
		rateLimiter: NewRateLimiter(),
		global:      global,
		operator:    strings.ToLower(operatorAddress),
		logger:      logger.With("component", "policy"),
	}
}

// SetGlobalConfig updates the global defaults/stop-loss rule in place, so a
// live config reload takes effect on the next Evaluate call.
func (e *Engine) SetGlobalConfig(g types.GlobalConfig) {
	e.global = g
}

func reject(reason string) Decision {
	return Decision{Accepted: false, Reason: reason}
}

// Evaluate runs trade through the full filter chain, in spec order.
func (e *Engine) Evaluate(ctx context.Context, trade types.DetectedTrade) Decision {
	policy := trade.Policy

	// 1. Tracked-wallet check, freshly read every trade: the source must
	// still be active, and the operator's own wallet must never be treated
	// as a tracked wallet even if it was somehow added.
	source := strings.ToLower(trade.SourceWallet)
	if source == "" {
		return reject("no tracked wallet associated with trade")
	}
	if e.operator != "" && source == e.operator {
		return reject("source wallet is the operator's own wallet")
	}
	if !e.wallets.IsActive(source) {
		return reject("wallet is not actively tracked")
	}

	// 2. Schema check: required fields must be structurally sane.
	if trade.MarketID == "" || trade.MarketID == "unknown" || trade.Size <= 0 || trade.Price <= 0 || trade.Price >= 1 {
		return reject("malformed trade")
	}

	// 3. Side filter.
	switch policy.SideFilter {
	case types.SideBuyOnly:
		if trade.Side != types.BUY {
			return reject("side filter: buy_only")
		}
	case types.SideSellOnly:
		if trade.Side != types.SELL {
			return reject("side filter: sell_only")
		}
	}

	// 4. Global price bounds. The 0.01/0.99 envelope is hard and applies
	// regardless of per-wallet config (spec.md §3): a per-wallet bound can
	// only narrow the envelope, never widen it, so a pathological or
	// unvalidated PriceMin/PriceMax written straight through the control
	// API can't push an order outside what the venue can execute.
	priceMin := globalPriceMin
	if policy.PriceMin > priceMin {
		priceMin = policy.PriceMin
	}
	priceMax := globalPriceMax
	if policy.PriceMax > 0 && policy.PriceMax < priceMax {
		priceMax = policy.PriceMax
	}
	if trade.Price < priceMin || trade.Price > priceMax {
		return reject("price outside configured bounds")
	}

	// 5. No-repeat: always enforce at least the global safety minimum,
	// even when the wallet has not configured its own no-repeat window.
	blockMinutes := 0
	if policy.NoRepeatEnabled {
		blockMinutes = policy.NoRepeatPeriodHours * 60
	}
	if blockMinutes != 0 && blockMinutes < globalNoRepeatMinutes {
		blockMinutes = globalNoRepeatMinutes
	}
	if !policy.NoRepeatEnabled {
		blockMinutes = globalNoRepeatMinutes
	}
	blocked, err := e.ledger.IsPositionBlocked(trade.MarketID, trade.Outcome, blockMinutes)
	if err != nil {
		return reject(fmt.Sprintf("no-repeat check failed: %v", err))
	}
	if blocked {
		return reject("no-repeat: position already executed in window")
	}

	// 6. Value filter.
	tradeValueUsd := decimal.NewFromFloat(trade.Size).Mul(decimal.NewFromFloat(trade.Price))
	if policy.ValueFilterEnabled {
		v, _ := tradeValueUsd.Float64()
		if v < policy.ValueFilterMin {
			return reject("value filter: below minimum")
		}
		if policy.ValueFilterMax > 0 && v > policy.ValueFilterMax {
			return reject("value filter: above maximum")
		}
	}

	// 7. Rate limit: checked here, but only incremented by RecordExecution
	// after the Executor reports success.
	if policy.RateLimitEnabled {
		if !e.rateLimiter.Allow(trade.SourceWallet, policy.RateLimitPerHour, policy.RateLimitPerDay) {
			return reject("rate limit exceeded")
		}
	}

	// 8. Schema/side recheck: re-validate side is still one of BUY/SELL
	// after the filters above, guarding against a filter bug letting a
	// malformed side fall through silently.
	if trade.Side != types.BUY && trade.Side != types.SELL {
		return reject("malformed trade: invalid side")
	}

	// 9. Stop-loss.
	if e.global.StopLoss.Enabled {
		commitment, err := e.commitmentPercent(ctx)
		if err != nil {
			return reject(fmt.Sprintf("stop-loss check failed: %v", err))
		}
		if commitment >= e.global.StopLoss.MaxCommitmentPercent {
			return reject("stop-loss: commitment limit reached")
		}
	}

	// 10. Sizing.
	shares, err := e.computeSizing(ctx, trade)
	if err != nil {
		return reject(fmt.Sprintf("sizing failed: %v", err))
	}

	// 11. Minimum-order check.
	minSize := float64(defaultMinOrderShares)
	if e.venue != nil {
		if m, err := e.venue.GetMinOrderSize(ctx, trade.MarketID); err == nil && m > 0 {
			minSize = m
		}
	}
	if shares < minSize {
		return reject("below minimum order size")
	}

	// 12. SELL ownership: clamp to owned size, reject if nothing is owned.
	if trade.Side == types.SELL {
		owned, err := e.ownedShares(ctx, trade.MarketID, trade.Outcome)
		if err != nil {
			return reject(fmt.Sprintf("ownership check failed: %v", err))
		}
		if owned <= 0 {
			return reject("no position to sell")
		}
		if owned < shares {
			shares = owned
		}
	}

	meta, err := e.venue.GetMarket(ctx, trade.MarketID)
	if err != nil {
		return reject(fmt.Sprintf("market lookup failed: %v", err))
	}

	slippage := policy.EffectiveSlippage()
	limitPrice := computeLimitPrice(trade.Side, trade.Price, slippage)

	order := types.TradeOrder{
		Trade:      trade,
		MarketID:   trade.MarketID,
		AssetID:    trade.AssetID,
		Outcome:    trade.Outcome,
		Side:       trade.Side,
		Shares:     round2(shares),
		Price:      trade.Price,
		LimitPrice: limitPrice,
		Slippage:   slippage,
		NegRisk:    meta.NegRisk,
		TickSize:   meta.TickSize,
	}

	return Decision{Accepted: true, Order: order}
}

// RecordExecution must be called by the caller after a successful execution,
// so the rate-limit windows only count trades that actually went through.
func (e *Engine) RecordExecution(wallet string) {
	e.rateLimiter.RecordExecution(wallet)
}

func (e *Engine) commitmentPercent(ctx context.Context) (float64, error) {
	pv, err := e.venue.GetPortfolioValue(ctx, e.operator)
	if err != nil {
		return 0, err
	}
	denom := pv.CashUsd + pv.PositionsUsd
	if denom <= 0 {
		return 100, nil // no capital at all reads as fully committed, fail closed
	}
	pct := decimal.NewFromFloat(pv.PositionsUsd).Div(decimal.NewFromFloat(denom)).Mul(decimal.NewFromInt(100))
	v, _ := pct.Float64()
	return v, nil
}

func (e *Engine) computeSizing(ctx context.Context, trade types.DetectedTrade) (float64, error) {
	policy := trade.Policy
	tradeUsd, _ := decimal.NewFromFloat(trade.Size).Mul(decimal.NewFromFloat(trade.Price)).Float64()
	var usdValue float64

	switch policy.SizingMode {
	case types.SizingFixed:
		usdValue = policy.FixedTradeSize
		if usdValue <= 0 {
			usdValue = e.global.DefaultTradeSizeUsd
		}
		if policy.ThresholdEnabled {
			srcPortfolio, err := e.venue.GetPortfolioValue(ctx, trade.SourceWallet)
			if err != nil {
				return 0, fmt.Errorf("threshold portfolio lookup failed: %w", err)
			}
			total := srcPortfolio.Total()
			if total <= 0 {
				return 0, fmt.Errorf("threshold check: source wallet has zero portfolio value")
			}
			pct := tradeUsd / total * 100
			if pct < policy.ThresholdPercent {
				return 0, fmt.Errorf("below threshold: trade is %.4f%% of portfolio, need >= %.2f%%", pct, policy.ThresholdPercent)
			}
		}
		cap := 2 * usdValue
		if usdValue > cap {
			usdValue = cap
		}

	case types.SizingProportional:
		srcPortfolio, errSrc := e.venue.GetPortfolioValue(ctx, trade.SourceWallet)
		opPortfolio, errOp := e.venue.GetPortfolioValue(ctx, e.operator)
		if errSrc != nil || errOp != nil || srcPortfolio.Total() <= 0 {
			// Either fetch failed (or the source wallet's portfolio reads as
			// empty): fall back to the configured fixed size, else global
			// default, per spec.
			usdValue = policy.FixedTradeSize
			if usdValue <= 0 {
				usdValue = e.global.DefaultTradeSizeUsd
			}
		} else {
			pct := tradeUsd / srcPortfolio.Total() * 100
			usdValue = pct / 100 * opPortfolio.CashUsd
		}
		cap := maxFloat(2*usdValue, proportionalSafetyFlat)
		if usdValue > cap {
			usdValue = cap
		}

	default: // SizingUnset
		usdValue = e.global.DefaultTradeSizeUsd
		cap := 2 * e.global.DefaultTradeSizeUsd
		if usdValue > cap {
			usdValue = cap
		}
	}

	if usdValue <= 0 {
		return 0, fmt.Errorf("computed zero trade size")
	}

	shares := usdValue / trade.Price
	return shares, nil
}

func (e *Engine) ownedShares(ctx context.Context, marketID string, outcome types.Outcome) (float64, error) {
	positions, err := e.venue.GetUserPositions(ctx, e.operator)
	if err != nil {
		return 0, err
	}
	for _, p := range positions {
		if p.ConditionID == marketID && sameOutcome(p.Outcome, outcome) {
			return p.Size, nil
		}
	}
	return 0, nil
}

func sameOutcome(raw string, o types.Outcome) bool {
	switch o {
	case types.YES:
		return raw == "Yes" || raw == "YES" || raw == "yes"
	default:
		return raw == "No" || raw == "NO" || raw == "no"
	}
}

// computeLimitPrice applies the slippage envelope: BUY orders may pay up to
// slippage% more, SELL orders may accept up to slippage% less, each clamped
// to the venue's [0.01, 0.99] tradable range.
func computeLimitPrice(side types.Side, price, slippagePercent float64) float64 {
	var limit float64
	if side == types.BUY {
		limit = price * (1 + slippagePercent/100)
		if limit > 0.99 {
			limit = 0.99
		}
	} else {
		limit = price * (1 - slippagePercent/100)
		if limit < 0.01 {
			limit = 0.01
		}
	}
	return round2(limit)
}

func round2(v float64) float64 {
	d := decimal.NewFromFloat(v).Round(2)
	f, _ := d.Float64()
	return f
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
