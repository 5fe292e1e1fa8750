// Package execution turns an accepted TradeOrder into a signed, posted
// order and classifies the venue's response. It is the only package that
// talks to the order-book API's placeOrder endpoint; every other safety
// decision has already been made by the time a TradeOrder reaches here.
package execution

import (
	"context"
	"log/slog"
	"time"

	"copytrader/internal/venue"
	"copytrader/pkg/types"
)

// OrderPoster is the subset of venue.Client the Executor needs.
type OrderPoster interface {
	PlaceOrder(ctx context.Context, order types.TradeOrder) (types.OrderResponse, error)
	GetMarket(ctx context.Context, marketID string) (types.MarketMeta, error)
}

// Executor posts accepted TradeOrders and classifies the outcome.
type Executor struct {
	venue  OrderPoster
	logger *slog.Logger
}

// New creates an Executor backed by the given venue client.
func New(v OrderPoster, logger *slog.Logger) *Executor {
	return &Executor{venue: v, logger: logger.With("component", "executor")}
}

// Execute resolves any missing market metadata, posts the order, and
// classifies the result as executed, market_closed, or failed. It never
// retries: a posted order must not be left ambiguously outstanding.
func (e *Executor) Execute(ctx context.Context, order types.TradeOrder) types.TradeResult {
	start := time.Now()

	// Defensive fallback: by the time PolicyEngine accepts a trade it has
	// already resolved TickSize/NegRisk from the market, but a caller that
	// builds a TradeOrder directly (e.g. a test) gets the spec's documented
	// defaults instead of a nil pointer.
	if order.TickSize == "" {
		meta, err := e.venue.GetMarket(ctx, order.MarketID)
		if err != nil {
			order.TickSize = types.Tick001
		} else {
			order.TickSize = meta.TickSize
			order.NegRisk = meta.NegRisk
		}
	}

	resp, err := e.venue.PlaceOrder(ctx, order)
	elapsed := time.Since(start).Milliseconds()

	switch {
	case err == venue.ErrMarketClosed:
		e.logger.Info("market closed, order not placed",
			"market", order.MarketID, "wallet", order.Trade.SourceWallet)
		return types.TradeResult{
			Success:         false,
			Status:          types.StatusMarketClosed,
			ExecutionTimeMs: elapsed,
		}
	case err != nil:
		e.logger.Error("order placement failed",
			"market", order.MarketID, "wallet", order.Trade.SourceWallet, "error", err)
		return types.TradeResult{
			Success:         false,
			Status:          types.StatusFailed,
			Error:           err.Error(),
			ExecutionTimeMs: elapsed,
		}
	}

	e.logger.Info("order executed",
		"market", order.MarketID, "wallet", order.Trade.SourceWallet,
		"side", order.Side, "shares", order.Shares, "limit", order.LimitPrice,
		"orderId", resp.OrderID())

	return types.TradeResult{
		Success:         true,
		Status:          types.StatusExecuted,
		OrderID:         resp.OrderID(),
		TransactionHash: order.Trade.TransactionHash,
		ExecutionTimeMs: elapsed,
	}
}
