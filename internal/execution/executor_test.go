package execution

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"copytrader/internal/venue"
	"copytrader/pkg/types"
)

type fakeVenue struct {
	placeResp types.OrderResponse
	placeErr  error
	market    types.MarketMeta
	marketErr error
}

func (f *fakeVenue) PlaceOrder(ctx context.Context, order types.TradeOrder) (types.OrderResponse, error) {
	return f.placeResp, f.placeErr
}

func (f *fakeVenue) GetMarket(ctx context.Context, marketID string) (types.MarketMeta, error) {
	return f.market, f.marketErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseOrder() types.TradeOrder {
	return types.TradeOrder{
		Trade:      types.DetectedTrade{SourceWallet: "0xabc", TransactionHash: "tx-1"},
		MarketID:   "market-1",
		Side:       types.BUY,
		Shares:     25,
		LimitPrice: 0.41,
		TickSize:   types.Tick001,
	}
}

func TestExecutor_Execute_Success(t *testing.T) {
	t.Parallel()
	v := &fakeVenue{placeResp: types.OrderResponse{OrderIDA: "order-123"}}
	e := New(v, discardLogger())

	result := e.Execute(context.Background(), baseOrder())

	if !result.Success || result.Status != types.StatusExecuted {
		t.Fatalf("expected success/executed, got %+v", result)
	}
	if result.OrderID != "order-123" {
		t.Fatalf("expected order id order-123, got %q", result.OrderID)
	}
	if result.TransactionHash != "tx-1" {
		t.Fatalf("expected tx hash to be preserved, got %q", result.TransactionHash)
	}
}

func TestExecutor_Execute_MarketClosed(t *testing.T) {
	t.Parallel()
	v := &fakeVenue{placeErr: venue.ErrMarketClosed}
	e := New(v, discardLogger())

	result := e.Execute(context.Background(), baseOrder())

	if result.Success {
		t.Fatal("expected unsuccessful result")
	}
	if result.Status != types.StatusMarketClosed {
		t.Fatalf("expected market_closed status, got %q", result.Status)
	}
	if result.Error != "" {
		t.Fatalf("market_closed should not carry an error message, got %q", result.Error)
	}
}

func TestExecutor_Execute_Failed(t *testing.T) {
	t.Parallel()
	v := &fakeVenue{placeErr: errors.New("connection reset")}
	e := New(v, discardLogger())

	result := e.Execute(context.Background(), baseOrder())

	if result.Success || result.Status != types.StatusFailed {
		t.Fatalf("expected failed status, got %+v", result)
	}
	if result.Error == "" {
		t.Fatal("expected error message to be preserved")
	}
}

func TestExecutor_Execute_ResolvesMissingTickSize(t *testing.T) {
	t.Parallel()
	v := &fakeVenue{
		placeResp: types.OrderResponse{OrderIDA: "order-1"},
		market:    types.MarketMeta{TickSize: types.Tick0001, NegRisk: true},
	}
	e := New(v, discardLogger())

	order := baseOrder()
	order.TickSize = ""

	result := e.Execute(context.Background(), order)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}
