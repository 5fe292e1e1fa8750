package venue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"copytrader/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, clobURL, dataURL string, dryRun bool) *Client {
	t.Helper()
	cfg := testSignerConfig()
	cfg.DryRun = dryRun
	cfg.API.CLOBBaseURL = clobURL
	cfg.API.DataBaseURL = dataURL
	signer, err := NewSigner(cfg)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return NewClient(cfg, signer, discardLogger())
}

func TestTradeValueUsdMultipliesPreciselY(t *testing.T) {
	t.Parallel()
	if got := TradeValueUsd(100, 0.37); got != 37 {
		t.Fatalf("expected 37, got %v", got)
	}
}

func TestPlaceOrderDryRunNeverCallsNetwork(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, "http://unused.invalid", "http://unused.invalid", true)

	resp, err := c.PlaceOrder(context.Background(), types.TradeOrder{
		MarketID: "m1",
		Trade:    types.DetectedTrade{TransactionHash: "tx-1"},
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if !resp.Success || resp.OrderID() != "dry-run-tx-1" {
		t.Fatalf("unexpected dry-run response: %+v", resp)
	}
}

func TestPlaceOrderSucceedsOnValidResponse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.OrderResponse{Success: true, OrderIDA: "order-123", Status: "live"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL, false)
	resp, err := c.PlaceOrder(context.Background(), types.TradeOrder{
		MarketID: "m1",
		AssetID:  "asset-1",
		Side:     types.BUY,
		Shares:   10,
		Price:    0.5,
		TickSize: types.Tick001,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if resp.OrderID() != "order-123" {
		t.Fatalf("expected order-123, got %s", resp.OrderID())
	}
}

func TestPlaceOrderDetectsMarketClosedFromBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":"market is closed for trading"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL, false)
	_, err := c.PlaceOrder(context.Background(), types.TradeOrder{MarketID: "m1", TickSize: types.Tick001})
	if err != ErrMarketClosed {
		t.Fatalf("expected ErrMarketClosed, got %v", err)
	}
}

func TestPlaceOrderRejectsEmptyBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL, false)
	_, err := c.PlaceOrder(context.Background(), types.TradeOrder{MarketID: "m1", TickSize: types.Tick001})
	if err == nil {
		t.Fatal("expected error for empty response body")
	}
}

func TestPlaceOrderRejectsMissingOrderID(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.OrderResponse{Success: true})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL, false)
	_, err := c.PlaceOrder(context.Background(), types.TradeOrder{MarketID: "m1", TickSize: types.Tick001})
	if err == nil {
		t.Fatal("expected error when no order id field is present")
	}
}

func TestGetMarketCachesResult(t *testing.T) {
	t.Parallel()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.MarketMeta{ConditionID: "m1", TickSize: types.Tick001, NegRisk: true})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL, false)
	for i := 0; i < 3; i++ {
		meta, err := c.GetMarket(context.Background(), "m1")
		if err != nil {
			t.Fatalf("GetMarket: %v", err)
		}
		if !meta.NegRisk {
			t.Fatal("expected NegRisk true")
		}
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 upstream call due to caching, got %d", calls)
	}
}

func TestGetMinOrderSizeFallsBackToVenueDefault(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.MarketMeta{ConditionID: "m1"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL, false)
	size, err := c.GetMinOrderSize(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetMinOrderSize: %v", err)
	}
	if size != 5 {
		t.Fatalf("expected documented default of 5, got %v", size)
	}
}

func TestGetUserTradesPropagatesStatusError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL, false)
	c.data.SetRetryCount(0) // keep the test fast; retry behavior isn't what's under test
	if _, err := c.GetUserTrades(context.Background(), "0xabc", 10); err == nil {
		t.Fatal("expected error on 500 status")
	}
}
