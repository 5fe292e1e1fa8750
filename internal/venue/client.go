// Package venue's Client talks to the venue's Data API (trade history,
// positions, portfolio value, proxy-wallet lookup), order-book API (single
// GTC order placement), and market metadata endpoint.
//
// Data API reads are idempotent and retried with exponential backoff on
// transient errors (429, 5xx, connection reset); order placement is never
// retried — it is at-most-once by design. Order requests carry L2 auth
// headers; Data API and market-metadata reads are unauthenticated and share
// one DataLimiter. Order placement is not rate-limited by this client.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"copytrader/internal/config"
	"copytrader/pkg/types"
)

// blockIndicators are substrings the venue has been observed to embed in a
// plain-text error body instead of a structured error field.
var blockIndicators = []string{
	"market is not accepting orders",
	"orderbook does not exist",
	"market is closed",
	"not tradable",
}

// ErrMarketClosed classifies a venue refusal as informational rather than
// an execution failure — the caller treats it as a non-retryable, non-error
// terminal state.
var ErrMarketClosed = fmt.Errorf("market closed")

// Client is the venue REST API client. It wraps a resty HTTP client with
// rate limiting, retry, and the two-layer auth scheme.
type Client struct {
	http     *resty.Client
	data     *resty.Client
	signer   *Signer
	dataRl   *DataLimiter
	meta     *MetaCache
	dryRun   bool
	logger   *slog.Logger
}

// NewClient creates a venue client backed by separate resty instances for
// the order-book API (no retry) and the Data API (retry on transient errors).
func NewClient(cfg config.Config, signer *Signer, logger *slog.Logger) *Client {
	clob := resty.New().
		SetBaseURL(cfg.API.CLOBBaseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")

	data := resty.New().
		SetBaseURL(cfg.API.DataBaseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(8 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   clob,
		data:   data,
		signer: signer,
		dataRl: NewDataLimiter(),
		meta:   NewMetaCache(),
		dryRun: cfg.DryRun,
		logger: logger,
	}
}

// GetUserTrades fetches the most recent trades for a wallet address.
func (c *Client) GetUserTrades(ctx context.Context, address string, limit int) ([]types.RawTrade, error) {
	if err := c.dataRl.Wait(ctx); err != nil {
		return nil, err
	}

	var result []types.RawTrade
	resp, err := c.data.R().
		SetContext(ctx).
		SetPathParam("addr", address).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&result).
		Get("/users/{addr}/trades")
	if err != nil {
		return nil, fmt.Errorf("get user trades: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get user trades: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// GetUserPositions fetches open positions for a wallet address.
func (c *Client) GetUserPositions(ctx context.Context, address string) ([]types.RawPosition, error) {
	if err := c.dataRl.Wait(ctx); err != nil {
		return nil, err
	}

	var result []types.RawPosition
	resp, err := c.data.R().
		SetContext(ctx).
		SetPathParam("addr", address).
		SetResult(&result).
		Get("/users/{addr}/positions")
	if err != nil {
		return nil, fmt.Errorf("get user positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get user positions: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// GetPortfolioValue fetches USDC balance plus open-position value marked at
// current price for a wallet address.
func (c *Client) GetPortfolioValue(ctx context.Context, address string) (types.PortfolioValue, error) {
	if err := c.dataRl.Wait(ctx); err != nil {
		return types.PortfolioValue{}, err
	}

	var result types.PortfolioValue
	resp, err := c.data.R().
		SetContext(ctx).
		SetPathParam("addr", address).
		SetResult(&result).
		Get("/users/{addr}/value")
	if err != nil {
		return types.PortfolioValue{}, fmt.Errorf("get portfolio value: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.PortfolioValue{}, fmt.Errorf("get portfolio value: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// GetProxyWallet resolves an EOA's proxy/funder wallet address, if any.
func (c *Client) GetProxyWallet(ctx context.Context, eoa string) (string, error) {
	if err := c.dataRl.Wait(ctx); err != nil {
		return "", err
	}

	var result types.ProxyWalletResponse
	resp, err := c.data.R().
		SetContext(ctx).
		SetQueryParam("address", eoa).
		SetResult(&result).
		Get("/public-profile")
	if err != nil {
		return "", fmt.Errorf("get proxy wallet: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("get proxy wallet: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.ProxyWallet, nil
}

// GetMarket resolves a market's trading metadata, refreshing the cache if stale.
func (c *Client) GetMarket(ctx context.Context, marketID string) (types.MarketMeta, error) {
	if meta, ok := c.meta.Get(marketID); ok {
		return meta, nil
	}
	if err := c.dataRl.Wait(ctx); err != nil {
		return types.MarketMeta{}, err
	}

	var meta types.MarketMeta
	resp, err := c.data.R().
		SetContext(ctx).
		SetPathParam("id", marketID).
		SetResult(&meta).
		Get("/markets/{id}")
	if err != nil {
		return types.MarketMeta{}, fmt.Errorf("get market: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.MarketMeta{}, fmt.Errorf("get market: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.meta.Put(marketID, meta)
	return meta, nil
}

// GetMinOrderSize resolves the minimum tradeable size (in shares) for a token.
func (c *Client) GetMinOrderSize(ctx context.Context, marketID string) (float64, error) {
	meta, err := c.GetMarket(ctx, marketID)
	if err != nil {
		return 0, err
	}
	if meta.MinOrderSize <= 0 {
		return 5, nil // documented venue default
	}
	return meta.MinOrderSize, nil
}

// PlaceOrder posts a single GTC order. It is never retried: a posted order
// must not be left ambiguously outstanding. The response is validated per
// the venue's documented shape before the order is considered executed.
func (c *Client) PlaceOrder(ctx context.Context, order types.TradeOrder) (types.OrderResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order",
			"market", order.MarketID, "side", order.Side, "shares", order.Shares, "limit", order.LimitPrice)
		return types.OrderResponse{Success: true, OrderIDA: "dry-run-" + order.Trade.TransactionHash, Status: "live"}, nil
	}

	signed := c.signer.SignOrder(order)
	payload := types.OrderPayload{
		Order:     signed,
		Owner:     c.signer.creds.ApiKey,
		OrderType: types.OrderTypeGTC,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return types.OrderResponse{}, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.signer.L2Headers("POST", "/order", string(body))
	if err != nil {
		return types.OrderResponse{}, fmt.Errorf("l2 headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payload).
		Post("/order")
	if err != nil {
		return types.OrderResponse{}, fmt.Errorf("post order: %w", err)
	}

	return c.validateOrderResponse(resp)
}

// validateOrderResponse enforces the full response-acceptance contract:
// status < 400, non-empty body free of block indicators, no error field,
// and a non-empty order id under one of the three known field names.
func (c *Client) validateOrderResponse(resp *resty.Response) (types.OrderResponse, error) {
	if resp.StatusCode() >= 400 {
		return types.OrderResponse{}, fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
	}

	raw := resp.String()
	if strings.TrimSpace(raw) == "" {
		return types.OrderResponse{}, fmt.Errorf("post order: empty response body")
	}
	lower := strings.ToLower(raw)
	for _, indicator := range blockIndicators {
		if strings.Contains(lower, indicator) {
			return types.OrderResponse{}, ErrMarketClosed
		}
	}

	var result types.OrderResponse
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return types.OrderResponse{}, fmt.Errorf("post order: unparseable response: %w", err)
	}
	if result.Error != "" || result.ErrorMsg != "" {
		msg := result.Error
		if msg == "" {
			msg = result.ErrorMsg
		}
		lowerMsg := strings.ToLower(msg)
		for _, indicator := range blockIndicators {
			if strings.Contains(lowerMsg, indicator) {
				return types.OrderResponse{}, ErrMarketClosed
			}
		}
		return types.OrderResponse{}, fmt.Errorf("post order: venue error: %s", msg)
	}
	if result.OrderID() == "" {
		return types.OrderResponse{}, fmt.Errorf("post order: no order id in response")
	}

	return result, nil
}

// DeriveApiCredentials bootstraps L2 API credentials via L1 authentication.
func (c *Client) DeriveApiCredentials(ctx context.Context) (*Credentials, error) {
	headers, err := c.signer.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.signer.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}

// TradeValueUsd computes size*price using decimal arithmetic, avoiding the
// float64 rounding drift that would otherwise creep into dollar comparisons
// across the policy chain.
func TradeValueUsd(size, price float64) float64 {
	v := decimal.NewFromFloat(size).Mul(decimal.NewFromFloat(price))
	f, _ := v.Float64()
	return f
}
