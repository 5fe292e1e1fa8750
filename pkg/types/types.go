// Package types defines the shared vocabulary used across all packages:
// tracked-wallet configuration, the normalized trade event the detection
// layer produces, the order the execution layer consumes, and the venue's
// wire formats for trades, positions, orders, and push-stream events.
//
// This package has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of a trade or order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Outcome identifies which side of a binary market a trade concerns.
type Outcome string

const (
	YES Outcome = "YES"
	NO  Outcome = "NO"
)

// OrderType enumerates supported order lifecycles. GTC is the only one used.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC"
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// SizingMode controls how the policy engine computes a replicated order's
// notional value. Unset means "use the global default, no threshold filter."
type SizingMode string

const (
	SizingUnset        SizingMode = ""
	SizingFixed        SizingMode = "fixed"
	SizingProportional SizingMode = "proportional"
)

// SideFilter restricts which side of a tracked wallet's trades get replicated.
type SideFilter string

const (
	SideAll      SideFilter = "all"
	SideBuyOnly  SideFilter = "buy_only"
	SideSellOnly SideFilter = "sell_only"
)

// TickSize represents the minimum price increment allowed for a market.
type TickSize string

const (
	Tick01    TickSize = "0.1"
	Tick001   TickSize = "0.01"
	Tick0001  TickSize = "0.001"
	Tick00001 TickSize = "0.0001"
)

// Decimals returns the number of decimal places implied by the tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// AmountDecimals returns the USDC-amount rounding precision for this tick size.
func (t TickSize) AmountDecimals() int {
	switch t {
	case Tick01:
		return 3
	case Tick001:
		return 4
	case Tick0001:
		return 5
	case Tick00001:
		return 6
	default:
		return 4
	}
}

// ————————————————————————————————————————————————————————————————————————
// Tracked wallets and policy
// ————————————————————————————————————————————————————————————————————————

// PerWalletPolicy holds the optional per-wallet replication rules. Fields
// are plain values: a zero value means "unset", i.e. "inherit the global
// default / do not filter", so an explicit zero cannot be told apart from
// unset. The threshold, value, no-repeat and rate-limit filters also carry
// their own "enabled" flag.
type PerWalletPolicy struct {
	SizingMode     SizingMode `json:"sizingMode,omitempty"`
	FixedTradeSize float64    `json:"fixedTradeSize,omitempty"` // USD, used when SizingMode = fixed

	ThresholdEnabled bool    `json:"thresholdEnabled,omitempty"`
	ThresholdPercent float64 `json:"thresholdPercent,omitempty"`

	SideFilter SideFilter `json:"sideFilter,omitempty"`

	PriceMin float64 `json:"priceMin,omitempty"` // 0 means "not set" (defaults to 0.01 envelope)
	PriceMax float64 `json:"priceMax,omitempty"` // 0 means "not set" (defaults to 0.99 envelope)

	ValueFilterEnabled bool    `json:"valueFilterEnabled,omitempty"`
	ValueFilterMin     float64 `json:"valueFilterMin,omitempty"`
	ValueFilterMax     float64 `json:"valueFilterMax,omitempty"` // 0 means "no upper bound"

	NoRepeatEnabled     bool `json:"noRepeatEnabled,omitempty"`
	NoRepeatPeriodHours int  `json:"noRepeatPeriodHours,omitempty"` // 0 means "forever"

	RateLimitEnabled bool `json:"rateLimitEnabled,omitempty"`
	RateLimitPerHour int  `json:"rateLimitPerHour,omitempty"`
	RateLimitPerDay  int  `json:"rateLimitPerDay,omitempty"`

	SlippagePercent float64 `json:"slippagePercent,omitempty"` // default 2 when zero
}

// EffectiveSlippage returns the configured slippage, defaulting to 2%.
func (p PerWalletPolicy) EffectiveSlippage() float64 {
	if p.SlippagePercent > 0 {
		return p.SlippagePercent
	}
	return 2
}

// TrackedWallet is a third-party account whose trades are replicated.
type TrackedWallet struct {
	Address   string          `json:"address"` // lower-cased 20-byte hex address
	Label     string          `json:"label,omitempty"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"createdAt"`
	Policy    PerWalletPolicy `json:"policy"`
}

// GlobalConfig holds system-wide defaults and the stop-loss guard.
type GlobalConfig struct {
	DefaultTradeSizeUsd float64       `json:"defaultTradeSizeUsd"`
	PollIntervalMs      int           `json:"pollIntervalMs"`
	StopLoss            StopLossRule  `json:"stopLoss"`
}

// StopLossRule caps how much of the operator's book may be committed to
// open positions before replication is refused.
type StopLossRule struct {
	Enabled             bool    `json:"enabled"`
	MaxCommitmentPercent float64 `json:"maxCommitmentPercent"` // (0, 100]
}

// ————————————————————————————————————————————————————————————————————————
// Detected trades and orders
// ————————————————————————————————————————————————————————————————————————

// DetectedTrade is an immutable, normalized record of a trade performed by
// a tracked wallet, produced by the Poller or the PushStream and consumed
// by the Coordinator.
type DetectedTrade struct {
	SourceWallet    string          `json:"sourceWallet"`
	MarketID        string          `json:"marketId"` // conditionId
	AssetID         string          `json:"assetId"`  // CLOB token id
	Outcome         Outcome         `json:"outcome"`
	Side            Side            `json:"side"`
	Size            float64         `json:"size"`  // shares, > 0
	Price           float64         `json:"price"` // strictly in (0, 1)
	Timestamp       time.Time       `json:"timestamp"`
	TransactionHash string          `json:"transactionHash"` // may be synthetic
	NegRisk         bool            `json:"negRisk"`
	Policy          PerWalletPolicy `json:"policy"` // snapshot at detection time
	Source          string          `json:"source"` // "poller" or "pushstream", diagnostic only
}

// CompoundKey returns the cross-source dedup key described in spec §4.7:
// (wallet, market, outcome, side, floor(ts/5min)).
func (t DetectedTrade) CompoundKey() string {
	bucket := t.Timestamp.Unix() / 300
	return t.SourceWallet + "|" + t.MarketID + "|" + string(t.Outcome) + "|" + string(t.Side) + "|" + itoa64(bucket)
}

func itoa64(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// TradeOrder is the accepted output of the PolicyEngine, ready for the
// Executor to sign and post.
type TradeOrder struct {
	Trade      DetectedTrade
	MarketID   string
	AssetID    string
	Outcome    Outcome
	Side       Side
	Shares     float64 // rounded to 2 decimals
	Price      float64 // original detected price
	LimitPrice float64 // slippage-adjusted, rounded to 2 decimals
	Slippage   float64
	NegRisk    bool
	TickSize   TickSize
}

// ExecutionStatus classifies the outcome of an Executor attempt.
type ExecutionStatus string

const (
	StatusExecuted     ExecutionStatus = "executed"
	StatusMarketClosed ExecutionStatus = "market_closed"
	StatusFailed       ExecutionStatus = "failed"
)

// TradeResult is the Executor's report of what happened to a TradeOrder.
type TradeResult struct {
	Success         bool
	Status          ExecutionStatus
	OrderID         string
	TransactionHash string
	Error           string
	ExecutionTimeMs int64
}

// ————————————————————————————————————————————————————————————————————————
// Venue wire formats — Data API
// ————————————————————————————————————————————————————————————————————————

// RawTrade is one entry of GET /users/{addr}/trades. Fields are loosely
// typed because the venue's timestamp and numeric encodings vary.
type RawTrade struct {
	Asset           string `json:"asset"`
	ConditionID     string `json:"conditionId"`
	Side            string `json:"side"`
	Size            string `json:"size"`
	Price           string `json:"price"`
	Timestamp       string `json:"timestamp"`
	Outcome         string `json:"outcome"`
	OutcomeIndex    *int   `json:"outcomeIndex,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
	ID              string `json:"id,omitempty"`
}

// RawPosition is one entry of GET /users/{addr}/positions.
type RawPosition struct {
	Asset         string  `json:"asset"`
	ConditionID   string  `json:"conditionId"`
	Size          float64 `json:"size"`
	AvgPrice      float64 `json:"avgPrice"`
	CurPrice      float64 `json:"curPrice"`
	Outcome       string  `json:"outcome"`
	NegativeRisk  bool    `json:"negativeRisk"`
	Redeemable    bool    `json:"redeemable,omitempty"`
	Title         string  `json:"title,omitempty"`
}

// PortfolioValue is the response of GET /users/{addr}/value-ish endpoints:
// USDC balance plus open-position value marked at current price.
type PortfolioValue struct {
	CashUsd      float64 `json:"cashUsd"`
	PositionsUsd float64 `json:"positionsUsd"`
}

// Total returns the operator's (or tracked wallet's) total book value.
func (p PortfolioValue) Total() float64 {
	return p.CashUsd + p.PositionsUsd
}

// ProxyWalletResponse is the response of GET /public-profile?address=.
type ProxyWalletResponse struct {
	ProxyWallet string `json:"proxyWallet,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Venue wire formats — order book API
// ————————————————————————————————————————————————————————————————————————

// SignedOrder is the on-chain order format the order-book API expects.
// MakerAmount/TakerAmount are big.Int-encoded strings in 6-decimal USDC units.
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`
	Signer        string        `json:"signer"`
	Taker         string        `json:"taker"`
	TokenID       string        `json:"tokenId"`
	MakerAmount   string        `json:"makerAmount"`
	TakerAmount   string        `json:"takerAmount"`
	Side          Side          `json:"side"`
	Expiration    string        `json:"expiration"`
	Nonce         string        `json:"nonce"`
	FeeRateBps    string        `json:"feeRateBps"`
	SignatureType SignatureType `json:"signatureType"`
	Signature     string        `json:"signature"`
}

// OrderPayload is the POST /order request body for a single GTC order.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType OrderType   `json:"orderType"`
}

// OrderResponse is the venue's response to a single order POST. The order
// id may arrive under any of these three names depending on venue version;
// OrderID() resolves them in that priority order.
type OrderResponse struct {
	Success   bool   `json:"success"`
	ErrorMsg  string `json:"errorMsg"`
	Error     string `json:"error"`
	OrderIDA  string `json:"orderID"`
	OrderIDB  string `json:"orderId"`
	OrderIDC  string `json:"id"`
	Status    string `json:"status"`
}

// OrderID resolves the order identifier from whichever field the venue used.
func (r OrderResponse) OrderID() string {
	switch {
	case r.OrderIDA != "":
		return r.OrderIDA
	case r.OrderIDB != "":
		return r.OrderIDB
	default:
		return r.OrderIDC
	}
}

// MarketMeta describes a market's trading parameters.
type MarketMeta struct {
	ConditionID  string   `json:"conditionId"`
	YesTokenID   string   `json:"yesTokenId"`
	NoTokenID    string   `json:"noTokenId"`
	TickSize     TickSize `json:"tickSize"`
	NegRisk      bool     `json:"negRisk"`
	MinOrderSize float64  `json:"minOrderSize"`
}

// ————————————————————————————————————————————————————————————————————————
// Push-stream (WebSocket) events
// ————————————————————————————————————————————————————————————————————————

// WSTradeEvent is a fill notification for a subscribed wallet address.
type WSTradeEvent struct {
	EventType       string `json:"event_type"` // "trade"
	Address         string `json:"address"`
	ConditionID     string `json:"conditionId"`
	Asset           string `json:"asset"`
	Side            string `json:"side"`
	Size            string `json:"size"`
	Price           string `json:"price"`
	Outcome         string `json:"outcome"`
	Timestamp       string `json:"timestamp"`
	TransactionHash string `json:"transactionHash,omitempty"`
}

// WSSubscribeMsg is the subscription message sent on connect: a set of
// wallet addresses whose trades should be streamed.
type WSSubscribeMsg struct {
	Type      string   `json:"type"` // "wallets"
	Addresses []string `json:"addresses"`
}

// WSUpdateMsg dynamically adjusts the subscribed address set after connect.
type WSUpdateMsg struct {
	Addresses []string `json:"addresses"`
	Operation string   `json:"operation"` // "subscribe" or "unsubscribe"
}
