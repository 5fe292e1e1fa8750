// Package pushstream maintains an optional WebSocket subscription to the
// venue (or a front-door that exposes matching wallets), emitting
// normalized DetectedTrade events for a configured set of tracked wallet
// addresses. It runs concurrently with the Poller rather than replacing
// it, because the push source may identify wallets by a different address
// variant than the ones configured for polling.
//
// The feed auto-reconnects with exponential backoff (1s -> 30s cap) and a
// 90s read deadline so silent server failures are detected within about
// two missed pings.
package pushstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"copytrader/pkg/types"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	eventBufferSize  = 256
)

// State is the PushStream connection lifecycle.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
)

// Stream subscribes to trade events for a set of tracked wallet addresses
// and emits normalized DetectedTrade records on Events().
type Stream struct {
	url string

	connMu sync.Mutex
	conn   *websocket.Conn
	state  State

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	eventCh chan types.DetectedTrade
	logger  *slog.Logger
}

// New creates a Stream for the given WebSocket URL. Callers should
// Subscribe the initial wallet set before calling Run.
func New(wsURL string, logger *slog.Logger) *Stream {
	return &Stream{
		url:        wsURL,
		state:      Disconnected,
		subscribed: make(map[string]bool),
		eventCh:    make(chan types.DetectedTrade, eventBufferSize),
		logger:     logger.With("component", "pushstream"),
	}
}

// Events returns a read-only channel of normalized trade events.
func (s *Stream) Events() <-chan types.DetectedTrade { return s.eventCh }

// State returns the current connection lifecycle state.
func (s *Stream) State() State {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.state
}

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled; the Poller keeps running regardless of
// this feed's connection state.
func (s *Stream) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		s.setState(Connecting)
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			s.setState(Disconnected)
			return ctx.Err()
		}

		s.setState(Disconnected)
		s.logger.Warn("pushstream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds wallet addresses to the tracked set.
func (s *Stream) Subscribe(addrs []string) error {
	s.subscribedMu.Lock()
	for _, a := range addrs {
		s.subscribed[strings.ToLower(a)] = true
	}
	s.subscribedMu.Unlock()

	return s.writeJSON(types.WSUpdateMsg{Addresses: addrs, Operation: "subscribe"})
}

// Unsubscribe removes wallet addresses from the tracked set.
func (s *Stream) Unsubscribe(addrs []string) error {
	s.subscribedMu.Lock()
	for _, a := range addrs {
		delete(s.subscribed, strings.ToLower(a))
	}
	s.subscribedMu.Unlock()

	return s.writeJSON(types.WSUpdateMsg{Addresses: addrs, Operation: "unsubscribe"})
}

// Close gracefully closes the connection.
func (s *Stream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Stream) setState(st State) {
	s.connMu.Lock()
	s.state = st
	s.connMu.Unlock()
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	if err := s.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.setState(Connected)
	s.logger.Info("pushstream connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.dispatchMessage(msg)
	}
}

func (s *Stream) sendInitialSubscription() error {
	s.subscribedMu.RLock()
	addrs := make([]string, 0, len(s.subscribed))
	for a := range s.subscribed {
		addrs = append(addrs, a)
	}
	s.subscribedMu.RUnlock()

	return s.writeJSON(types.WSSubscribeMsg{Type: "wallets", Addresses: addrs})
}

func (s *Stream) dispatchMessage(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Debug("ignoring non-json pushstream message", "data", string(data))
		return
	}
	if envelope.EventType != "trade" {
		s.logger.Debug("ignoring pushstream event", "type", envelope.EventType)
		return
	}

	var evt types.WSTradeEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		s.logger.Error("unmarshal trade event", "error", err)
		return
	}

	trade, ok := normalize(evt)
	if !ok {
		return
	}

	select {
	case s.eventCh <- trade:
	default:
		s.logger.Warn("pushstream event channel full, dropping event", "wallet", trade.SourceWallet)
	}
}

// normalize converts a push-stream wire event into a DetectedTrade using
// the same field-tolerance rules the Poller applies to Data API records.
func normalize(evt types.WSTradeEvent) (types.DetectedTrade, bool) {
	marketID := evt.ConditionID
	if marketID == "" {
		marketID = evt.Asset
	}
	if marketID == "" {
		return types.DetectedTrade{}, false
	}

	side := types.Side(strings.ToUpper(evt.Side))
	if side != types.BUY && side != types.SELL {
		return types.DetectedTrade{}, false
	}

	price, err := strconv.ParseFloat(evt.Price, 64)
	if err != nil || price <= 0 || price >= 1 {
		return types.DetectedTrade{}, false
	}

	size, err := strconv.ParseFloat(evt.Size, 64)
	if err != nil || size <= 0 {
		return types.DetectedTrade{}, false
	}
	if size*price > 10_000_000 {
		size = size / 1e6
	}

	outcome := types.NO
	if strings.EqualFold(evt.Outcome, "yes") {
		outcome = types.YES
	}

	ts := time.Now()
	if ms, err := strconv.ParseInt(evt.Timestamp, 10, 64); err == nil {
		if ms < 1_000_000_000_000 {
			ms *= 1000
		}
		ts = time.UnixMilli(ms)
	}

	txHash := evt.TransactionHash
	if txHash == "" {
		txHash = "trade-" + strconv.FormatInt(ts.UnixMilli(), 10) + "-" + uuid.NewString()
	}

	return types.DetectedTrade{
		SourceWallet:    strings.ToLower(evt.Address),
		MarketID:        marketID,
		AssetID:         evt.Asset,
		Outcome:         outcome,
		Side:            side,
		Size:            size,
		Price:           price,
		Timestamp:       ts,
		TransactionHash: txHash,
		Source:          "pushstream",
	}, true
}

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (s *Stream) writeJSON(v interface{}) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("pushstream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *Stream) writeMessage(msgType int, data []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("pushstream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(msgType, data)
}
