package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"copytrader/internal/config"
	"copytrader/internal/engine"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	eng    *engine.Engine
	cfg    config.ControlConfig
	hub    *Hub
	logger *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(eng *engine.Engine, cfg config.ControlConfig, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{eng: eng, cfg: cfg, hub: hub, logger: logger.With("component", "control-handlers")}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- wallets: list | add | remove | setActive | updatePolicy | setLabel ---

func (h *Handlers) HandleListWallets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.Storage().ListWallets())
}

func (h *Handlers) HandleAddWallet(w http.ResponseWriter, r *http.Request) {
	var req addWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	if err := h.eng.Storage().AddWallet(req.Address, req.Label); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.eng.ReloadWallets()
	writeJSON(w, http.StatusCreated, map[string]string{"status": "added"})
}

func (h *Handlers) HandleRemoveWallet(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	if err := h.eng.Storage().RemoveWallet(addr); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.eng.ReloadWallets()
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *Handlers) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.eng.Storage().SetActive(addr, req.Active); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.eng.ReloadWallets()
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handlers) HandleSetLabel(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	var req setLabelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.eng.Storage().SetLabel(addr, req.Label); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handlers) HandleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	var req updatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.eng.Storage().UpdateWalletPolicy(addr, req.Policy); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// --- config: getStopLoss | setStopLoss | getInterval | setInterval | getTradeSize | setTradeSize ---

func (h *Handlers) HandleGetStopLoss(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.Storage().LoadConfig().StopLoss)
}

func (h *Handlers) HandleSetStopLoss(w http.ResponseWriter, r *http.Request) {
	var req setStopLossRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	cfg := h.eng.Storage().LoadConfig()
	cfg.StopLoss.Enabled = req.Enabled
	cfg.StopLoss.MaxCommitmentPercent = req.MaxCommitmentPercent
	if err := h.eng.SetGlobalConfig(cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handlers) HandleGetTradeSize(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]float64{"defaultTradeSizeUsd": h.eng.Storage().LoadConfig().DefaultTradeSizeUsd})
}

func (h *Handlers) HandleSetTradeSize(w http.ResponseWriter, r *http.Request) {
	var req setTradeSizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DefaultTradeSizeUsd <= 0 {
		writeError(w, http.StatusBadRequest, "defaultTradeSizeUsd must be > 0")
		return
	}
	cfg := h.eng.Storage().LoadConfig()
	cfg.DefaultTradeSizeUsd = req.DefaultTradeSizeUsd
	if err := h.eng.SetGlobalConfig(cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handlers) HandleGetInterval(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"pollIntervalSeconds": int(h.eng.Config().Global.PollInterval / time.Second)})
}

func (h *Handlers) HandleSetInterval(w http.ResponseWriter, r *http.Request) {
	var req setIntervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PollIntervalSeconds < 1 {
		writeError(w, http.StatusBadRequest, "pollIntervalSeconds must be >= 1")
		return
	}
	h.eng.SetPollInterval(time.Duration(req.PollIntervalSeconds) * time.Second)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated, restart the engine to apply"})
}

// --- engine: start | stop | status | reloadCredentials ---

func (h *Handlers) HandleEngineStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{State: string(h.eng.State())})
}

func (h *Handlers) HandleEngineStart(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.Start(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{State: string(h.eng.State())})
}

func (h *Handlers) HandleEngineStop(w http.ResponseWriter, r *http.Request) {
	h.eng.Stop()
	writeJSON(w, http.StatusOK, statusResponse{State: string(h.eng.State())})
}

func (h *Handlers) HandleReloadCredentials(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := h.eng.ReloadCredentials(ctx, h.eng.Config()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{State: string(h.eng.State())})
}

// --- trades: recent(limit) | failed(limit); issues: list | resolve(id) ---

func (h *Handlers) HandleRecentTrades(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.Storage().RecentTradeMetrics(queryLimit(r, 100)))
}

func (h *Handlers) HandleFailedTrades(w http.ResponseWriter, r *http.Request) {
	all := h.eng.Storage().RecentTradeMetrics(0)
	out := make([]interface{}, 0)
	limit := queryLimit(r, 100)
	for i := len(all) - 1; i >= 0 && (limit == 0 || len(out) < limit); i-- {
		if all[i].Status == "failed" {
			out = append(out, all[i])
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) HandleListIssues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.Storage().ListIssues(queryLimit(r, 100)))
}

func (h *Handlers) HandleResolveIssue(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be an integer index")
		return
	}
	if err := h.eng.Storage().ResolveIssue(idx); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// HandleWebSocket upgrades the connection and creates a new control-feed client.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.cfg, req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	NewClient(h.hub, conn)
}

// isOriginAllowed enforces the control surface's CORS policy: an explicit
// allowlist if configured, otherwise same-host or localhost only.
func isOriginAllowed(origin string, cfg config.ControlConfig, reqHost string) bool {
	if origin == "" {
		return true // non-browser clients often omit Origin
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
