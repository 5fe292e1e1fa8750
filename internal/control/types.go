package control

import "copytrader/pkg/types"

// addWalletRequest is the body of POST /api/wallets.
type addWalletRequest struct {
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
}

// setActiveRequest is the body of POST /api/wallets/{addr}/active.
type setActiveRequest struct {
	Active bool `json:"active"`
}

// setLabelRequest is the body of POST /api/wallets/{addr}/label.
type setLabelRequest struct {
	Label string `json:"label"`
}

// updatePolicyRequest is the body of POST /api/wallets/{addr}/policy: a
// full replacement of the wallet's PerWalletPolicy, mirroring the
// persisted document shape.
type updatePolicyRequest struct {
	Policy types.PerWalletPolicy `json:"policy"`
}

// setStopLossRequest is the body of POST /api/config/stop-loss.
type setStopLossRequest struct {
	Enabled              bool    `json:"enabled"`
	MaxCommitmentPercent float64 `json:"maxCommitmentPercent"`
}

// setTradeSizeRequest is the body of POST /api/config/trade-size.
type setTradeSizeRequest struct {
	DefaultTradeSizeUsd float64 `json:"defaultTradeSizeUsd"`
}

// setIntervalRequest is the body of POST /api/config/interval.
type setIntervalRequest struct {
	PollIntervalSeconds int `json:"pollIntervalSeconds"`
}

// statusResponse is the body of GET /api/engine/status.
type statusResponse struct {
	State string `json:"state"`
}

// errorResponse is the body of any non-2xx JSON response.
type errorResponse struct {
	Error string `json:"error"`
}
