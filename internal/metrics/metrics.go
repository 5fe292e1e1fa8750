// Package metrics exposes Prometheus counters and gauges for the
// copy-trading pipeline: how many trades were detected, accepted,
// rejected (broken down by reason), executed, and failed, plus gauges
// for the Coordinator's in-memory dedup state so an operator can see
// memory growth before it becomes a problem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder wraps the Prometheus collectors registered for this process.
// A single Recorder is created at startup and used by the Coordinator,
// which records the PolicyEngine's rejections alongside its own outcomes.
type Recorder struct {
	TradesDetected  prometheus.Counter
	TradesAccepted  prometheus.Counter
	TradesRejected  *prometheus.CounterVec // labeled by reason
	TradesExecuted  prometheus.Counter
	TradesFailed    prometheus.Counter
	TradesClosed    prometheus.Counter // market_closed outcome

	DedupTxHashSize   prometheus.Gauge
	DedupCompoundSize prometheus.Gauge
	InFlightSize      prometheus.Gauge

	ExecutionLatencyMs prometheus.Histogram
}

// NewRecorder creates and registers all collectors against the given
// registerer (pass prometheus.DefaultRegisterer in production, a fresh
// prometheus.NewRegistry() in tests to avoid global-registry collisions).
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		TradesDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copytrader_trades_detected_total",
			Help: "Total DetectedTrade events observed across Poller and PushStream.",
		}),
		TradesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copytrader_trades_accepted_total",
			Help: "Total trades accepted by the PolicyEngine.",
		}),
		TradesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copytrader_trades_rejected_total",
			Help: "Total trades rejected by the PolicyEngine, labeled by reason.",
		}, []string{"reason"}),
		TradesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copytrader_trades_executed_total",
			Help: "Total orders successfully placed on the venue.",
		}),
		TradesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copytrader_trades_failed_total",
			Help: "Total order placements that failed for a reason other than market closure.",
		}),
		TradesClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copytrader_trades_market_closed_total",
			Help: "Total order placements that were refused because the market is not tradable.",
		}),
		DedupTxHashSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "copytrader_dedup_txhash_entries",
			Help: "Current number of entries in the Coordinator's transaction-hash dedup map.",
		}),
		DedupCompoundSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "copytrader_dedup_compound_entries",
			Help: "Current number of entries in the Coordinator's compound-key dedup map.",
		}),
		InFlightSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "copytrader_inflight_trades",
			Help: "Current number of trades being processed by the Coordinator.",
		}),
		ExecutionLatencyMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "copytrader_execution_latency_ms",
			Help:    "Executor.Execute wall-clock latency in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
	}

	reg.MustRegister(
		r.TradesDetected, r.TradesAccepted, r.TradesRejected,
		r.TradesExecuted, r.TradesFailed, r.TradesClosed,
		r.DedupTxHashSize, r.DedupCompoundSize, r.InFlightSize,
		r.ExecutionLatencyMs,
	)

	return r
}

// RecordRejection increments the rejected counter for a given filter reason.
func (r *Recorder) RecordRejection(reason string) {
	r.TradesRejected.WithLabelValues(reason).Inc()
}
