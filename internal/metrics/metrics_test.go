package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRejectionIncrementsLabeledCounter(t *testing.T) {
	t.Parallel()
	r := NewRecorder(prometheus.NewRegistry())

	r.RecordRejection("price outside configured bounds")
	r.RecordRejection("price outside configured bounds")
	r.RecordRejection("rate limit exceeded")

	if got := testutil.ToFloat64(r.TradesRejected.WithLabelValues("price outside configured bounds")); got != 2 {
		t.Fatalf("expected 2 rejections for the price reason, got %v", got)
	}
	if got := testutil.ToFloat64(r.TradesRejected.WithLabelValues("rate limit exceeded")); got != 1 {
		t.Fatalf("expected 1 rejection for the rate-limit reason, got %v", got)
	}
}

func TestCountersStartAtZero(t *testing.T) {
	t.Parallel()
	r := NewRecorder(prometheus.NewRegistry())

	if got := testutil.ToFloat64(r.TradesDetected); got != 0 {
		t.Fatalf("expected TradesDetected to start at 0, got %v", got)
	}
	if got := testutil.ToFloat64(r.TradesExecuted); got != 0 {
		t.Fatalf("expected TradesExecuted to start at 0, got %v", got)
	}
}

func TestGaugesTrackSetValues(t *testing.T) {
	t.Parallel()
	r := NewRecorder(prometheus.NewRegistry())

	r.InFlightSize.Set(3)
	r.DedupTxHashSize.Set(10)
	r.DedupCompoundSize.Set(7)

	if got := testutil.ToFloat64(r.InFlightSize); got != 3 {
		t.Fatalf("expected InFlightSize 3, got %v", got)
	}
	if got := testutil.ToFloat64(r.DedupTxHashSize); got != 10 {
		t.Fatalf("expected DedupTxHashSize 10, got %v", got)
	}
	if got := testutil.ToFloat64(r.DedupCompoundSize); got != 7 {
		t.Fatalf("expected DedupCompoundSize 7, got %v", got)
	}
}
