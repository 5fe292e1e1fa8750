package venue

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketAllowsBurstUpToCapacity(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(3, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("expected token %d to be immediately available: %v", i, err)
		}
	}
}

func TestTokenBucketBlocksWhenExhausted(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(1, 1000) // fast refill so the test stays quick
	ctx := context.Background()

	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	start := time.Now()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if time.Since(start) <= 0 {
		t.Fatal("expected the second Wait to take measurable time before refilling")
	}
}

func TestTokenBucketRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(1, 0.001) // effectively never refills within the test
	tb.tokens = 0

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := tb.Wait(ctx); err == nil {
		t.Fatal("expected context deadline to cancel the wait")
	}
}

func TestDataLimiterRequiresBothBuckets(t *testing.T) {
	t.Parallel()
	d := NewDataLimiter()
	if err := d.Wait(context.Background()); err != nil {
		t.Fatalf("expected first call to pass immediately: %v", err)
	}
	if d.perSecond.tokens >= 5 || d.perMinute.tokens >= 100 {
		t.Fatalf("expected Wait to take a token from both buckets, got perSecond=%v perMinute=%v", d.perSecond.tokens, d.perMinute.tokens)
	}
}
