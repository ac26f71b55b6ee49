package gateway

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestGateOptimisticWithoutAdvertisedLimit(t *testing.T) {
	g := &rateGate{}

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := g.acquire(context.Background()); err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("acquire stalled %v with no advertised limit", elapsed)
	}
}

func TestGateSuspendsUntilReset(t *testing.T) {
	g := &rateGate{}
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "2")
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", "200")
	g.update(h)

	start := time.Now()
	if err := g.acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("acquire returned after %v, want the full reset window", elapsed)
	}

	// The reopened window restores the advertised limit minus the slot
	// this acquire consumed.
	if got := g.snapshot(); got.Remaining != 1 {
		t.Errorf("remaining after reset = %d, want 1", got.Remaining)
	}
}

func TestGateConsumesRemaining(t *testing.T) {
	g := &rateGate{}
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "5")
	h.Set("X-RateLimit-Remaining", "2")
	g.update(h)

	for i := 0; i < 2; i++ {
		if err := g.acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if got := g.snapshot(); got.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", got.Remaining)
	}

	// With the window spent and no reset hint the gate suspends; the
	// caller's context bounds the wait.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := g.acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestGateIgnoresMalformedHeaders(t *testing.T) {
	g := &rateGate{}
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "abc")
	h.Set("X-RateLimit-Remaining", "")
	g.update(h)

	if got := g.snapshot(); got.Limit != 0 || got.Remaining != 0 || !got.ResetAt.IsZero() {
		t.Errorf("snapshot = %+v, want untouched zero state", got)
	}
	if err := g.acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
}
