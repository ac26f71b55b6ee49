package gateway

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// defaultRateWindow is how long the gate suspends dispatch when the window
// is exhausted and the vendor never advertised a reset deadline.
const defaultRateWindow = time.Second

// RateLimit is a point-in-time view of the vendor's advertised window.
type RateLimit struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// rateGate tracks the vendor's advertised rate limit and suspends dispatch
// while the window is exhausted. State is fed from response headers.
type rateGate struct {
	mu        sync.Mutex
	limit     int
	remaining int
	resetAt   time.Time
}

// acquire blocks until a request may be dispatched under the advertised
// limit. Until a positive limit has been advertised it dispatches
// optimistically.
func (g *rateGate) acquire(ctx context.Context) error {
	for {
		g.mu.Lock()
		now := time.Now()
		if !g.resetAt.IsZero() && !now.Before(g.resetAt) {
			g.remaining = g.limit
			g.resetAt = time.Time{}
		}
		if g.limit <= 0 || g.remaining > 0 {
			if g.remaining > 0 {
				g.remaining--
			}
			g.mu.Unlock()
			return nil
		}
		if g.resetAt.IsZero() {
			g.resetAt = now.Add(defaultRateWindow)
		}
		wait := g.resetAt.Sub(now)
		g.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// update records the X-RateLimit-* response headers. Reset is the number
// of milliseconds until the window reopens.
func (g *rateGate) update(h http.Header) {
	limit, okLimit := headerInt(h, "X-RateLimit-Limit")
	remaining, okRemaining := headerInt(h, "X-RateLimit-Remaining")
	reset, okReset := headerInt(h, "X-RateLimit-Reset")
	if !okLimit && !okRemaining && !okReset {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if okLimit {
		g.limit = limit
	}
	if okRemaining {
		g.remaining = remaining
	}
	if okReset {
		g.resetAt = time.Now().Add(time.Duration(reset) * time.Millisecond)
	}
}

func (g *rateGate) snapshot() RateLimit {
	g.mu.Lock()
	defer g.mu.Unlock()

	return RateLimit{Limit: g.limit, Remaining: g.remaining, ResetAt: g.resetAt}
}

func headerInt(h http.Header, key string) (int, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
