// Package app supervises the integration lifecycle: startup, the lazy
// polling bootstrap and shutdown.
package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/polarityio/dataminr-pulse-limited/internal/config"
	"github.com/polarityio/dataminr-pulse-limited/internal/metrics"
	"github.com/polarityio/dataminr-pulse-limited/internal/model"
	"github.com/polarityio/dataminr-pulse-limited/internal/poller"
	"github.com/polarityio/dataminr-pulse-limited/internal/store"
)

// App owns the polling loops. Polling does not start with the process:
// credentials arrive with inbound requests, so the first credentialed
// request boots it. Shutdown returns to the uninitialized state and a later
// request boots it again from a clean polling state.
type App struct {
	cfg     *config.Config
	gw      poller.Gateway
	store   store.Store
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	current *poller.Poller
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(cfg *config.Config, gw poller.Gateway, st store.Store, log *slog.Logger, m *metrics.Metrics) *App {
	return &App{cfg: cfg, gw: gw, store: st, log: log, metrics: m}
}

// Startup logs the startup marker. It deliberately does not start polling.
func (a *App) Startup() {
	mode := "cursor"
	if a.cfg.BulkMode() {
		mode = "bulk"
	}
	a.log.Info("dataminr pulse integration started",
		"mode", mode,
		"poll_interval", a.cfg.PollInterval,
		"trial_mode", a.cfg.TrialMode)
}

// EnsurePolling boots both polling loops once: an immediate alerts poll, an
// immediate lists poll, then the periodic timers. Further calls are no-ops
// until Shutdown.
func (a *App) EnsurePolling() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		return
	}
	if !a.cfg.HasCredentials() {
		a.log.Warn("polling not started, credentials missing")
		return
	}

	p := poller.New(a.cfg, a.gw, a.store, a.log, a.metrics)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	a.current = p
	a.cancel = cancel
	a.done = done

	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	a.log.Info("polling initialized", "interval", a.cfg.PollInterval)
}

// PollingState reports the progress of the active poller; ok is false while
// polling is not initialized.
func (a *App) PollingState() (model.PollingState, bool) {
	a.mu.Lock()
	p := a.current
	a.mu.Unlock()

	if p == nil {
		return model.PollingState{}, false
	}
	return p.State(), true
}

// Shutdown cancels both polling timers and waits for the loops to return.
// In-flight vendor calls finish or time out on their own.
func (a *App) Shutdown() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.current, a.cancel, a.done = nil, nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	a.log.Info("polling stopped")
}
