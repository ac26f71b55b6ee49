// Package poller implements the periodic ingestion loops: cursor-based
// alert polling and the watchlist catalog refresh.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/polarityio/dataminr-pulse-limited/internal/config"
	"github.com/polarityio/dataminr-pulse-limited/internal/gateway"
	"github.com/polarityio/dataminr-pulse-limited/internal/metrics"
	"github.com/polarityio/dataminr-pulse-limited/internal/model"
	"github.com/polarityio/dataminr-pulse-limited/internal/store"
)

// Pacing between page fetches within one poll cycle.
const (
	pageDelayMin = 200 * time.Millisecond
	pageDelayMax = 500 * time.Millisecond
)

// Gateway is the interface for issuing authenticated vendor requests.
type Gateway interface {
	Request(ctx context.Context, spec gateway.RequestSpec) (*gateway.Response, error)
}

// Poller runs two independent periodic tasks. Each is a single-shot timer
// rescheduled after the previous run completes, so cycles never overlap;
// a busy flag additionally suppresses re-entry from immediate triggers.
type Poller struct {
	cfg     *config.Config
	gw      Gateway
	store   store.Store
	log     *slog.Logger
	metrics *metrics.Metrics

	pollInterval  time.Duration
	listsInterval time.Duration
	pageDelay     func() time.Duration

	mu    sync.Mutex
	state model.PollingState

	alertsBusy atomic.Bool
	listsBusy  atomic.Bool
}

// New creates a Poller. Intervals come from the configuration; the alert
// poll period is clamped to the accepted minimum.
func New(cfg *config.Config, gw Gateway, st store.Store, log *slog.Logger, m *metrics.Metrics) *Poller {
	pollInterval := cfg.PollInterval
	if pollInterval < config.MinPollInterval {
		pollInterval = config.MinPollInterval
	}
	listsInterval := cfg.ListsPollInterval
	if listsInterval <= 0 {
		listsInterval = config.DefaultListsPollInterval
	}

	return &Poller{
		cfg:           cfg,
		gw:            gw,
		store:         st,
		log:           log,
		metrics:       m,
		pollInterval:  pollInterval,
		listsInterval: listsInterval,
		pageDelay:     defaultPageDelay,
	}
}

// SetIntervals overrides the polling periods (useful for testing).
func (p *Poller) SetIntervals(alerts, lists time.Duration) {
	p.pollInterval = alerts
	p.listsInterval = lists
}

// Run fires one immediate alerts poll and one immediate lists poll, then
// reschedules both until ctx is cancelled. It blocks.
func (p *Poller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.loop(ctx, p.pollInterval, p.pollAlerts)
	}()
	go func() {
		defer wg.Done()
		p.loop(ctx, p.listsInterval, p.pollLists)
	}()
	wg.Wait()
}

// loop runs task immediately, then once per interval. The timer is armed
// only after the previous run returns.
func (p *Poller) loop(ctx context.Context, interval time.Duration, task func(context.Context)) {
	task(ctx)

	for {
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		task(ctx)
	}
}

// State returns a copy of the polling progress.
func (p *Poller) State() model.PollingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Poller) pollAlerts(ctx context.Context) {
	if !p.alertsBusy.CompareAndSwap(false, true) {
		p.log.Debug("alerts poll still running, skipping tick")
		return
	}
	defer p.alertsBusy.Store(false)

	p.metrics.PollsTotal.Inc()

	var (
		processed int
		err       error
	)
	if p.cfg.BulkMode() {
		processed, err = p.pollBulk(ctx)
	} else {
		processed, err = p.pollPages(ctx)
	}
	if err != nil {
		p.metrics.PollFailures.Inc()
		if gateway.StatusOf(err) == http.StatusTooManyRequests {
			p.log.Warn("alerts poll rate limited, cursor preserved", "error", err)
		} else {
			p.log.Error("alerts poll failed", "error", err)
		}
		return
	}

	p.mu.Lock()
	p.state.LastPollTime = time.Now()
	p.state.AlertCount = processed
	p.state.TotalAlertsProcessed += int64(processed)
	p.mu.Unlock()

	p.log.Info("alerts poll complete", "alerts", processed)
}

// pollPages fetches up to MaxPages pages, feeding each to the store and
// advancing the cursor as it goes. A short page means the feed is drained.
// The cursor is persisted per page, so an aborted cycle resumes where it
// stopped.
func (p *Poller) pollPages(ctx context.Context) (int, error) {
	cursor := p.State().LastCursor
	processed := 0

	for page := 0; page < config.MaxPages; page++ {
		if page > 0 {
			if err := p.sleepBetweenPages(ctx); err != nil {
				return processed, err
			}
		}

		q := url.Values{}
		q.Set("pageSize", strconv.Itoa(config.DefaultPageSize))
		if cursor != "" {
			q.Set("from", cursor)
		}
		if len(p.cfg.ListsToWatch) > 0 {
			q.Set("lists", strings.Join(p.cfg.ListsToWatch, ","))
		}

		resp, err := p.gw.Request(ctx, gateway.RequestSpec{Route: "api/v1/alerts", Query: q})
		if err != nil {
			return processed, err
		}

		var pg model.AlertsPage
		if err := json.Unmarshal(resp.Body, &pg); err != nil {
			return processed, fmt.Errorf("decode alerts page: %w", err)
		}

		p.admit(pg.Alerts)
		processed += len(pg.Alerts)

		// A page without a continuation keeps the previous cursor, so the
		// next cycle re-checks the tail instead of restarting from scratch.
		if next := pg.NextCursor(); next != "" {
			cursor = next
		}
		p.setCursor(cursor)

		if len(pg.Alerts) < config.DefaultPageSize || pg.NextCursor() == "" {
			break
		}
	}
	return processed, nil
}

func (p *Poller) pollLists(ctx context.Context) {
	if !p.listsBusy.CompareAndSwap(false, true) {
		return
	}
	defer p.listsBusy.Store(false)

	resp, err := p.gw.Request(ctx, gateway.RequestSpec{Route: "api/v1/lists"})
	if err != nil {
		p.log.Error("lists refresh failed", "error", err)
		return
	}

	var env model.ListsEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		p.log.Error("decode lists response", "error", err)
		return
	}

	lists := env.Flatten()
	if len(lists) == 0 {
		p.log.Warn("lists refresh returned an empty catalog, keeping the previous one")
		return
	}
	p.store.SetLists(lists)
	p.log.Info("watchlist catalog refreshed", "lists", len(lists))
}

// admit feeds alerts through store admission and records the outcome.
func (p *Poller) admit(alerts []model.Alert) {
	if len(alerts) == 0 {
		return
	}
	res := p.store.Add(alerts)
	p.metrics.AlertsAdmitted.Add(float64(res.Added))
	p.metrics.AlertsDropped.Add(float64(res.Dropped))
	p.metrics.AlertsEvicted.Add(float64(res.Evicted))
	p.metrics.CacheSize.Set(float64(res.Total))
}

func (p *Poller) setCursor(cursor string) {
	p.mu.Lock()
	p.state.LastCursor = cursor
	p.mu.Unlock()
}

func (p *Poller) sleepBetweenPages(ctx context.Context) error {
	timer := time.NewTimer(p.pageDelay())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func defaultPageDelay() time.Duration {
	return pageDelayMin + time.Duration(rand.Int63n(int64(pageDelayMax-pageDelayMin)))
}
