// Package dispatch routes inbound action payloads to their handlers:
// indicator lookup, cached and on-demand alert reads, and HTML rendering.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/polarityio/dataminr-pulse-limited/internal/config"
	"github.com/polarityio/dataminr-pulse-limited/internal/filter"
	"github.com/polarityio/dataminr-pulse-limited/internal/gateway"
	"github.com/polarityio/dataminr-pulse-limited/internal/metrics"
	"github.com/polarityio/dataminr-pulse-limited/internal/model"
	"github.com/polarityio/dataminr-pulse-limited/internal/store"
)

// Payload is the inbound action envelope. Fields beyond Action are
// action-specific; handlers ignore the ones they do not use.
type Payload struct {
	Action         string   `json:"action"`
	Entities       []Entity `json:"entities,omitempty"`
	SinceTimestamp int64    `json:"sinceTimestamp,omitempty"`
	Count          int      `json:"count,omitempty"`
	AlertID        string   `json:"alertId,omitempty"`
	Timezone       string   `json:"timezone,omitempty"`
	Name           string   `json:"name,omitempty"`
}

// Entity is one indicator submitted for lookup.
type Entity struct {
	Value string   `json:"value"`
	IsIP  bool     `json:"isIP,omitempty"`
	Types []string `json:"types,omitempty"`
}

// Error is the failure envelope returned to the host: a short human detail,
// an optional machine-readable cause, and the upstream status when known.
type Error struct {
	Detail string `json:"detail"`
	Err    string `json:"err,omitempty"`
	Status int    `json:"status,omitempty"`
}

func (e *Error) Error() string {
	if e.Err != "" {
		return e.Detail + ": " + e.Err
	}
	return e.Detail
}

// Gateway is the interface for vendor API access.
type Gateway interface {
	Request(ctx context.Context, spec gateway.RequestSpec) (*gateway.Response, error)
	Parallel(ctx context.Context, specs []gateway.RequestSpec) ([]gateway.TaggedResponse, error)
}

// Renderer produces the HTML payloads of the render actions.
type Renderer interface {
	AlertDetail(a model.Alert, timezone string) (string, error)
	AlertNotification(name string) (string, error)
}

// Bootstrapper starts background polling on demand. Implementations must be
// idempotent; the dispatcher invokes it on every request that carries
// credentials.
type Bootstrapper interface {
	EnsurePolling()
}

// Deps are the collaborators a Dispatcher needs.
type Deps struct {
	Config   *config.Config
	Gateway  Gateway
	Store    store.Store
	Filters  *filter.Memo
	Renderer Renderer
	Boot     Bootstrapper
	Log      *slog.Logger
	Metrics  *metrics.Metrics
}

// Dispatcher serves the closed action set against the store and the vendor.
type Dispatcher struct {
	cfg      *config.Config
	gw       Gateway
	store    store.Store
	filters  *filter.Memo
	renderer Renderer
	boot     Bootstrapper
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func New(deps Deps) *Dispatcher {
	if deps.Filters == nil {
		deps.Filters = filter.NewMemo()
	}
	return &Dispatcher{
		cfg:      deps.Config,
		gw:       deps.Gateway,
		store:    deps.Store,
		filters:  deps.Filters,
		renderer: deps.Renderer,
		boot:     deps.Boot,
		log:      deps.Log,
		metrics:  deps.Metrics,
	}
}

// Dispatch routes one payload to its action handler. The polling bootstrap
// piggybacks on inbound traffic: credentials arrive with requests, so the
// first credentialed request starts the background loops.
func (d *Dispatcher) Dispatch(ctx context.Context, p Payload) (any, *Error) {
	if p.Action == "" {
		return nil, &Error{Detail: "Missing action in payload"}
	}

	if d.boot != nil && d.cfg.HasCredentials() {
		d.boot.EnsurePolling()
	}

	d.log.Debug("dispatching action", "action", p.Action)

	switch p.Action {
	case "lookup":
		return d.handleLookup(ctx, p.Entities)
	case "getAlerts":
		return d.handleGetAlerts(ctx, p)
	case "getAlertById":
		return d.handleGetAlertByID(ctx, p.AlertID)
	case "renderAlertDetail":
		return d.handleRenderDetail(ctx, p)
	case "renderAlertNotification":
		return d.handleRenderNotification(p.Name)
	default:
		return nil, &Error{Detail: fmt.Sprintf("Unknown action: %s", p.Action)}
	}
}

// typeFilter returns the shared predicate for the configured type set.
func (d *Dispatcher) typeFilter() *filter.TypePredicate {
	return d.filters.TypeFilter(d.cfg.AlertTypesToWatch)
}

// admit feeds alerts through store admission and records the outcome.
func (d *Dispatcher) admit(alerts []model.Alert) {
	if len(alerts) == 0 {
		return
	}
	res := d.store.Add(alerts)
	d.metrics.AlertsAdmitted.Add(float64(res.Added))
	d.metrics.AlertsDropped.Add(float64(res.Dropped))
	d.metrics.AlertsEvicted.Add(float64(res.Evicted))
	d.metrics.CacheSize.Set(float64(res.Total))
}

// upstreamError converts a gateway failure into the host error envelope.
func upstreamError(detail string, err error) *Error {
	e := &Error{Detail: detail, Err: err.Error()}
	if status := gateway.StatusOf(err); status > 0 {
		e.Status = status
	}
	return e
}
