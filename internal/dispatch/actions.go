package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/polarityio/dataminr-pulse-limited/internal/filter"
	"github.com/polarityio/dataminr-pulse-limited/internal/gateway"
	"github.com/polarityio/dataminr-pulse-limited/internal/model"
)

// GetAlertsResponse answers the getAlerts action.
type GetAlertsResponse struct {
	Alerts             []model.Alert `json:"alerts"`
	Count              int           `json:"count"`
	LastAlertTimestamp int64         `json:"lastAlertTimestamp"`
}

// GetAlertResponse answers the getAlertById action. Alert is null when the
// id is unknown to both the cache and the vendor.
type GetAlertResponse struct {
	Alert   *model.Alert `json:"alert"`
	Message string       `json:"message,omitempty"`
}

// RenderResponse answers the render actions.
type RenderResponse struct {
	HTML string `json:"html"`
}

func (d *Dispatcher) handleGetAlerts(ctx context.Context, p Payload) (any, *Error) {
	pred := d.typeFilter()

	// An explicit count overrides timestamp filtering: the caller wants the
	// N most recent alerts, not the ones since a point in time.
	since := p.SinceTimestamp
	if p.Count > 0 {
		since = 0
	}

	alerts := d.readAlerts(since, pred)

	if p.Count > 0 && len(alerts) < p.Count {
		q := url.Values{}
		q.Set("pageSize", strconv.Itoa(p.Count))
		if len(d.cfg.ListsToWatch) > 0 {
			q.Set("lists", strings.Join(d.cfg.ListsToWatch, ","))
		}
		resp, err := d.gw.Request(ctx, gateway.RequestSpec{Route: "api/v1/alerts", Query: q})
		if err != nil {
			return nil, upstreamError("fetching alerts from the vendor failed", err)
		}
		var page model.AlertsPage
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return nil, &Error{Detail: "unexpected vendor response while fetching alerts", Err: err.Error()}
		}
		d.admit(page.Alerts)
		alerts = d.readAlerts(0, pred)
	}

	if p.Count > 0 && len(alerts) > p.Count {
		alerts = alerts[:p.Count]
	}

	out := GetAlertsResponse{Alerts: alerts, Count: len(alerts)}
	if len(alerts) > 0 {
		out.LastAlertTimestamp = alerts[0].AlertTimestamp
	}
	return out, nil
}

// readAlerts reads the store newest-first, keeping alerts that pass the type
// predicate and, when watchlists are configured, match at least one of them.
func (d *Dispatcher) readAlerts(since int64, pred *filter.TypePredicate) []model.Alert {
	out := []model.Alert{}
	for _, a := range d.store.All(since) {
		if !pred.Match(a) {
			continue
		}
		if !filter.MatchesLists(a, d.cfg.ListsToWatch) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (d *Dispatcher) handleGetAlertByID(ctx context.Context, id string) (any, *Error) {
	if id == "" {
		return nil, &Error{Detail: "Missing alertId in payload"}
	}

	alert, aerr := d.resolveAlert(ctx, id)
	if aerr != nil {
		return nil, aerr
	}
	if alert == nil {
		return GetAlertResponse{Message: "Alert not found"}, nil
	}
	return GetAlertResponse{Alert: alert}, nil
}

// resolveAlert tries the cache first (an explicit fetch ignores the age
// bound), then the vendor. A vendor 404 or a malformed body resolves to nil
// rather than an error.
func (d *Dispatcher) resolveAlert(ctx context.Context, id string) (*model.Alert, *Error) {
	if a, ok := d.store.ByID(id); ok {
		return &a, nil
	}

	q := url.Values{}
	if len(d.cfg.ListsToWatch) > 0 {
		q.Set("lists", strings.Join(d.cfg.ListsToWatch, ","))
	}
	resp, err := d.gw.Request(ctx, gateway.RequestSpec{Route: "api/v1/alerts/" + id, Query: q})
	if err != nil {
		if gateway.StatusOf(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, upstreamError("fetching the alert from the vendor failed", err)
	}

	alert, derr := model.DecodeAlertPayload(resp.Body)
	if derr != nil {
		d.log.Warn("malformed single-alert response", "alert_id", id, "error", derr)
		return nil, nil
	}
	return alert, nil
}

func (d *Dispatcher) handleRenderDetail(ctx context.Context, p Payload) (any, *Error) {
	if p.AlertID == "" {
		return nil, &Error{Detail: "Missing alertId in payload"}
	}

	alert, aerr := d.resolveAlert(ctx, p.AlertID)
	if aerr != nil {
		return nil, aerr
	}
	if alert == nil {
		return RenderResponse{HTML: ""}, nil
	}

	tz := p.Timezone
	if tz == "" {
		tz = d.cfg.Timezone
	}
	html, err := d.renderer.AlertDetail(*alert, tz)
	if err != nil {
		return nil, &Error{Detail: "rendering the alert failed", Err: err.Error()}
	}
	return RenderResponse{HTML: html}, nil
}

func (d *Dispatcher) handleRenderNotification(name string) (any, *Error) {
	html, err := d.renderer.AlertNotification(name)
	if err != nil {
		return nil, &Error{Detail: "rendering the notification failed", Err: err.Error()}
	}
	return RenderResponse{HTML: html}, nil
}
