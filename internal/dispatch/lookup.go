package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/polarityio/dataminr-pulse-limited/internal/config"
	"github.com/polarityio/dataminr-pulse-limited/internal/gateway"
	"github.com/polarityio/dataminr-pulse-limited/internal/model"
)

// LookupResult pairs an entity with its alert matches. Data is null when
// nothing matched.
type LookupResult struct {
	Entity Entity      `json:"entity"`
	Data   *LookupData `json:"data"`
}

type LookupData struct {
	Summary []string      `json:"summary"`
	Details LookupDetails `json:"details"`
}

type LookupDetails struct {
	Alerts     []model.Alert `json:"alerts"`
	AlertCount int           `json:"alertCount"`
}

// handleLookup searches the vendor for each entity in parallel. Results are
// admitted into the store so follow-up detail requests hit the cache, and a
// failed search for one entity never fails the batch.
func (d *Dispatcher) handleLookup(ctx context.Context, entities []Entity) (any, *Error) {
	searchable := removePrivateIPs(entities)
	d.metrics.LookupEntities.Add(float64(len(searchable)))

	specs := make([]gateway.RequestSpec, 0, len(searchable))
	for _, e := range searchable {
		q := url.Values{}
		q.Set("query", e.Value)
		q.Set("pageSize", strconv.Itoa(config.MaxPageSize))
		specs = append(specs, gateway.RequestSpec{Route: "api/v1/alerts", Query: q, ResultID: e.Value})
	}

	tagged, err := d.gw.Parallel(ctx, specs)
	if err != nil {
		return nil, upstreamError("alert search failed", err)
	}

	byValue := make(map[string][]model.Alert, len(tagged))
	for _, tr := range tagged {
		if tr.Response == nil {
			continue
		}
		var page model.AlertsPage
		if err := json.Unmarshal(tr.Response.Body, &page); err != nil {
			d.log.Warn("malformed search response", "entity", tr.ResultID, "error", err)
			continue
		}
		byValue[tr.ResultID] = page.Alerts
		d.admit(page.Alerts)
	}

	results := make([]LookupResult, 0, len(searchable))
	for _, e := range searchable {
		alerts := byValue[e.Value]
		if len(alerts) == 0 {
			results = append(results, LookupResult{Entity: e})
			continue
		}

		summary := fmt.Sprintf("Alerts: %d", len(alerts))
		if len(alerts) == config.MaxPageSize {
			// A full page means more may exist beyond it.
			summary += "+"
		}
		data := &LookupData{
			Summary: []string{summary},
			Details: LookupDetails{Alerts: alerts, AlertCount: len(alerts)},
		}
		if d.cfg.TrialMode {
			data.Details.Alerts = []model.Alert{}
		}
		results = append(results, LookupResult{Entity: e, Data: data})
	}
	return results, nil
}

// removePrivateIPs drops entities flagged as IPs whose value falls in the
// private IPv4 ranges; internal addresses never reach the vendor.
func removePrivateIPs(entities []Entity) []Entity {
	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if e.IsIP && isPrivateIPv4(e.Value) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func isPrivateIPv4(value string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(value))
	if err != nil {
		return false
	}
	return addr.Is4() && addr.IsPrivate()
}
