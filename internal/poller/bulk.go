package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/polarityio/dataminr-pulse-limited/internal/gateway"
	"github.com/polarityio/dataminr-pulse-limited/internal/model"
)

// pollBulk runs one cycle of the HMAC/ZIP ingestion variant: a single signed
// download with the `since` watermark, then admission of every JSON entry in
// the returned archive. The watermark advances to the highest numeric entry
// name so the next cycle resumes past everything already delivered.
func (p *Poller) pollBulk(ctx context.Context) (int, error) {
	since := p.State().LastSince

	q := url.Values{}
	q.Set("since", strconv.Itoa(since))
	resp, err := p.gw.Request(ctx, gateway.RequestSpec{Signed: true, Query: q})
	if err != nil {
		return 0, err
	}

	entries, watermark, err := gateway.ExtractArchive(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("bulk download: %w", err)
	}

	processed := 0
	for _, e := range entries {
		alerts, err := decodeBulkEntry(e.Data)
		if err != nil {
			p.log.Warn("skipping malformed archive entry", "entry", e.Name, "error", err)
			continue
		}
		p.admit(alerts)
		processed += len(alerts)
	}

	if watermark > since {
		p.mu.Lock()
		p.state.LastSince = watermark
		p.mu.Unlock()
	}
	return processed, nil
}

// decodeBulkEntry accepts the three shapes archive entries come in: a page
// object with an alerts array, a bare array, or JSONL with one alert per line.
func decodeBulkEntry(data []byte) ([]model.Alert, error) {
	var page model.AlertsPage
	if err := json.Unmarshal(data, &page); err == nil && page.Alerts != nil {
		return page.Alerts, nil
	}

	var arr []model.Alert
	if err := json.Unmarshal(data, &arr); err == nil {
		return arr, nil
	}

	var alerts []model.Alert
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var a model.Alert
		if err := dec.Decode(&a); err != nil {
			return nil, fmt.Errorf("decode archive entry: %w", err)
		}
		if a.AlertID != "" {
			alerts = append(alerts, a)
		}
	}
	return alerts, nil
}
