package model

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// TokenResponse is the body of a successful auth/v1/token call.
type TokenResponse struct {
	DmaToken string `json:"dmaToken"`
	Expire   int64  `json:"expire"` // epoch milliseconds
}

// AlertsPage is one page of the alert feed. NextPage and PreviousPage are
// full URL strings; the pagination cursors live in their query parameters.
type AlertsPage struct {
	Alerts       []Alert `json:"alerts"`
	NextPage     string  `json:"nextPage,omitempty"`
	PreviousPage string  `json:"previousPage,omitempty"`
}

// NextCursor extracts the resumption cursor from the page's nextPage URL.
// Returns "" when the page carries no continuation.
func (p AlertsPage) NextCursor() string {
	return cursorParam(p.NextPage, "from")
}

// PreviousCursor extracts the backward cursor from the previousPage URL.
func (p AlertsPage) PreviousCursor() string {
	return cursorParam(p.PreviousPage, "to")
}

func cursorParam(pageURL, key string) string {
	if pageURL == "" {
		return ""
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return u.Query().Get(key)
}

// ListsEnvelope is the body of api/v1/lists: watchlists grouped by category.
type ListsEnvelope struct {
	Lists map[string][]List `json:"lists"`
}

// Flatten collapses the per-category grouping into a single catalog.
func (e ListsEnvelope) Flatten() []List {
	var out []List
	for _, group := range e.Lists {
		out = append(out, group...)
	}
	return out
}

// DecodeAlertPayload parses a single-alert response body. The vendor returns
// either {"alerts":[alert]} or a bare alert object depending on the endpoint
// revision; both shapes are accepted. A body matching neither yields an error.
func DecodeAlertPayload(body []byte) (*Alert, error) {
	var page AlertsPage
	if err := json.Unmarshal(body, &page); err == nil && len(page.Alerts) > 0 {
		return &page.Alerts[0], nil
	}

	var alert Alert
	if err := json.Unmarshal(body, &alert); err != nil {
		return nil, fmt.Errorf("decode alert payload: %w", err)
	}
	if alert.AlertID == "" {
		return nil, fmt.Errorf("decode alert payload: no alert in response")
	}
	return &alert, nil
}
