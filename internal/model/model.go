// Package model defines the domain types used across the application.
package model

import (
	"encoding/json"
	"time"
)

// AlertType classifies an alert. The vendor sends free-form names
// ("Flash", "Urgent", "Alert"); matching is always case-insensitive.
type AlertType struct {
	Name string `json:"name,omitempty"`
}

// ListRef is the subset of a watchlist entry carried on an alert.
type ListRef struct {
	ID   json.Number `json:"id,omitempty"`
	Name string      `json:"name,omitempty"`
}

// Alert is an immutable record received from the vendor. AlertID and
// AlertTimestamp drive indexing and ordering; everything else is preserved
// as-is for downstream consumers (detail rendering, UI).
type Alert struct {
	AlertID        string    `json:"alertId"`
	AlertTimestamp int64     `json:"alertTimestamp,omitempty"` // epoch milliseconds
	AlertType      AlertType `json:"alertType,omitempty"`
	Headline       string    `json:"headline,omitempty"`
	SubHeadline    string    `json:"subHeadline,omitempty"`

	ListsMatched []ListRef `json:"listsMatched,omitempty"`

	// Opaque payload fields. The core never interprets these.
	PublicPost             json.RawMessage `json:"publicPost,omitempty"`
	LiveBrief              json.RawMessage `json:"liveBrief,omitempty"`
	IntelAgents            json.RawMessage `json:"intelAgents,omitempty"`
	Metadata               json.RawMessage `json:"metadata,omitempty"`
	LinkedAlerts           json.RawMessage `json:"linkedAlerts,omitempty"`
	AlertReferenceTerms    json.RawMessage `json:"alertReferenceTerms,omitempty"`
	DataminrAlertURL       string          `json:"dataminrAlertUrl,omitempty"`
	EstimatedEventLocation json.RawMessage `json:"estimatedEventLocation,omitempty"`
}

// Time converts the millisecond alert timestamp to a time.Time.
func (a Alert) Time() time.Time {
	return time.UnixMilli(a.AlertTimestamp)
}

// TypeName returns the alert's type name, empty when the vendor omitted it.
func (a Alert) TypeName() string {
	return a.AlertType.Name
}

// ListIDs returns the ids of the watchlists this alert matched.
// Single-alert fetches may omit listsMatched entirely; callers must treat a
// nil result as "no match information", not "matched nothing".
func (a Alert) ListIDs() []string {
	if len(a.ListsMatched) == 0 {
		return nil
	}
	ids := make([]string, 0, len(a.ListsMatched))
	for _, l := range a.ListsMatched {
		if l.ID.String() != "" {
			ids = append(ids, l.ID.String())
		}
	}
	return ids
}

// List is a catalog entry representing a vendor-side subscription group.
type List struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

// PollingState tracks progress of the alert polling loop. It is owned and
// mutated exclusively by the poller; readers receive copies.
type PollingState struct {
	LastPollTime         time.Time
	LastCursor           string
	AlertCount           int
	TotalAlertsProcessed int64

	// LastSince is the resumption watermark of the bulk (HMAC/ZIP)
	// ingestion variant; unused in cursor mode.
	LastSince int
}

// Millis converts a time to the vendor's millisecond representation.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
