// Package store implements the bounded in-memory alert cache.
package store

import "github.com/polarityio/dataminr-pulse-limited/internal/model"

// AddResult reports the outcome of an Add call.
type AddResult struct {
	Added   int // alerts admitted
	Dropped int // alerts rejected at admission (type, duplicate, age)
	Evicted int // alerts pushed out by the size bound
	Total   int // cache size after the call
}

// Stats is a point-in-time snapshot for the status endpoint.
type Stats struct {
	Alerts          int
	Lists           int
	LatestTimestamp int64
}

// Store is the interface for all alert cache operations.
type Store interface {
	// Add admits a batch of alerts. Duplicate ids keep the first-seen
	// alert; the newest alerts stay when the size bound overflows.
	Add(alerts []model.Alert) AddResult
	// All returns alerts newer than since (epoch milliseconds); since 0
	// returns everything. The result is ordered newest first.
	All(since int64) []model.Alert
	// ByID looks up one alert. Explicit fetches bypass the age bound.
	ByID(id string) (model.Alert, bool)
	// LatestTimestamp reports the newest cached alert timestamp.
	LatestTimestamp() (int64, bool)

	Lists() []model.List
	SetLists(lists []model.List)

	Clear()
	Stats() Stats
}
