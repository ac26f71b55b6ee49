package store

import (
	"sort"
	"sync"
	"time"

	"github.com/polarityio/dataminr-pulse-limited/internal/config"
	"github.com/polarityio/dataminr-pulse-limited/internal/model"
)

// headScanLimit bounds the out-of-order check on insert. The vendor returns
// pages newest-first, so the full sort is only paid when the scan sees an
// inversion or the cache overflows.
const headScanLimit = 10

// Memory implements Store with a mutex-guarded sequence and an id index.
type Memory struct {
	mu       sync.RWMutex
	maxItems int
	maxAge   time.Duration
	admit    func(model.Alert) bool

	alerts []model.Alert
	byID   map[string]model.Alert
	lists  []model.List
}

// NewMemory returns an empty cache. Non-positive bounds fall back to the
// process defaults; a nil admit function admits every alert type.
func NewMemory(maxItems int, maxAge time.Duration, admit func(model.Alert) bool) *Memory {
	if maxItems <= 0 {
		maxItems = config.DefaultCacheMaxItems
	}
	if maxAge <= 0 {
		maxAge = config.DefaultCacheMaxAge
	}
	return &Memory{
		maxItems: maxItems,
		maxAge:   maxAge,
		admit:    admit,
		byID:     make(map[string]model.Alert),
	}
}

// Add admits the batch, prepends survivors and enforces the size bound.
func (m *Memory) Add(alerts []model.Alert) AddResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.ageCutoff(time.Now())

	var res AddResult
	fresh := make([]model.Alert, 0, len(alerts))
	for _, a := range alerts {
		if m.admit != nil && !m.admit(a) {
			res.Dropped++
			continue
		}
		if a.AlertTimestamp < cutoff {
			res.Dropped++
			continue
		}
		if a.AlertID != "" {
			if _, dup := m.byID[a.AlertID]; dup {
				res.Dropped++
				continue
			}
			m.byID[a.AlertID] = a
		}
		fresh = append(fresh, a)
	}

	if len(fresh) > 0 {
		m.alerts = append(fresh, m.alerts...)
		res.Added = len(fresh)
	}

	if m.outOfOrderLocked() || len(m.alerts) > m.maxItems {
		sort.SliceStable(m.alerts, func(i, j int) bool {
			return m.alerts[i].AlertTimestamp > m.alerts[j].AlertTimestamp
		})
	}
	if over := len(m.alerts) - m.maxItems; over > 0 {
		for _, a := range m.alerts[m.maxItems:] {
			if a.AlertID != "" {
				delete(m.byID, a.AlertID)
			}
		}
		m.alerts = m.alerts[:m.maxItems:m.maxItems]
		res.Evicted = over
	}

	res.Total = len(m.alerts)
	return res
}

// All returns cached alerts newer than since, trimming the expired tail
// along the way.
func (m *Memory) All(since int64) []model.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.ageCutoff(time.Now())
	m.trimExpiredLocked(cutoff)

	out := make([]model.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if a.AlertTimestamp < cutoff {
			continue
		}
		if since > 0 && a.AlertTimestamp <= since {
			continue
		}
		out = append(out, a)
	}
	return out
}

// ByID returns the alert with the given id. Age is deliberately not
// checked; an explicit fetch must find what the cache still holds.
func (m *Memory) ByID(id string) (model.Alert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.byID[id]
	return a, ok
}

// LatestTimestamp reports the newest cached alert timestamp.
func (m *Memory) LatestTimestamp() (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.alerts) == 0 {
		return 0, false
	}
	return m.alerts[0].AlertTimestamp, true
}

// Lists returns the cached lists catalog.
func (m *Memory) Lists() []model.List {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]model.List(nil), m.lists...)
}

// SetLists replaces the lists catalog. An empty catalog is ignored so a
// failed refresh keeps the last known good one.
func (m *Memory) SetLists(lists []model.List) {
	if len(lists) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lists = append([]model.List(nil), lists...)
}

// Clear drops the sequence and the id index. The lists catalog survives.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.alerts = nil
	m.byID = make(map[string]model.Alert)
}

// Stats returns a snapshot of the cache counters.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{Alerts: len(m.alerts), Lists: len(m.lists)}
	if len(m.alerts) > 0 {
		s.LatestTimestamp = m.alerts[0].AlertTimestamp
	}
	return s
}

// ageCutoff is the oldest admissible timestamp in epoch milliseconds.
func (m *Memory) ageCutoff(now time.Time) int64 {
	return model.Millis(now.Add(-m.maxAge))
}

// outOfOrderLocked scans the head of the sequence for an inversion.
func (m *Memory) outOfOrderLocked() bool {
	n := len(m.alerts)
	if n > headScanLimit {
		n = headScanLimit
	}
	for i := 1; i < n; i++ {
		if m.alerts[i-1].AlertTimestamp < m.alerts[i].AlertTimestamp {
			return true
		}
	}
	return false
}

// trimExpiredLocked drops the expired tail of the sequence.
func (m *Memory) trimExpiredLocked(cutoff int64) {
	i := len(m.alerts)
	for i > 0 && m.alerts[i-1].AlertTimestamp < cutoff {
		if id := m.alerts[i-1].AlertID; id != "" {
			delete(m.byID, id)
		}
		i--
	}
	if i < len(m.alerts) {
		m.alerts = m.alerts[:i:i]
	}
}
