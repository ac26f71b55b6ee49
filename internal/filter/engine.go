// Package filter implements the alert matching predicates used at
// admission and at read time.
package filter

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/polarityio/dataminr-pulse-limited/internal/config"
	"github.com/polarityio/dataminr-pulse-limited/internal/model"
)

// TypePredicate matches alerts whose type name is in a watched set.
// An empty set admits every alert. Instances are shared through Memo,
// so equality of two predicates can be checked with ==.
type TypePredicate struct {
	key string
	set map[string]struct{}
}

// Key returns the canonical key for the predicate's type set.
func (p *TypePredicate) Key() string { return p.key }

// Match reports whether the alert's type is watched.
func (p *TypePredicate) Match(a model.Alert) bool {
	if len(p.set) == 0 {
		return true
	}
	_, ok := p.set[strings.ToLower(a.TypeName())]
	return ok
}

// Memo hands out type predicates, one shared instance per distinct
// type set. Type sets that are equal after normalization (case, order,
// duplicates) map to the same instance.
type Memo struct {
	mu    sync.Mutex
	cache map[string]*TypePredicate
}

// NewMemo returns an empty predicate cache.
func NewMemo() *Memo {
	return &Memo{cache: make(map[string]*TypePredicate)}
}

// TypeFilter returns the shared predicate for the given type names.
func (m *Memo) TypeFilter(types []string) *TypePredicate {
	normalized := config.NormalizeTypes(types)
	raw, _ := json.Marshal(normalized)
	key := string(raw)

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.cache[key]; ok {
		return p
	}
	set := make(map[string]struct{}, len(normalized))
	for _, name := range normalized {
		set[name] = struct{}{}
	}
	p := &TypePredicate{key: key, set: set}
	m.cache[key] = p
	return p
}

// MatchesLists reports whether the alert matched at least one of the
// given list ids. An empty id set matches everything. Alerts without
// list matches (the vendor omits listsMatched on some endpoints) fail
// any non-empty set.
func MatchesLists(a model.Alert, ids []string) bool {
	if len(ids) == 0 {
		return true
	}
	matched := a.ListIDs()
	if len(matched) == 0 {
		return false
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for _, id := range matched {
		if _, ok := want[id]; ok {
			return true
		}
	}
	return false
}
