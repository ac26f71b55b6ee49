package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Option is a configuration value that may arrive either as a plain string
// or as a {value, display} record. Downstream code only ever sees the
// normalized string form.
type Option struct {
	Value   string `json:"value"`
	Display string `json:"display,omitempty"`
}

// UnmarshalJSON accepts both wire shapes.
func (o *Option) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		o.Value = s
		o.Display = ""
		return nil
	}

	type alias Option
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("option must be a string or {value, display}: %w", err)
	}
	*o = Option(a)
	return nil
}

// Values extracts the value of each option, dropping empties and the literal
// "0" placeholder some hosts send for an unset selection.
func Values(opts []Option) []string {
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		v := strings.TrimSpace(o.Value)
		if v == "" || v == "0" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// NormalizeValues trims and drops empty or "0" entries, preserving order.
func NormalizeValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || v == "0" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// NormalizeTypes lowercases, trims, dedupes and sorts a set of alert type
// names. The result is the canonical form used by the admission filter and
// by its memoization key.
func NormalizeTypes(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || v == "0" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
