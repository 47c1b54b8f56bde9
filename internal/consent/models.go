// Package consent models a user's consent state and resolves it from the
// remote system of record.
package consent

import (
	"time"
)

// Purpose labels why data is processed. The purpose set is configuration, not
// code: the names must match the DataUsePurpose names in the system of record.
type Purpose string

// Value is the tri-state outcome of a consent lookup for one purpose.
//
// Invariant: ValueUnknown means the purpose was never resolved or the system
// of record holds no record for it. It is not equivalent to ValueOptOut and
// must never be treated as acceptance.
type Value string

const (
	ValueOptIn   Value = "OptIn"
	ValueOptOut  Value = "OptOut"
	ValueUnknown Value = "Unknown"
)

// Known reports whether the value is an explicit decision.
func (v Value) Known() bool {
	return v == ValueOptIn || v == ValueOptOut
}

// State is the per-user consent snapshot cached on the session.
type State struct {
	Values          map[Purpose]Value `json:"values"`
	LastRefreshedAt time.Time         `json:"last_refreshed_at"`
}

// Get returns the value for a purpose, ValueUnknown when absent.
func (s State) Get(p Purpose) Value {
	if v, ok := s.Values[p]; ok && v != "" {
		return v
	}
	return ValueUnknown
}

// StaleAfter reports whether the snapshot is older than interval at now.
// Consent can be revoked out-of-band at any time, so a cached OptIn is only
// trusted for a bounded window.
func (s State) StaleAfter(interval time.Duration, now time.Time) bool {
	return now.Sub(s.LastRefreshedAt) > interval
}

// Purposes converts a configured list of purpose names.
func Purposes(names []string) []Purpose {
	out := make([]Purpose, 0, len(names))
	for _, n := range names {
		out = append(out, Purpose(n))
	}
	return out
}
