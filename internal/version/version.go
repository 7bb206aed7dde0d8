// Package version implements the per-key sibling set: the collection of
// causally-unrelated (concurrent) versions of a value that dynamokv
// surfaces to readers for reconciliation, the way a Dynamo-style store
// does. It enforces causal dominance and deduplication so the set never
// grows unbounded under repeated delivery of the same write.
package version

import "dynamokv/internal/vclock"

// Value pairs a stored value with the vector clock stamped at the write
// that produced it.
type Value struct {
	Data  string
	Clock vclock.Clock
}

// equals reports whether two versioned values carry the same data and
// structurally equal clocks.
func (v Value) equals(other Value) bool {
	return v.Data == other.Data && v.Clock.Equals(other.Clock)
}

// Set is the per-key sibling set. Its elements are pairwise
// non-dominating: no element's clock is strictly Before another's. The
// zero value is an empty set, the same as NewSet returns.
type Set struct {
	values []Value
}

// NewSet returns an empty sibling set.
func NewSet() *Set {
	return &Set{}
}

// NewSetFrom builds a set by adding each value in turn, applying the
// dominance rule to each.
func NewSetFrom(values ...Value) *Set {
	s := NewSet()
	for _, v := range values {
		s.Add(v)
	}
	return s
}

// Add inserts v into the set under the dominance/dedup rule: any existing
// element whose clock is strictly Before v.Clock is removed; v is only
// inserted if no existing element's clock is strictly After v.Clock;
// an exact (data, clock) duplicate is never reinserted.
func (s *Set) Add(v Value) {
	kept := s.values[:0:0]
	dominated := false

	for _, existing := range s.values {
		if existing.equals(v) {
			// Exact duplicate: keep the existing entry, and since an
			// identical element already satisfies "not dominated", there
			// is nothing left to insert.
			kept = append(kept, existing)
			dominated = true
			continue
		}

		switch existing.Clock.Compare(v.Clock) {
		case vclock.Before:
			// existing is superseded by v; drop it.
		case vclock.After:
			// v is superseded by an existing sibling; keep existing, and
			// v must not be inserted.
			kept = append(kept, existing)
			dominated = true
		default: // Equal (different data) or Concurrent: both survive.
			kept = append(kept, existing)
		}
	}

	if !dominated {
		kept = append(kept, v)
	}
	s.values = kept
}

// Merge adds every element of other into s, in turn.
func (s *Set) Merge(other *Set) {
	if other == nil {
		return
	}
	for _, v := range other.values {
		s.Add(v)
	}
}

// Contains reports whether v (exact value and clock) is present.
func (s *Set) Contains(v Value) bool {
	for _, existing := range s.values {
		if existing.equals(v) {
			return true
		}
	}
	return false
}

// HasConflict reports whether the set holds more than one sibling.
func (s *Set) HasConflict() bool {
	return len(s.values) > 1
}

// Versions returns the current sibling list. Order is unspecified beyond
// "stable for this instance" — callers must not rely on ordering across
// separately constructed sets.
func (s *Set) Versions() []Value {
	out := make([]Value, len(s.values))
	copy(out, s.values)
	return out
}

// Len reports the number of siblings currently held.
func (s *Set) Len() int {
	return len(s.values)
}

// Clone returns a deep copy, safe to mutate independently of s.
func (s *Set) Clone() *Set {
	out := NewSet()
	for _, v := range s.values {
		out.values = append(out.values, Value{Data: v.Data, Clock: v.Clock.Copy()})
	}
	return out
}
