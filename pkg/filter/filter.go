// Package filter implements the client-side predicate data model:
// filters, extractors, comparators and their composition, aggregation
// and pagination rules. Evaluation semantics here must match the
// server's exactly (spec.md §4.4), since filters travel as portable
// wire objects and are evaluated on both sides.
//
// Design Notes:
//   - Filters are a sealed tagged union of value types, not an
//     inheritance hierarchy: each variant implements Filter directly.
//   - Equality/hashing are content-based (spec.md §4.4) so the event
//     engine (cache-manager/engine) can de-duplicate subscriptions for
//     independently constructed but semantically identical filters.
//   - Hash calls pkg/utils.HashKey, the same FNV-1a primitive the
//     consistent-hash ring uses, instead of introducing a second
//     hashing scheme into the module.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"encore.app/pkg/utils"
)

// Filter evaluates to a boolean over a raw value, an Entry, or an Event.
type Filter interface {
	// Evaluate applies the filter to v, which may be a raw value, an
	// Entry, or an Event depending on the filter's context of use.
	Evaluate(v any) bool
	// Equal reports whether other is content-equal to this filter.
	Equal(other Filter) bool
	// Hash returns a content-based hash, stable across independently
	// constructed but semantically identical filters.
	Hash() uint64
}

// Entry is the (key, old-value, new-value, synthetic) view a filter can
// evaluate when attached to a mutating operation or a trigger.
type Entry struct {
	Key            any
	Value          any
	OriginalValue  any
	IsPresent      bool
	IsOriginalPresent bool
	Synthetic      bool
}

func hashBytes(parts ...string) uint64 {
	return utils.HashKey(strings.Join(parts, "\x00"))
}

func hashCombine(h uint64, sub uint64) uint64 {
	// FNV-style combine so composite filter hashes stay content-stable
	// regardless of construction order of identical sub-filter sets.
	return (h * 1099511628211) ^ sub
}

// AlwaysFilter matches everything.
type AlwaysFilter struct{}

func (AlwaysFilter) Evaluate(any) bool { return true }
func (AlwaysFilter) Equal(o Filter) bool { _, ok := o.(AlwaysFilter); return ok }
func (AlwaysFilter) Hash() uint64 { return hashBytes("always") }

// NeverFilter matches nothing.
type NeverFilter struct{}

func (NeverFilter) Evaluate(any) bool { return false }
func (NeverFilter) Equal(o Filter) bool { _, ok := o.(NeverFilter); return ok }
func (NeverFilter) Hash() uint64 { return hashBytes("never") }

// PresentFilter matches only entries that currently exist.
type PresentFilter struct{}

func (PresentFilter) Evaluate(v any) bool {
	if e, ok := v.(Entry); ok {
		return e.IsPresent
	}
	return v != nil
}
func (PresentFilter) Equal(o Filter) bool { _, ok := o.(PresentFilter); return ok }
func (PresentFilter) Hash() uint64 { return hashBytes("present") }

// NotFilter negates a sub-filter.
type NotFilter struct{ Sub Filter }

func Not(sub Filter) NotFilter { return NotFilter{Sub: sub} }

func (f NotFilter) Evaluate(v any) bool { return !f.Sub.Evaluate(v) }
func (f NotFilter) Equal(o Filter) bool {
	other, ok := o.(NotFilter)
	return ok && f.Sub.Equal(other.Sub)
}
func (f NotFilter) Hash() uint64 { return hashCombine(hashBytes("not"), f.Sub.Hash()) }

// nAryFilter is the shared implementation behind And/Or/Xor/AllOf/AnyOf.
type nAryFilter struct {
	op    string
	terms []Filter
}

func (f nAryFilter) Equal(o Filter) bool {
	other, ok := o.(nAryFilter)
	if !ok || other.op != f.op || len(other.terms) != len(f.terms) {
		return false
	}
	// Content-equality must be order-independent: two ANDs built from
	// the same terms in different orders are the same subscription.
	used := make([]bool, len(other.terms))
	for _, t := range f.terms {
		found := false
		for i, ot := range other.terms {
			if !used[i] && t.Equal(ot) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (f nAryFilter) Hash() uint64 {
	hashes := make([]uint64, len(f.terms))
	for i, t := range f.terms {
		hashes[i] = t.Hash()
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	h := hashBytes(f.op)
	for _, sub := range hashes {
		h = hashCombine(h, sub)
	}
	return h
}

func (f nAryFilter) Evaluate(v any) bool {
	switch f.op {
	case "and", "all":
		for _, t := range f.terms {
			if !t.Evaluate(v) {
				return false
			}
		}
		return true
	case "or", "any":
		for _, t := range f.terms {
			if t.Evaluate(v) {
				return true
			}
		}
		return false
	case "xor":
		count := 0
		for _, t := range f.terms {
			if t.Evaluate(v) {
				count++
			}
		}
		return count%2 == 1
	default:
		panic(fmt.Sprintf("filter: unknown n-ary op %q", f.op))
	}
}

// And matches iff every term matches.
func And(terms ...Filter) Filter { return nAryFilter{op: "and", terms: terms} }

// Or matches iff at least one term matches.
func Or(terms ...Filter) Filter { return nAryFilter{op: "or", terms: terms} }

// Xor matches iff an odd number of terms match.
func Xor(terms ...Filter) Filter { return nAryFilter{op: "xor", terms: terms} }

// AllOf is the n-ary generalization of And.
func AllOf(terms ...Filter) Filter { return nAryFilter{op: "all", terms: terms} }

// AnyOf is the n-ary generalization of Or.
func AnyOf(terms ...Filter) Filter { return nAryFilter{op: "any", terms: terms} }

// KeyFilter matches entries whose key is one of a fixed set.
type KeyFilter struct {
	Keys map[any]bool
}

// NewKeyFilter builds a KeyFilter over the given keys.
func NewKeyFilter(keys ...any) KeyFilter {
	m := make(map[any]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return KeyFilter{Keys: m}
}

func (f KeyFilter) Evaluate(v any) bool {
	key := v
	if e, ok := v.(Entry); ok {
		key = e.Key
	}
	return f.Keys[key]
}

func (f KeyFilter) Equal(o Filter) bool {
	other, ok := o.(KeyFilter)
	if !ok || len(other.Keys) != len(f.Keys) {
		return false
	}
	for k := range f.Keys {
		if !other.Keys[k] {
			return false
		}
	}
	return true
}

func (f KeyFilter) Hash() uint64 {
	keys := make([]string, 0, len(f.Keys))
	for k := range f.Keys {
		keys = append(keys, fmt.Sprint(k))
	}
	sort.Strings(keys)
	return hashBytes(append([]string{"key"}, keys...)...)
}
