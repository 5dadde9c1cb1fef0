package filter

import "fmt"

// EventKind identifies the cause of a cache event.
type EventKind int

const (
	EventInserted EventKind = iota
	EventUpdated
	EventDeleted
)

// Event is the (cache-ref, kind, key, old/new value, synthetic) tuple
// delivered from the transport, matching spec.md §3.
type Event struct {
	CacheRef  any
	Kind      EventKind
	Key       any
	OldValue  any
	NewValue  any
	Synthetic bool
}

// EventMask is a bitmask over {inserted, updated, deleted,
// updated-entered, updated-left, updated-within}.
type EventMask uint8

const (
	MaskInserted EventMask = 1 << iota
	MaskUpdated
	MaskDeleted
	MaskUpdatedEntered
	MaskUpdatedLeft
	MaskUpdatedWithin
)

// SyntheticMask is a bitmask over {natural, synthetic} event causes.
type SyntheticMask uint8

const (
	MaskNatural SyntheticMask = 1 << iota
	MaskSynthetic
)

// AllSyntheticStates accepts events of either cause.
const AllSyntheticStates = MaskNatural | MaskSynthetic

// CacheEventFilter composes a value filter with an event-kind mask and
// a synthetic/natural mask, per spec.md §4.4. For updates, one of seven
// truth tables is selected by which of
// {updated-entered, updated-left, updated-within, updated} bits are set.
type CacheEventFilter struct {
	ValueFilter   Filter
	Mask          EventMask
	SyntheticMask SyntheticMask
}

// NewCacheEventFilter builds a CacheEventFilter. A zero SyntheticMask
// defaults to AllSyntheticStates (accept both causes), matching the
// common case of filtering only on event kind.
func NewCacheEventFilter(valueFilter Filter, mask EventMask, synthetic SyntheticMask) CacheEventFilter {
	if synthetic == 0 {
		synthetic = AllSyntheticStates
	}
	return CacheEventFilter{ValueFilter: valueFilter, Mask: mask, SyntheticMask: synthetic}
}

func (f CacheEventFilter) Evaluate(v any) bool {
	evt, ok := v.(Event)
	if !ok {
		return false
	}

	cause := MaskNatural
	if evt.Synthetic {
		cause = MaskSynthetic
	}
	if f.SyntheticMask&cause == 0 {
		return false
	}

	switch evt.Kind {
	case EventInserted:
		if f.Mask&MaskInserted == 0 {
			return false
		}
		return f.ValueFilter.Evaluate(evt.NewValue)

	case EventDeleted:
		if f.Mask&MaskDeleted == 0 {
			return false
		}
		return f.ValueFilter.Evaluate(evt.OldValue)

	case EventUpdated:
		return f.evaluateUpdate(evt)

	default:
		return false
	}
}

// evaluateUpdate implements the seven update truth tables of
// spec.md §4.4: entered ≡ filter(new) ∧ ¬filter(old),
// left ≡ filter(old) ∧ ¬filter(new), within ≡ filter(old) ∧ filter(new),
// plain updated ≡ filter(old) ∨ filter(new), and their union when more
// than one of these bits is set together.
func (f CacheEventFilter) evaluateUpdate(evt Event) bool {
	matchesOld := f.ValueFilter.Evaluate(evt.OldValue)
	matchesNew := f.ValueFilter.Evaluate(evt.NewValue)

	entered := matchesNew && !matchesOld
	left := matchesOld && !matchesNew
	within := matchesOld && matchesNew
	updated := matchesOld || matchesNew

	matched := false
	if f.Mask&MaskUpdatedEntered != 0 {
		matched = matched || entered
	}
	if f.Mask&MaskUpdatedLeft != 0 {
		matched = matched || left
	}
	if f.Mask&MaskUpdatedWithin != 0 {
		matched = matched || within
	}
	if f.Mask&MaskUpdated != 0 {
		matched = matched || updated
	}
	return matched
}

func (f CacheEventFilter) Equal(o Filter) bool {
	other, ok := o.(CacheEventFilter)
	if !ok || other.Mask != f.Mask || other.SyntheticMask != f.SyntheticMask {
		return false
	}
	if (f.ValueFilter == nil) != (other.ValueFilter == nil) {
		return false
	}
	if f.ValueFilter == nil {
		return true
	}
	return f.ValueFilter.Equal(other.ValueFilter)
}

func (f CacheEventFilter) Hash() uint64 {
	h := hashBytes("cache-event", fmt.Sprint(f.Mask), fmt.Sprint(f.SyntheticMask))
	if f.ValueFilter != nil {
		h = hashCombine(h, f.ValueFilter.Hash())
	}
	return h
}

// ValueChangeFilter matches an update iff extract(old) != extract(new);
// other event kinds reject (spec.md §4.4).
type ValueChangeFilter struct {
	Extractor Extractor
}

func NewValueChangeFilter(e Extractor) ValueChangeFilter { return ValueChangeFilter{Extractor: e} }

func (f ValueChangeFilter) Evaluate(v any) bool {
	evt, ok := v.(Event)
	if !ok || evt.Kind != EventUpdated {
		return false
	}
	oldV := f.Extractor.Extract(evt.OldValue)
	newV := f.Extractor.Extract(evt.NewValue)
	return fmt.Sprint(oldV) != fmt.Sprint(newV)
}

func (f ValueChangeFilter) Equal(o Filter) bool {
	other, ok := o.(ValueChangeFilter)
	return ok && f.Extractor.Equal(other.Extractor)
}

func (f ValueChangeFilter) Hash() uint64 {
	return hashCombine(hashBytes("value-change"), f.Extractor.Hash())
}
