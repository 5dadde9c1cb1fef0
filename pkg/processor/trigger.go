// Package processor implements the server-side-shaped computation half
// of the predicate data model: entry processors, triggers and
// aggregators (spec.md §4.4). These travel as portable objects the same
// way pkg/filter's filters do, and are evaluated against a MutableEntry
// view of a single cache entry or a stream of such entries.
//
// Design Notes:
//   - Sealed tagged unions again, not inheritance: each processor and
//     aggregator variant is its own value type.
//   - Trigger actions mutate the entry snapshot directly rather than
//     returning a decision enum, matching the "pre-commit hook" framing
//     of spec.md §4.4 (the caller commits whatever state the entry is
//     left in once Process returns, unless it returns an error).
package processor

import (
	"errors"
	"fmt"
)

// MutableEntry is the pre-commit snapshot a trigger or entry processor
// observes and may mutate, per spec.md §4.4: originalValue, isPresent,
// isOriginalPresent, setValue, remove.
type MutableEntry interface {
	Key() any
	Value() (any, bool)
	OriginalValue() (any, bool)
	SetValue(v any)
	Remove()
}

// ErrTriggerRollback is returned by a FilterTrigger configured with
// ActionRollback when its filter rejects the pending mutation.
var ErrTriggerRollback = errors.New("processor: trigger rolled back mutation")

// TriggerAction selects what a FilterTrigger does when its filter
// rejects the pending state of an entry.
type TriggerAction int

const (
	// ActionRollback raises ErrTriggerRollback, vetoing the mutation.
	ActionRollback TriggerAction = iota
	// ActionIgnore restores the entry's original value, or removes it
	// if there was no original value to restore.
	ActionIgnore
	// ActionRemove deletes the entry outright.
	ActionRemove
)

// FilterEvaluator is the subset of filter.Filter a trigger needs,
// scoped down so this package does not import pkg/filter directly and
// create a dependency cycle with anything filter-adjacent that later
// needs processors.
type FilterEvaluator interface {
	Evaluate(v any) bool
}

// Trigger is a pre-commit hook attached to a mutating cache operation.
type Trigger interface {
	Process(entry MutableEntry) error
}

// FilterTrigger evaluates Filter against the entry's pending value; on
// rejection it performs Action.
type FilterTrigger struct {
	Filter FilterEvaluator
	Action TriggerAction
}

// NewFilterTrigger builds a FilterTrigger.
func NewFilterTrigger(f FilterEvaluator, action TriggerAction) FilterTrigger {
	return FilterTrigger{Filter: f, Action: action}
}

func (t FilterTrigger) Process(entry MutableEntry) error {
	val, present := entry.Value()
	if !present {
		val = nil
	}
	if t.Filter.Evaluate(val) {
		return nil
	}

	switch t.Action {
	case ActionRollback:
		return ErrTriggerRollback
	case ActionIgnore:
		orig, hadOrig := entry.OriginalValue()
		if hadOrig {
			entry.SetValue(orig)
		} else {
			entry.Remove()
		}
		return nil
	case ActionRemove:
		entry.Remove()
		return nil
	default:
		return fmt.Errorf("processor: unknown trigger action %d", t.Action)
	}
}
