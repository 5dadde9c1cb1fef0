package processor

import "fmt"

// Aggregator is a server-side reducer over a stream of extracted
// values, returning a single result (spec.md §4.4, GLOSSARY
// "Aggregator"). Accumulate is called once per entry value in the
// aggregated set; Result finalizes after the last call.
type Aggregator interface {
	Accumulate(value any)
	Result() any
	Equal(other Aggregator) bool
}

// ValueOf extracts the field Aggregators operate over, mirroring
// pkg/filter's Extractor contract without importing it directly (same
// acyclic-package rationale as FilterEvaluator in trigger.go).
type ValueOf interface {
	Extract(v any) any
}

// Count counts the number of entries seen, ignoring their values.
type Count struct {
	extractor ValueOf
	n         int
}

func NewCount(e ValueOf) *Count { return &Count{extractor: e} }

func (a *Count) Accumulate(value any) { a.n++ }
func (a *Count) Result() any          { return a.n }
func (a *Count) Equal(o Aggregator) bool {
	_, ok := o.(*Count)
	return ok
}

// Sum accumulates the numeric sum of extractor applied to each value.
type Sum struct {
	Extractor ValueOf
	total     float64
	any_      bool
}

func NewSum(e ValueOf) *Sum { return &Sum{Extractor: e} }

func (a *Sum) Accumulate(value any) {
	if f, ok := toFloat(a.Extractor.Extract(value)); ok {
		a.total += f
		a.any_ = true
	}
}
func (a *Sum) Result() any {
	if !a.any_ {
		return 0.0
	}
	return a.total
}
func (a *Sum) Equal(o Aggregator) bool {
	_, ok := o.(*Sum)
	return ok
}

// Min tracks the minimum extracted value seen.
type Min struct {
	Extractor ValueOf
	min       float64
	any_      bool
}

func NewMin(e ValueOf) *Min { return &Min{Extractor: e} }

func (a *Min) Accumulate(value any) {
	f, ok := toFloat(a.Extractor.Extract(value))
	if !ok {
		return
	}
	if !a.any_ || f < a.min {
		a.min = f
	}
	a.any_ = true
}
func (a *Min) Result() any {
	if !a.any_ {
		return nil
	}
	return a.min
}
func (a *Min) Equal(o Aggregator) bool {
	_, ok := o.(*Min)
	return ok
}

// Max tracks the maximum extracted value seen.
type Max struct {
	Extractor ValueOf
	max       float64
	any_      bool
}

func NewMax(e ValueOf) *Max { return &Max{Extractor: e} }

func (a *Max) Accumulate(value any) {
	f, ok := toFloat(a.Extractor.Extract(value))
	if !ok {
		return
	}
	if !a.any_ || f > a.max {
		a.max = f
	}
	a.any_ = true
}
func (a *Max) Result() any {
	if !a.any_ {
		return nil
	}
	return a.max
}
func (a *Max) Equal(o Aggregator) bool {
	_, ok := o.(*Max)
	return ok
}

// Average tracks the running mean of extracted values.
type Average struct {
	Extractor ValueOf
	total     float64
	count     int
}

func NewAverage(e ValueOf) *Average { return &Average{Extractor: e} }

func (a *Average) Accumulate(value any) {
	if f, ok := toFloat(a.Extractor.Extract(value)); ok {
		a.total += f
		a.count++
	}
}
func (a *Average) Result() any {
	if a.count == 0 {
		return nil
	}
	return a.total / float64(a.count)
}
func (a *Average) Equal(o Aggregator) bool {
	_, ok := o.(*Average)
	return ok
}

// DistinctValues collects the set of distinct extracted values,
// de-duplicated by their fmt.Sprint representation (matching the
// broad-equality convention pkg/filter's comparison filters use).
type DistinctValues struct {
	Extractor ValueOf
	seen      map[string]any
	order     []string
}

func NewDistinctValues(e ValueOf) *DistinctValues {
	return &DistinctValues{Extractor: e, seen: make(map[string]any)}
}

func (a *DistinctValues) Accumulate(value any) {
	v := a.Extractor.Extract(value)
	key := fmt.Sprint(v)
	if _, ok := a.seen[key]; !ok {
		a.seen[key] = v
		a.order = append(a.order, key)
	}
}

func (a *DistinctValues) Result() any {
	out := make([]any, len(a.order))
	for i, k := range a.order {
		out[i] = a.seen[k]
	}
	return out
}

func (a *DistinctValues) Equal(o Aggregator) bool {
	_, ok := o.(*DistinctValues)
	return ok
}

// GroupBy partitions accumulated values by a key extractor and applies
// a fresh instance of the supplied aggregator factory to each group.
type GroupBy struct {
	KeyExtractor ValueOf
	NewGroup     func() Aggregator

	groups map[string]Aggregator
	keys   map[string]any
	order  []string
}

func NewGroupBy(keyExtractor ValueOf, newGroup func() Aggregator) *GroupBy {
	return &GroupBy{
		KeyExtractor: keyExtractor,
		NewGroup:     newGroup,
		groups:       make(map[string]Aggregator),
		keys:         make(map[string]any),
	}
}

func (a *GroupBy) Accumulate(value any) {
	k := a.KeyExtractor.Extract(value)
	bucket := fmt.Sprint(k)
	g, ok := a.groups[bucket]
	if !ok {
		g = a.NewGroup()
		a.groups[bucket] = g
		a.keys[bucket] = k
		a.order = append(a.order, bucket)
	}
	g.Accumulate(value)
}

// GroupResult pairs a group key with its sub-aggregator's result.
type GroupResult struct {
	Key    any
	Result any
}

func (a *GroupBy) Result() any {
	out := make([]GroupResult, len(a.order))
	for i, bucket := range a.order {
		out[i] = GroupResult{Key: a.keys[bucket], Result: a.groups[bucket].Result()}
	}
	return out
}

func (a *GroupBy) Equal(o Aggregator) bool {
	_, ok := o.(*GroupBy)
	return ok
}
