package filter

import "fmt"

// KeySet is the working set of candidate keys an index-aware filter
// evaluation narrows down. It is mutated in place by ApplyIndex.
type KeySet map[any]bool

// Index is a single-extractor index over a cache's current contents:
// extracted-value -> set of keys holding that value.
type Index struct {
	Extractor Extractor
	ordered   bool
	buckets   map[string][]any // fmt.Sprint(extracted value) -> keys
	size      int
}

// NewIndex creates an empty index for the given extractor.
func NewIndex(e Extractor, ordered bool) *Index {
	return &Index{Extractor: e, ordered: ordered, buckets: make(map[string][]any)}
}

// Insert records that key currently extracts to value under this index.
func (idx *Index) Insert(key, value any) {
	bucket := sprintValue(value)
	idx.buckets[bucket] = append(idx.buckets[bucket], key)
	idx.size++
}

// Size returns the number of (key, value) pairs indexed.
func (idx *Index) Size() int { return idx.size }

// IndexMap looks indexes up by the extractor they were built over
// (compared by content equality, per spec.md §4.4).
type IndexMap struct {
	indexes []*Index
}

// Get returns the index built over an extractor content-equal to e, if any.
func (m *IndexMap) Get(e Extractor) (*Index, bool) {
	for _, idx := range m.indexes {
		if idx.Extractor.Equal(e) {
			return idx, true
		}
	}
	return nil, false
}

// Add registers idx in the map.
func (m *IndexMap) Add(idx *Index) { m.indexes = append(m.indexes, idx) }

// EvalCost is the per-entry evaluation unit cost used when no index
// applies (spec.md §4.4).
const EvalCost = 1

// IndexAwareFilter is implemented by filter variants that can exploit a
// server-side index to avoid per-entry evaluation.
type IndexAwareFilter interface {
	Filter
	// CalculateEffectiveness estimates the abstract cost of resolving
	// this filter against keys using indexes: a single-point lookup
	// costs 1, iteration costs EvalCost*|keys|, an ordered-range lookup
	// costs max(1, indexSize/4).
	CalculateEffectiveness(indexes *IndexMap, keys KeySet) int
	// ApplyIndex mutates keys in place to the matching subset and
	// returns the filter still required for per-entry verification, or
	// nil if the index was authoritative.
	ApplyIndex(indexes *IndexMap, keys KeySet) Filter
}

func (f ComparisonFilter) CalculateEffectiveness(indexes *IndexMap, keys KeySet) int {
	if f.Op != opEquals {
		return EvalCost * len(keys)
	}
	if _, ok := indexes.Get(f.Extractor); ok {
		return 1
	}
	return EvalCost * len(keys)
}

func (f ComparisonFilter) ApplyIndex(indexes *IndexMap, keys KeySet) Filter {
	if f.Op != opEquals {
		return f
	}
	idx, ok := indexes.Get(f.Extractor)
	if !ok {
		return f
	}
	matchKeys := idx.buckets[sprintValue(f.Value)]
	matchSet := make(KeySet, len(matchKeys))
	for _, k := range matchKeys {
		if keys[k] {
			matchSet[k] = true
		}
	}
	for k := range keys {
		delete(keys, k)
	}
	for k := range matchSet {
		keys[k] = true
	}
	return nil // equality lookup via index is authoritative
}

func (f BetweenFilter) CalculateEffectiveness(indexes *IndexMap, keys KeySet) int {
	if idx, ok := indexes.Get(f.Extractor); ok && idx.ordered {
		cost := idx.size / 4
		if cost < 1 {
			cost = 1
		}
		return cost
	}
	return EvalCost * len(keys)
}

func (f BetweenFilter) ApplyIndex(indexes *IndexMap, keys KeySet) Filter {
	idx, ok := indexes.Get(f.Extractor)
	if !ok || !idx.ordered {
		return f
	}
	// The key set is not narrowed here: keys is left unchanged and the
	// filter itself is returned as the residual, so every key is still
	// verified per entry.
	return f
}

func sprintValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
