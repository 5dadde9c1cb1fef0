package filter

import (
	"fmt"
	"reflect"
)

// Extractor pulls a derived value out of a raw value, Entry, or Event.
type Extractor interface {
	Extract(v any) any
	Equal(other Extractor) bool
	Hash() uint64
}

// IdentityExtractor returns its input unchanged.
type IdentityExtractor struct{}

func (IdentityExtractor) Extract(v any) any { return v }
func (IdentityExtractor) Equal(o Extractor) bool { _, ok := o.(IdentityExtractor); return ok }
func (IdentityExtractor) Hash() uint64 { return hashBytes("identity-extractor") }

// KeyExtractor extracts the key from an Entry.
type KeyExtractor struct{}

func (KeyExtractor) Extract(v any) any {
	if e, ok := v.(Entry); ok {
		return e.Key
	}
	return nil
}
func (KeyExtractor) Equal(o Extractor) bool { _, ok := o.(KeyExtractor); return ok }
func (KeyExtractor) Hash() uint64 { return hashBytes("key-extractor") }

// ReflectionExtractor extracts a named field (or zero-arg method's
// result) from a struct value via reflection.
type ReflectionExtractor struct {
	FieldName string
}

// NewReflectionExtractor builds an extractor for the given field name.
func NewReflectionExtractor(fieldName string) ReflectionExtractor {
	return ReflectionExtractor{FieldName: fieldName}
}

func (f ReflectionExtractor) Extract(v any) any {
	target := v
	if e, ok := v.(Entry); ok {
		target = e.Value
	}
	if target == nil {
		return nil
	}

	rv := reflect.ValueOf(target)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct:
		fv := rv.FieldByName(f.FieldName)
		if fv.IsValid() {
			return fv.Interface()
		}
	case reflect.Map:
		mv := rv.MapIndex(reflect.ValueOf(f.FieldName))
		if mv.IsValid() {
			return mv.Interface()
		}
	}
	return nil
}

func (f ReflectionExtractor) Equal(o Extractor) bool {
	other, ok := o.(ReflectionExtractor)
	return ok && other.FieldName == f.FieldName
}

func (f ReflectionExtractor) Hash() uint64 { return hashBytes("reflection-extractor", f.FieldName) }

// ChainedExtractor composes extractors left to right: the output of
// extractor i feeds extractor i+1. Extract must be associative so that
// Chained(a, Chained(b, c)) == Chained(Chained(a, b), c) for any input
// (spec.md §8 invariant 7); this holds because the composition here is
// pure left-to-right functional application with no extra state.
type ChainedExtractor struct {
	Steps []Extractor
}

// NewChainedExtractor builds a left-to-right composition of extractors.
// A nested ChainedExtractor argument is flattened so re-associating a
// chain produces the identical Steps slice and therefore an identical
// hash/equality result.
func NewChainedExtractor(steps ...Extractor) ChainedExtractor {
	flat := make([]Extractor, 0, len(steps))
	for _, s := range steps {
		if c, ok := s.(ChainedExtractor); ok {
			flat = append(flat, c.Steps...)
		} else {
			flat = append(flat, s)
		}
	}
	return ChainedExtractor{Steps: flat}
}

func (f ChainedExtractor) Extract(v any) any {
	cur := v
	for _, step := range f.Steps {
		cur = step.Extract(cur)
	}
	return cur
}

func (f ChainedExtractor) Equal(o Extractor) bool {
	other, ok := o.(ChainedExtractor)
	if !ok || len(other.Steps) != len(f.Steps) {
		return false
	}
	for i := range f.Steps {
		if !f.Steps[i].Equal(other.Steps[i]) {
			return false
		}
	}
	return true
}

func (f ChainedExtractor) Hash() uint64 {
	h := hashBytes("chained")
	for _, s := range f.Steps {
		h = hashCombine(h, s.Hash())
	}
	return h
}

// MultiExtractor applies several extractors to the same input and
// returns their results as a slice, preserving order.
type MultiExtractor struct {
	Extractors []Extractor
}

func NewMultiExtractor(extractors ...Extractor) MultiExtractor {
	return MultiExtractor{Extractors: extractors}
}

func (f MultiExtractor) Extract(v any) any {
	out := make([]any, len(f.Extractors))
	for i, e := range f.Extractors {
		out[i] = e.Extract(v)
	}
	return out
}

func (f MultiExtractor) Equal(o Extractor) bool {
	other, ok := o.(MultiExtractor)
	if !ok || len(other.Extractors) != len(f.Extractors) {
		return false
	}
	for i := range f.Extractors {
		if !f.Extractors[i].Equal(other.Extractors[i]) {
			return false
		}
	}
	return true
}

func (f MultiExtractor) Hash() uint64 {
	h := hashBytes("multi")
	for _, e := range f.Extractors {
		h = hashCombine(h, e.Hash())
	}
	return h
}

// EntryExtractor applies separate extractors to an Entry's key and/or
// value, returning a two-element [key, value] result.
type EntryExtractor struct {
	KeyExtractor   Extractor
	ValueExtractor Extractor
}

func (f EntryExtractor) Extract(v any) any {
	e, ok := v.(Entry)
	if !ok {
		return nil
	}
	var key, val any
	if f.KeyExtractor != nil {
		key = f.KeyExtractor.Extract(e)
	}
	if f.ValueExtractor != nil {
		val = f.ValueExtractor.Extract(e)
	}
	return [2]any{key, val}
}

func (f EntryExtractor) Equal(o Extractor) bool {
	other, ok := o.(EntryExtractor)
	if !ok {
		return false
	}
	if (f.KeyExtractor == nil) != (other.KeyExtractor == nil) {
		return false
	}
	if (f.ValueExtractor == nil) != (other.ValueExtractor == nil) {
		return false
	}
	if f.KeyExtractor != nil && !f.KeyExtractor.Equal(other.KeyExtractor) {
		return false
	}
	if f.ValueExtractor != nil && !f.ValueExtractor.Equal(other.ValueExtractor) {
		return false
	}
	return true
}

func (f EntryExtractor) Hash() uint64 {
	h := hashBytes("entry-extractor")
	if f.KeyExtractor != nil {
		h = hashCombine(h, f.KeyExtractor.Hash())
	}
	if f.ValueExtractor != nil {
		h = hashCombine(h, f.ValueExtractor.Hash())
	}
	return h
}

// compare orders two comparable extracted values; both must share a
// mutually comparable kind (numeric-vs-numeric or string-vs-string).
func compare(a, b any) (int, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1, nil
		case as > bs:
			return 1, nil
		default:
			return 0, nil
		}
	}

	return 0, fmt.Errorf("filter: cannot compare %T and %T", a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
