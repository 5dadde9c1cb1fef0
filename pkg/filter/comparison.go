package filter

import (
	"fmt"
	"sort"
	"strings"

	"encore.app/pkg/utils"
)

// compOp identifies a comparison filter's relation.
type compOp string

const (
	opEquals      compOp = "eq"
	opNotEquals   compOp = "ne"
	opLess        compOp = "lt"
	opLessEqual   compOp = "le"
	opGreater     compOp = "gt"
	opGreaterEqual compOp = "ge"
)

// ComparisonFilter binds an extractor and a reference value under one
// of the relational operators.
type ComparisonFilter struct {
	Op        compOp
	Extractor Extractor
	Value     any
}

func newComparison(op compOp, e Extractor, value any) ComparisonFilter {
	return ComparisonFilter{Op: op, Extractor: e, Value: value}
}

func Equals(e Extractor, value any) ComparisonFilter { return newComparison(opEquals, e, value) }
func NotEquals(e Extractor, value any) ComparisonFilter { return newComparison(opNotEquals, e, value) }
func Less(e Extractor, value any) ComparisonFilter { return newComparison(opLess, e, value) }
func LessEqual(e Extractor, value any) ComparisonFilter { return newComparison(opLessEqual, e, value) }
func Greater(e Extractor, value any) ComparisonFilter { return newComparison(opGreater, e, value) }
func GreaterEqual(e Extractor, value any) ComparisonFilter { return newComparison(opGreaterEqual, e, value) }

func (f ComparisonFilter) Evaluate(v any) bool {
	extracted := f.Extractor.Extract(v)

	if f.Op == opEquals {
		return fmt.Sprint(extracted) == fmt.Sprint(f.Value) && sameBroadType(extracted, f.Value)
	}
	if f.Op == opNotEquals {
		return !(fmt.Sprint(extracted) == fmt.Sprint(f.Value) && sameBroadType(extracted, f.Value))
	}

	cmp, err := compare(extracted, f.Value)
	if err != nil {
		return false
	}
	switch f.Op {
	case opLess:
		return cmp < 0
	case opLessEqual:
		return cmp <= 0
	case opGreater:
		return cmp > 0
	case opGreaterEqual:
		return cmp >= 0
	default:
		return false
	}
}

func sameBroadType(a, b any) bool {
	_, aNum := toFloat(a)
	_, bNum := toFloat(b)
	if aNum && bNum {
		return true
	}
	_, aStr := a.(string)
	_, bStr := b.(string)
	if aStr && bStr {
		return true
	}
	return fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}

func (f ComparisonFilter) Equal(o Filter) bool {
	other, ok := o.(ComparisonFilter)
	return ok && other.Op == f.Op && f.Extractor.Equal(other.Extractor) && fmt.Sprint(f.Value) == fmt.Sprint(other.Value)
}

func (f ComparisonFilter) Hash() uint64 {
	return hashCombine(hashBytes(string(f.Op), fmt.Sprint(f.Value)), f.Extractor.Hash())
}

// BetweenFilter matches when lower <= extracted <= upper.
type BetweenFilter struct {
	Extractor  Extractor
	Lower, Upper any
}

func Between(e Extractor, lower, upper any) BetweenFilter {
	return BetweenFilter{Extractor: e, Lower: lower, Upper: upper}
}

func (f BetweenFilter) Evaluate(v any) bool {
	extracted := f.Extractor.Extract(v)
	lo, err1 := compare(extracted, f.Lower)
	hi, err2 := compare(extracted, f.Upper)
	return err1 == nil && err2 == nil && lo >= 0 && hi <= 0
}

func (f BetweenFilter) Equal(o Filter) bool {
	other, ok := o.(BetweenFilter)
	return ok && f.Extractor.Equal(other.Extractor) && fmt.Sprint(f.Lower) == fmt.Sprint(other.Lower) && fmt.Sprint(f.Upper) == fmt.Sprint(other.Upper)
}

func (f BetweenFilter) Hash() uint64 {
	return hashCombine(hashBytes("between", fmt.Sprint(f.Lower), fmt.Sprint(f.Upper)), f.Extractor.Hash())
}

// ContainsFilter matches when the extracted collection contains Value.
type ContainsFilter struct {
	Extractor Extractor
	Value     any
}

func Contains(e Extractor, value any) ContainsFilter { return ContainsFilter{Extractor: e, Value: value} }

func (f ContainsFilter) Evaluate(v any) bool {
	extracted := f.Extractor.Extract(v)
	items, ok := asSlice(extracted)
	if !ok {
		return false
	}
	for _, item := range items {
		if fmt.Sprint(item) == fmt.Sprint(f.Value) {
			return true
		}
	}
	return false
}

func (f ContainsFilter) Equal(o Filter) bool {
	other, ok := o.(ContainsFilter)
	return ok && f.Extractor.Equal(other.Extractor) && fmt.Sprint(f.Value) == fmt.Sprint(other.Value)
}

func (f ContainsFilter) Hash() uint64 {
	return hashCombine(hashBytes("contains", fmt.Sprint(f.Value)), f.Extractor.Hash())
}

// ContainsAllFilter matches when the extracted collection contains
// every element of Values.
type ContainsAllFilter struct {
	Extractor Extractor
	Values    []any
}

func ContainsAll(e Extractor, values ...any) ContainsAllFilter {
	return ContainsAllFilter{Extractor: e, Values: values}
}

func (f ContainsAllFilter) Evaluate(v any) bool {
	extracted := f.Extractor.Extract(v)
	items, ok := asSlice(extracted)
	if !ok {
		return false
	}
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[fmt.Sprint(item)] = true
	}
	for _, want := range f.Values {
		if !set[fmt.Sprint(want)] {
			return false
		}
	}
	return true
}

func (f ContainsAllFilter) Equal(o Filter) bool {
	other, ok := o.(ContainsAllFilter)
	if !ok || len(other.Values) != len(f.Values) || !f.Extractor.Equal(other.Extractor) {
		return false
	}
	want := make(map[string]bool, len(f.Values))
	for _, v := range f.Values {
		want[fmt.Sprint(v)] = true
	}
	for _, v := range other.Values {
		if !want[fmt.Sprint(v)] {
			return false
		}
	}
	return true
}

func (f ContainsAllFilter) Hash() uint64 {
	vals := make([]string, len(f.Values))
	for i, v := range f.Values {
		vals[i] = fmt.Sprint(v)
	}
	sort.Strings(vals)
	h := hashBytes("contains-all")
	for _, v := range vals {
		h = hashCombine(h, hashBytes(v))
	}
	return hashCombine(h, f.Extractor.Hash())
}

// ContainsAnyFilter matches when the extracted collection contains at
// least one element of Values.
type ContainsAnyFilter struct {
	Extractor Extractor
	Values    []any
}

func ContainsAny(e Extractor, values ...any) ContainsAnyFilter {
	return ContainsAnyFilter{Extractor: e, Values: values}
}

func (f ContainsAnyFilter) Evaluate(v any) bool {
	extracted := f.Extractor.Extract(v)
	items, ok := asSlice(extracted)
	if !ok {
		return false
	}
	want := make(map[string]bool, len(f.Values))
	for _, v := range f.Values {
		want[fmt.Sprint(v)] = true
	}
	for _, item := range items {
		if want[fmt.Sprint(item)] {
			return true
		}
	}
	return false
}

func (f ContainsAnyFilter) Equal(o Filter) bool {
	other, ok := o.(ContainsAnyFilter)
	if !ok || len(other.Values) != len(f.Values) || !f.Extractor.Equal(other.Extractor) {
		return false
	}
	want := make(map[string]bool, len(f.Values))
	for _, v := range f.Values {
		want[fmt.Sprint(v)] = true
	}
	for _, v := range other.Values {
		if !want[fmt.Sprint(v)] {
			return false
		}
	}
	return true
}

func (f ContainsAnyFilter) Hash() uint64 {
	vals := make([]string, len(f.Values))
	for i, v := range f.Values {
		vals[i] = fmt.Sprint(v)
	}
	sort.Strings(vals)
	h := hashBytes("contains-any")
	for _, v := range vals {
		h = hashCombine(h, hashBytes(v))
	}
	return hashCombine(h, f.Extractor.Hash())
}

// LikeFilter matches using SQL-style wildcards: % for any run of
// characters, _ for exactly one.
type LikeFilter struct {
	Extractor Extractor
	Pattern   string
}

func Like(e Extractor, pattern string) LikeFilter { return LikeFilter{Extractor: e, Pattern: pattern} }

func (f LikeFilter) Evaluate(v any) bool {
	extracted := f.Extractor.Extract(v)
	s, ok := extracted.(string)
	if !ok {
		return false
	}
	return sqlLikeMatch(f.Pattern, s)
}

// sqlLikeMatch evaluates SQL LIKE semantics (% = any run of characters,
// _ = exactly one) by translating to the glob syntax pkg/utils.MatchPattern
// already matches cache keys against, rather than maintaining a second
// wildcard matcher.
func sqlLikeMatch(pattern, s string) bool {
	matched, err := utils.MatchPattern(likePatternToGlob(pattern), s)
	if err != nil {
		return false
	}
	return matched
}

// likePatternToGlob translates SQL LIKE syntax to the glob syntax
// pkg/utils.MatchPattern understands: % becomes *, _ becomes ?,
// everything else passes through unchanged.
func likePatternToGlob(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteByte('*')
		case '_':
			b.WriteByte('?')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (f LikeFilter) Equal(o Filter) bool {
	other, ok := o.(LikeFilter)
	return ok && f.Extractor.Equal(other.Extractor) && f.Pattern == other.Pattern
}

func (f LikeFilter) Hash() uint64 {
	return hashCombine(hashBytes("like", f.Pattern), f.Extractor.Hash())
}

// IsNullFilter / IsNotNullFilter test extracted value nil-ness.
type IsNullFilter struct{ Extractor Extractor }
type IsNotNullFilter struct{ Extractor Extractor }

func IsNull(e Extractor) IsNullFilter    { return IsNullFilter{Extractor: e} }
func IsNotNull(e Extractor) IsNotNullFilter { return IsNotNullFilter{Extractor: e} }

func (f IsNullFilter) Evaluate(v any) bool { return f.Extractor.Extract(v) == nil }
func (f IsNullFilter) Equal(o Filter) bool {
	other, ok := o.(IsNullFilter)
	return ok && f.Extractor.Equal(other.Extractor)
}
func (f IsNullFilter) Hash() uint64 { return hashCombine(hashBytes("is-null"), f.Extractor.Hash()) }

func (f IsNotNullFilter) Evaluate(v any) bool { return f.Extractor.Extract(v) != nil }
func (f IsNotNullFilter) Equal(o Filter) bool {
	other, ok := o.(IsNotNullFilter)
	return ok && f.Extractor.Equal(other.Extractor)
}
func (f IsNotNullFilter) Hash() uint64 { return hashCombine(hashBytes("is-not-null"), f.Extractor.Hash()) }

// InFilter matches when the extracted value is a member of Values.
type InFilter struct {
	Extractor Extractor
	Values    []any
}

func In(e Extractor, values ...any) InFilter { return InFilter{Extractor: e, Values: values} }

func (f InFilter) Evaluate(v any) bool {
	extracted := f.Extractor.Extract(v)
	for _, want := range f.Values {
		if fmt.Sprint(extracted) == fmt.Sprint(want) {
			return true
		}
	}
	return false
}

func (f InFilter) Equal(o Filter) bool {
	other, ok := o.(InFilter)
	if !ok || len(other.Values) != len(f.Values) || !f.Extractor.Equal(other.Extractor) {
		return false
	}
	want := make(map[string]bool, len(f.Values))
	for _, v := range f.Values {
		want[fmt.Sprint(v)] = true
	}
	for _, v := range other.Values {
		if !want[fmt.Sprint(v)] {
			return false
		}
	}
	return true
}

func (f InFilter) Hash() uint64 {
	vals := make([]string, len(f.Values))
	for i, v := range f.Values {
		vals[i] = fmt.Sprint(v)
	}
	sort.Strings(vals)
	h := hashBytes("in")
	for _, v := range vals {
		h = hashCombine(h, hashBytes(v))
	}
	return hashCombine(h, f.Extractor.Hash())
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	default:
		return nil, false
	}
}

