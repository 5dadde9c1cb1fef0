package processor

import (
	"reflect"
	"testing"
)

type identityExtract struct{}

func (identityExtract) Extract(v any) any { return v }

type fieldExtract struct{ field string }

func (f fieldExtract) Extract(v any) any {
	m := v.(map[string]any)
	return m[f.field]
}

func TestCount(t *testing.T) {
	a := NewCount(identityExtract{})
	for i := 0; i < 5; i++ {
		a.Accumulate(i)
	}
	if a.Result() != 5 {
		t.Fatalf("expected count 5, got %v", a.Result())
	}
}

func TestSum(t *testing.T) {
	a := NewSum(identityExtract{})
	for _, v := range []int{1, 2, 3, 4} {
		a.Accumulate(v)
	}
	if a.Result() != 10.0 {
		t.Fatalf("expected sum 10, got %v", a.Result())
	}
}

func TestMinMax(t *testing.T) {
	values := []int{5, 1, 9, 3}
	min := NewMin(identityExtract{})
	max := NewMax(identityExtract{})
	for _, v := range values {
		min.Accumulate(v)
		max.Accumulate(v)
	}
	if min.Result() != 1.0 {
		t.Fatalf("expected min 1, got %v", min.Result())
	}
	if max.Result() != 9.0 {
		t.Fatalf("expected max 9, got %v", max.Result())
	}
}

func TestMinMaxEmptySetReturnsNil(t *testing.T) {
	min := NewMin(identityExtract{})
	if min.Result() != nil {
		t.Fatalf("expected nil for empty aggregation, got %v", min.Result())
	}
}

func TestAverage(t *testing.T) {
	a := NewAverage(identityExtract{})
	for _, v := range []int{2, 4, 6} {
		a.Accumulate(v)
	}
	if a.Result() != 4.0 {
		t.Fatalf("expected average 4, got %v", a.Result())
	}
}

func TestDistinctValuesDeduplicatesPreservingFirstSeenOrder(t *testing.T) {
	a := NewDistinctValues(identityExtract{})
	for _, v := range []string{"b", "a", "b", "c", "a"} {
		a.Accumulate(v)
	}
	got := a.Result().([]any)
	want := []any{"b", "a", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestGroupByPartitionsAndDelegatesToSubAggregator(t *testing.T) {
	a := NewGroupBy(fieldExtract{"team"}, func() Aggregator { return NewSum(fieldExtract{"score"}) })

	rows := []map[string]any{
		{"team": "red", "score": 1},
		{"team": "blue", "score": 2},
		{"team": "red", "score": 3},
	}
	for _, r := range rows {
		a.Accumulate(r)
	}

	got := a.Result().([]GroupResult)
	if len(got) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(got))
	}
	byKey := map[any]any{}
	for _, g := range got {
		byKey[g.Key] = g.Result
	}
	if byKey["red"] != 4.0 {
		t.Fatalf("expected red sum 4, got %v", byKey["red"])
	}
	if byKey["blue"] != 2.0 {
		t.Fatalf("expected blue sum 2, got %v", byKey["blue"])
	}
}
