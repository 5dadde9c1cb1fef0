package processor

import "testing"

type fakeEntry struct {
	key           any
	value         any
	present       bool
	original      any
	originalPresent bool
	removed       bool
}

func (e *fakeEntry) Key() any { return e.key }
func (e *fakeEntry) Value() (any, bool) { return e.value, e.present }
func (e *fakeEntry) OriginalValue() (any, bool) { return e.original, e.originalPresent }
func (e *fakeEntry) SetValue(v any) {
	e.value = v
	e.present = true
	e.removed = false
}
func (e *fakeEntry) Remove() {
	e.present = false
	e.removed = true
}

type acceptAbove struct{ threshold int }

func (f acceptAbove) Evaluate(v any) bool {
	n, ok := v.(int)
	return ok && n > f.threshold
}

func TestFilterTriggerRollback(t *testing.T) {
	trig := NewFilterTrigger(acceptAbove{10}, ActionRollback)
	e := &fakeEntry{value: 5, present: true, original: 1, originalPresent: true}

	if err := trig.Process(e); err != ErrTriggerRollback {
		t.Fatalf("expected ErrTriggerRollback, got %v", err)
	}
}

func TestFilterTriggerIgnoreRestoresOriginal(t *testing.T) {
	trig := NewFilterTrigger(acceptAbove{10}, ActionIgnore)
	e := &fakeEntry{value: 5, present: true, original: 20, originalPresent: true}

	if err := trig.Process(e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.value != 20 || !e.present {
		t.Fatalf("expected original value restored, got %v present=%v", e.value, e.present)
	}
}

func TestFilterTriggerIgnoreRemovesWhenNoOriginal(t *testing.T) {
	trig := NewFilterTrigger(acceptAbove{10}, ActionIgnore)
	e := &fakeEntry{value: 5, present: true, originalPresent: false}

	if err := trig.Process(e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.present {
		t.Fatalf("expected entry removed when no original value existed")
	}
}

func TestFilterTriggerRemoveAction(t *testing.T) {
	trig := NewFilterTrigger(acceptAbove{10}, ActionRemove)
	e := &fakeEntry{value: 5, present: true}

	if err := trig.Process(e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.present {
		t.Fatalf("expected entry removed")
	}
}

func TestFilterTriggerAcceptsWithoutMutation(t *testing.T) {
	trig := NewFilterTrigger(acceptAbove{10}, ActionRollback)
	e := &fakeEntry{value: 50, present: true}

	if err := trig.Process(e); err != nil {
		t.Fatalf("expected acceptance, got error: %v", err)
	}
	if e.value != 50 {
		t.Fatalf("accepted entry should be left untouched")
	}
}
