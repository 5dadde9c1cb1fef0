package view

import (
	"context"
	"sync"
	"testing"

	"encore.app/cache-manager/engine"
	"encore.app/pkg/filter"
)

// fakeSource is a minimal SourceCache: a fixed entry map plus the real
// engine.Registry wired to a no-op transport, so subscription arithmetic
// runs exactly as it would against a live cache handle.
type fakeSource struct {
	mu       sync.Mutex
	entries  map[any]any
	registry *engine.Registry
}

func newFakeSource(entries map[any]any) *fakeSource {
	s := &fakeSource{entries: entries}
	s.registry = engine.NewRegistry(noopTransport{})
	return s
}

func (s *fakeSource) Name() string { return "orders" }

func (s *fakeSource) EntrySet(ctx context.Context) (map[any]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[any]any, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}

func (s *fakeSource) Registry() *engine.Registry { return s.registry }

// push simulates a server-delivered event by dispatching straight
// through the registry, exactly as cache-manager/cache_handle.go's
// Dispatch does.
func (s *fakeSource) push(evt filter.Event) { s.registry.Dispatch(evt) }

type noopTransport struct{}

func (noopTransport) Subscribe(ctx context.Context, scope engine.Scope, lite bool) error { return nil }
func (noopTransport) Unsubscribe(ctx context.Context, scope engine.Scope) error          { return nil }

type statusFilter struct{ want string }

func (f statusFilter) Evaluate(v any) bool {
	order, ok := v.(order)
	return ok && order.Status == f.want
}
func (f statusFilter) Equal(o filter.Filter) bool {
	other, ok := o.(statusFilter)
	return ok && other.want == f.want
}
func (f statusFilter) Hash() uint64 { return uint64(len(f.want)) }

type order struct {
	Status string
}

func TestBuildPopulatesMatchingEntriesOnly(t *testing.T) {
	source := newFakeSource(map[any]any{
		"o1": order{Status: "open"},
		"o2": order{Status: "closed"},
		"o3": order{Status: "open"},
	})

	v, err := NewBuilder(source).Filter(statusFilter{want: "open"}).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if v.Len() != 2 {
		t.Fatalf("expected 2 entries in view, got %d", v.Len())
	}
	if _, ok := v.Get("o2"); ok {
		t.Fatalf("o2 should not be in the filtered view")
	}
	if _, ok := v.Get("o1"); !ok {
		t.Fatalf("o1 should be in the filtered view")
	}
}

func TestViewTracksEnteredAndLeftUpdates(t *testing.T) {
	source := newFakeSource(map[any]any{
		"o1": order{Status: "open"},
	})

	v, err := NewBuilder(source).Filter(statusFilter{want: "open"}).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// o2 enters the view via an update that crosses the filter boundary.
	source.push(filter.Event{
		Kind:     filter.EventUpdated,
		Key:      "o2",
		OldValue: order{Status: "closed"},
		NewValue: order{Status: "open"},
	})
	if _, ok := v.Get("o2"); !ok {
		t.Fatalf("o2 should have entered the view")
	}

	// o1 leaves the view via an update that crosses the boundary the
	// other way.
	source.push(filter.Event{
		Kind:     filter.EventUpdated,
		Key:      "o1",
		OldValue: order{Status: "open"},
		NewValue: order{Status: "closed"},
	})
	if _, ok := v.Get("o1"); ok {
		t.Fatalf("o1 should have left the view")
	}
}

func TestViewWithTransformerIsReadOnly(t *testing.T) {
	source := newFakeSource(map[any]any{"o1": order{Status: "open"}})

	statusExtractor := filter.NewReflectionExtractor("Status")
	v, err := NewBuilder(source).Transformer(statusExtractor).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if !v.IsReadOnly() {
		t.Fatalf("expected a transformed view to be read-only")
	}
	got, ok := v.Get("o1")
	if !ok || got != "open" {
		t.Fatalf("expected transformed value %q, got %v (ok=%v)", "open", got, ok)
	}
}

func TestBuildSynthesizesInsertsForPreexistingMatches(t *testing.T) {
	source := newFakeSource(map[any]any{"o1": order{Status: "open"}})

	var mu sync.Mutex
	var received []filter.Event
	listener := engine.ListenerFunc(func(evt filter.Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, evt)
	})

	if _, err := NewBuilder(source).Filter(statusFilter{want: "open"}).Listener(listener).Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected exactly one synthesized insert, got %d", len(received))
	}
	if received[0].Kind != filter.EventInserted || !received[0].Synthetic {
		t.Fatalf("expected a synthetic insert, got %+v", received[0])
	}
}

func TestRemoveDeletesFromView(t *testing.T) {
	source := newFakeSource(map[any]any{"o1": order{Status: "open"}})

	v, err := NewBuilder(source).Filter(statusFilter{want: "open"}).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	source.push(filter.Event{Kind: filter.EventDeleted, Key: "o1", OldValue: order{Status: "open"}})

	if _, ok := v.Get("o1"); ok {
		t.Fatalf("o1 should have been removed from the view")
	}
}

func TestPreloadFailureLeavesViewEmptyWithoutError(t *testing.T) {
	source := &failingSource{registry: engine.NewRegistry(noopTransport{})}

	v, err := NewBuilder(source).Build(context.Background())
	if err != nil {
		t.Fatalf("Build should not propagate a pre-load failure, got: %v", err)
	}
	if v.Len() != 0 {
		t.Fatalf("expected an empty view after a failed pre-load, got %d entries", v.Len())
	}
}

type failingSource struct{ registry *engine.Registry }

func (s *failingSource) Name() string { return "broken" }
func (s *failingSource) EntrySet(ctx context.Context) (map[any]any, error) {
	return nil, context.DeadlineExceeded
}
func (s *failingSource) Registry() *engine.Registry { return s.registry }
