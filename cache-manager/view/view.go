// Package view implements the view materialiser (spec.md §4.7): a
// locally cached, filter-scoped projection of a remote cache ("continuous
// query view") built via a fluent builder and kept coherent by an
// internal event subscription against the source cache's listener
// registry.
//
// Design Notes:
//   - The initial bulk population fans transformer application out across
//     a small bounded worker pool sized by FanOut, rather than scanning
//     entries one at a time.
//   - Coherence after the initial population is maintained by registering
//     a CacheEventFilter-scoped listener against the source's own
//     cache-manager/engine.Registry — the same registry every other
//     application listener goes through — so the view never invents a
//     second event path.
package view

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"encore.app/cache-manager/engine"
	"encore.app/pkg/filter"
)

// SourceCache is the subset of *cachemanager.CacheHandle the view
// materialiser depends on: bulk enumeration for initial population, and
// the listener registry that keeps the projection coherent afterward.
type SourceCache interface {
	Name() string
	EntrySet(ctx context.Context) (map[any]any, error)
	Registry() *engine.Registry
}

// Builder fluently collects a View's configuration (spec.md §4.7):
// source-cache supplier, filter (defaulting to always-true), lite/full
// flag, listener, transformer.
type Builder struct {
	source            SourceCache
	filt              filter.Filter
	lite              bool
	listener          engine.Listener
	transformer       filter.Extractor
	reconnectInterval time.Duration
	fanout            int
}

// NewBuilder starts a view over source. The filter defaults to
// filter.AlwaysFilter{} (every entry matches) until Filter is called.
func NewBuilder(source SourceCache) *Builder {
	return &Builder{source: source, filt: filter.AlwaysFilter{}, fanout: 8}
}

// Filter scopes the view to entries matching f.
func (b *Builder) Filter(f filter.Filter) *Builder {
	b.filt = f
	return b
}

// Lite marks the view's own source subscription as content-optional,
// per spec.md §3's standard/lite distinction (events the view receives
// for bookkeeping don't need both old and new values when the view
// itself doesn't expose them onward through listener).
func (b *Builder) Lite(lite bool) *Builder {
	b.lite = lite
	return b
}

// Listener registers an application listener that receives synthesized
// inserts for pre-existing matches during initial population (spec.md
// §4.5) and the entered/left/within pseudo-events the view derives
// afterward.
func (b *Builder) Listener(l engine.Listener) *Builder {
	b.listener = l
	return b
}

// Transformer installs a value transformer. A transformed view is
// read-only: value identity no longer round-trips (spec.md §4.7 step 3).
func (b *Builder) Transformer(t filter.Extractor) *Builder {
	b.transformer = t
	return b
}

// ReconnectInterval sets how frequently the local snapshot is refreshed
// after a transient connection loss (spec.md §4.7 step 4). Zero (the
// default) disables periodic refresh; the view then only repopulates
// when Refresh is called explicitly.
func (b *Builder) ReconnectInterval(d time.Duration) *Builder {
	b.reconnectInterval = d
	return b
}

// FanOut bounds the concurrency of the initial bulk population's
// transformer application. Defaults to 8.
func (b *Builder) FanOut(n int) *Builder {
	if n > 0 {
		b.fanout = n
	}
	return b
}

// Build populates the view from source and registers the derived event
// subscription that keeps it coherent, per spec.md §4.7.
func (b *Builder) Build(ctx context.Context) (*View, error) {
	v := &View{
		source:            b.source,
		filt:              b.filt,
		listener:          b.listener,
		transformer:       b.transformer,
		readOnly:          b.transformer != nil,
		reconnectInterval: b.reconnectInterval,
		fanout:            b.fanout,
		done:              make(chan struct{}),
	}

	v.populate(ctx)

	scope := engine.Scope{Filter: derivedEventFilter(b.filt)}
	if err := b.source.Registry().AddCacheListener(ctx, v, scope, b.lite); err != nil {
		return nil, fmt.Errorf("view: subscribe over %q: %w", b.source.Name(), err)
	}
	v.scope = scope

	if v.reconnectInterval > 0 {
		v.startRefreshLoop()
	}

	return v, nil
}

// derivedEventFilter builds the CacheEventFilter the view subscribes
// with: inserts and deletes that satisfy base directly, plus the three
// update cases needed to maintain the projection across the filter
// boundary (entered, left, within), per spec.md §4.7 step 2.
func derivedEventFilter(base filter.Filter) filter.CacheEventFilter {
	mask := filter.MaskInserted | filter.MaskDeleted |
		filter.MaskUpdatedEntered | filter.MaskUpdatedLeft | filter.MaskUpdatedWithin
	return filter.NewCacheEventFilter(base, mask, filter.AllSyntheticStates)
}

// View is a locally materialised, filter-scoped projection of a remote
// cache (spec.md §4.7): a continuous query view. It behaves as a
// read-oriented, cache-shaped handle backed by a sync.Map snapshot kept
// coherent by a derived event subscription against the source cache.
type View struct {
	source      SourceCache
	filt        filter.Filter
	listener    engine.Listener
	transformer filter.Extractor
	readOnly    bool

	reconnectInterval time.Duration
	fanout            int

	snapshot sync.Map // key -> value (post-transform)
	scope    engine.Scope

	closeOnce sync.Once
	done      chan struct{}
}

// populate iterates the source cache under the filter to build the
// initial local snapshot, fanning transformer application out across a
// bounded worker pool sized by FanOut. Pre-load failures are logged,
// not re-raised — spec.md §9's resolved Open Question.
func (v *View) populate(ctx context.Context) {
	entries, err := v.source.EntrySet(ctx)
	if err != nil {
		log.Printf("view: initial population of %q failed, view starts empty: %v", v.source.Name(), err)
		return
	}

	type match struct {
		key, value any
	}
	var matches []match
	for k, val := range entries {
		if v.filt.Evaluate(val) {
			matches = append(matches, match{k, val})
		}
	}

	sem := make(chan struct{}, v.fanout)
	var wg sync.WaitGroup
	for _, m := range matches {
		wg.Add(1)
		sem <- struct{}{}
		go func(m match) {
			defer wg.Done()
			defer func() { <-sem }()
			v.storeAndAnnounce(m.key, m.value)
		}(m)
	}
	wg.Wait()
}

// storeAndAnnounce applies the transformer (if any), stores the result
// in the snapshot, and — during initial population — synthesizes an
// Inserted event to the configured listener, per spec.md §4.5's note
// that a view's initial population is the one case where a listener
// sees events for entries that predate its registration.
func (v *View) storeAndAnnounce(key, value any) {
	transformed := v.transform(value)
	v.snapshot.Store(key, transformed)
	if v.listener != nil {
		v.listener.Receive(filter.Event{
			CacheRef:  v,
			Kind:      filter.EventInserted,
			Key:       key,
			NewValue:  transformed,
			Synthetic: true,
		})
	}
}

func (v *View) transform(value any) any {
	if v.transformer == nil {
		return value
	}
	return v.transformer.Extract(value)
}

// Receive implements engine.Listener: it is invoked by the source
// cache's registry whenever an event crosses the derived filter
// (spec.md §4.7 step 2). An insert or a within/entered update stores
// the (transformed) new value; a delete or a left update removes the
// key from the local snapshot.
func (v *View) Receive(evt filter.Event) {
	switch evt.Kind {
	case filter.EventInserted:
		v.storeAndForward(evt.Key, evt.NewValue, evt)
	case filter.EventDeleted:
		v.removeAndForward(evt.Key, evt)
	case filter.EventUpdated:
		if v.filt.Evaluate(evt.NewValue) {
			v.storeAndForward(evt.Key, evt.NewValue, evt)
		} else {
			v.removeAndForward(evt.Key, evt)
		}
	}
}

func (v *View) storeAndForward(key, value any, evt filter.Event) {
	v.snapshot.Store(key, v.transform(value))
	if v.listener != nil {
		forwarded := evt
		forwarded.CacheRef = v
		forwarded.NewValue = v.transform(value)
		v.listener.Receive(forwarded)
	}
}

func (v *View) removeAndForward(key any, evt filter.Event) {
	v.snapshot.Delete(key)
	if v.listener != nil {
		forwarded := evt
		forwarded.CacheRef = v
		v.listener.Receive(forwarded)
	}
}

// Get returns the locally materialised value for key, if present.
func (v *View) Get(key any) (any, bool) {
	return v.snapshot.Load(key)
}

// Len reports the number of entries currently in the local snapshot.
func (v *View) Len() int {
	n := 0
	v.snapshot.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Keys returns every key currently in the local snapshot.
func (v *View) Keys() []any {
	var keys []any
	v.snapshot.Range(func(k, _ any) bool { keys = append(keys, k); return true })
	return keys
}

// IsReadOnly reports whether a transformer makes this view read-only
// (spec.md §4.7 step 3).
func (v *View) IsReadOnly() bool { return v.readOnly }

// ErrViewReadOnly is returned by any future write-path method a
// transformed view refuses, since value identity no longer round-trips.
var ErrViewReadOnly = fmt.Errorf("view: read-only, a transformer is configured")

// Refresh re-populates the local snapshot from the source cache,
// replacing entries wholesale. Called automatically on
// ReconnectInterval if one was configured, or directly by the caller
// after observing a transient connection loss.
func (v *View) Refresh(ctx context.Context) {
	v.snapshot.Range(func(k, _ any) bool { v.snapshot.Delete(k); return true })
	v.populate(ctx)
}

// startRefreshLoop runs Refresh on ReconnectInterval until Close.
func (v *View) startRefreshLoop() {
	go func() {
		ticker := time.NewTicker(v.reconnectInterval)
		defer ticker.Stop()
		for {
			select {
			case <-v.done:
				return
			case <-ticker.C:
				v.Refresh(context.Background())
			}
		}
	}()
}

// Close stops the periodic refresh loop (if any) and unregisters the
// view's derived event subscription from the source cache.
func (v *View) Close(ctx context.Context) error {
	v.closeOnce.Do(func() { close(v.done) })
	return v.source.Registry().RemoveCacheListener(ctx, v, v.scope)
}
