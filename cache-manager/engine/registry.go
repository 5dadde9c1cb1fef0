// Package engine implements the event and listener engine (spec.md
// §4.5): a per-cache registry of listeners keyed by entry key, by
// filter, or globally, collapsing application-level subscriptions into
// the minimal set of server-side subscriptions and dispatching decoded
// events to the right callbacks in registration order.
//
// Design Notes:
//   - Subscription bookkeeping and transport I/O are deliberately split:
//     bookkeeping happens under Registry.mu, the subscribe/unsubscribe
//     transport call happens outside it, matching cache-manager's
//     existing convention of never holding a lock across an I/O call
//     (see cache-manager/service.go's L2 write-through, which is
//     likewise never done holding L1Cache's mutex).
//   - Listener dispatch isolates each listener's panic/error so one
//     broken callback never blocks delivery to the others, mirroring
//     monitoring/service.go's per-subscriber isolation pattern.
//   - Every server subscribe/unsubscribe call that actually fires (not
//     every AddCacheListener/RemoveCacheListener call — those can be
//     absorbed into an existing subscription) publishes a
//     cache.subscription.changed event on monitoring.CacheMetricsTopic,
//     the same topic cache-manager reports get/set/delete through.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"encore.app/monitoring"
	"encore.app/pkg/filter"
)

// Listener receives dispatched cache events.
type Listener interface {
	Receive(evt filter.Event)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(evt filter.Event)

func (f ListenerFunc) Receive(evt filter.Event) { f(evt) }

// Scope identifies what an application subscribed to: a specific key, a
// filter, or the cache root (nil key, nil filter).
type Scope struct {
	Key    any
	Filter filter.Filter
}

func rootScope() Scope { return Scope{} }

func (s Scope) isRoot() bool { return s.Key == nil && s.Filter == nil }

func (s Scope) isKeyed() bool { return s.Key != nil }

// bucket holds every listener registered under one scope, split by
// whether they are lite (no guaranteed old/new values) or standard.
type bucket struct {
	standard []Listener
	lite     []Listener
}

func (b *bucket) empty() bool { return len(b.standard) == 0 && len(b.lite) == 0 }
func (b *bucket) hasStandard() bool { return len(b.standard) > 0 }

func (b *bucket) add(l Listener, lite bool) {
	if lite {
		b.lite = append(b.lite, l)
	} else {
		b.standard = append(b.standard, l)
	}
}

func (b *bucket) remove(l Listener) (removedLast bool) {
	b.standard = removeListener(b.standard, l)
	b.lite = removeListener(b.lite, l)
	return b.empty()
}

func removeListener(list []Listener, target Listener) []Listener {
	out := list[:0]
	for _, l := range list {
		if l != target {
			out = append(out, l)
		}
	}
	return out
}

// Transport is the subset of the remote-cache protocol the registry
// needs to keep server subscriptions synchronized with local listener
// state (spec.md §4.5's "subscription arithmetic").
type Transport interface {
	Subscribe(ctx context.Context, scope Scope, lite bool) error
	Unsubscribe(ctx context.Context, scope Scope) error
}

// Registry is the per-cache listener registry described in spec.md
// §4.5: a key-scoped map, a filter-scoped map, and a root bucket.
type Registry struct {
	mu        sync.Mutex
	name      string
	transport Transport

	byKey    map[any]*bucket
	byFilter []filterBucket
	root     bucket
}

type filterBucket struct {
	filter filter.Filter
	bucket *bucket
}

// NewRegistry builds an empty, unnamed registry talking to the given
// transport. Prefer NewNamedRegistry when the owning cache name is
// known, so subscription-change metrics can be labeled.
func NewRegistry(transport Transport) *Registry {
	return NewNamedRegistry("", transport)
}

// NewNamedRegistry builds an empty registry labeled with the owning
// cache's name, used to tag the cache.subscription.changed metric
// published on monitoring.CacheMetricsTopic whenever a server
// subscription is actually added or removed.
func NewNamedRegistry(name string, transport Transport) *Registry {
	return &Registry{name: name, transport: transport, byKey: make(map[any]*bucket)}
}

func (r *Registry) findFilterBucket(f filter.Filter) (*bucket, int) {
	for i, fb := range r.byFilter {
		if fb.filter.Equal(f) {
			return fb.bucket, i
		}
	}
	return nil, -1
}

func (r *Registry) bucketFor(scope Scope, createIfAbsent bool) *bucket {
	switch {
	case scope.isRoot():
		return &r.root
	case scope.isKeyed():
		b, ok := r.byKey[scope.Key]
		if !ok && createIfAbsent {
			b = &bucket{}
			r.byKey[scope.Key] = b
		}
		return b
	default:
		b, _ := r.findFilterBucket(scope.Filter)
		if b == nil && createIfAbsent {
			b = &bucket{}
			r.byFilter = append(r.byFilter, filterBucket{filter: scope.Filter, bucket: b})
		}
		return b
	}
}

// AddCacheListener registers listener under scope, issuing a server
// subscribe call only when this is the scope's first listener or when
// a prior lite-only subscription must be upgraded to standard
// (spec.md §4.5's subscription arithmetic). On transport failure the
// bookkeeping is rolled back so local and server state never diverge.
func (r *Registry) AddCacheListener(ctx context.Context, listener Listener, scope Scope, lite bool) error {
	r.mu.Lock()
	b := r.bucketFor(scope, true)
	wasEmpty := b.empty()
	wasLite := !wasEmpty && !b.hasStandard()
	b.add(listener, lite)
	needsUpgrade := wasLite && !lite
	r.mu.Unlock()

	if !wasEmpty && !needsUpgrade {
		return nil
	}

	if err := r.transport.Subscribe(ctx, scope, !needsUpgrade && lite); err != nil {
		r.mu.Lock()
		b.remove(listener)
		if b.empty() {
			r.dropBucket(scope)
		}
		r.mu.Unlock()
		return fmt.Errorf("engine: subscribe failed: %w", err)
	}
	r.reportSubscriptionChanged(ctx)
	return nil
}

// RemoveCacheListener unregisters listener from scope, issuing a server
// unsubscribe call only when it was the scope's last listener.
func (r *Registry) RemoveCacheListener(ctx context.Context, listener Listener, scope Scope) error {
	r.mu.Lock()
	b := r.bucketFor(scope, false)
	if b == nil {
		r.mu.Unlock()
		return nil
	}
	nowEmpty := b.remove(listener)
	if nowEmpty {
		r.dropBucket(scope)
	}
	r.mu.Unlock()

	if !nowEmpty {
		return nil
	}
	if err := r.transport.Unsubscribe(ctx, scope); err != nil {
		return err
	}
	r.reportSubscriptionChanged(ctx)
	return nil
}

// reportSubscriptionChanged publishes a cache.subscription.changed
// metric whenever a server subscribe/unsubscribe call actually fired,
// so monitoring's aggregator can track subscription churn per cache
// alongside the get/set/delete volume it already ingests.
func (r *Registry) reportSubscriptionChanged(ctx context.Context) {
	monitoring.CacheMetricsTopic.Publish(ctx, &monitoring.CacheMetricEvent{
		Operation: "subscribe_changed",
		Key:       r.name,
		Timestamp: time.Now(),
	})
}

func (r *Registry) dropBucket(scope Scope) {
	switch {
	case scope.isRoot():
		r.root = bucket{}
	case scope.isKeyed():
		delete(r.byKey, scope.Key)
	default:
		for i, fb := range r.byFilter {
			if fb.filter.Equal(scope.Filter) {
				r.byFilter = append(r.byFilter[:i], r.byFilter[i+1:]...)
				return
			}
		}
	}
}

// Dispatch delivers evt to every listener whose scope matches,
// re-parenting is the caller's responsibility (done before Dispatch is
// called, at the cache-handle layer where the application-facing cache
// reference lives). Within a scope, standard listeners receive the
// event before lite listeners, each group in registration order, so a
// lite listener registered before a standard one is still called after
// it. Scopes are visited key, then filter, then root; an error or panic from one listener is logged and does not
// prevent delivery to the rest (spec.md §7's event-dispatch error
// policy).
func (r *Registry) Dispatch(evt filter.Event) {
	r.mu.Lock()
	var targets []Listener
	if keyBucket, ok := r.byKey[evt.Key]; ok {
		targets = append(targets, keyBucket.standard...)
		targets = append(targets, keyBucket.lite...)
	}
	for _, fb := range r.byFilter {
		if fb.filter.Evaluate(evt) {
			targets = append(targets, fb.bucket.standard...)
			targets = append(targets, fb.bucket.lite...)
		}
	}
	targets = append(targets, r.root.standard...)
	targets = append(targets, r.root.lite...)
	r.mu.Unlock()

	for _, l := range targets {
		deliverSafely(l, evt)
	}
}

func deliverSafely(l Listener, evt filter.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("engine: listener panicked on event for key %v: %v", evt.Key, rec)
		}
	}()
	l.Receive(evt)
}

// Subscriptions describes one active (scope, lite) pair, used by
// Resubscribe to re-derive the set of server subscriptions to replay
// after a cache-handle restart.
type Subscription struct {
	Scope Scope
	Lite  bool
}

// ActiveSubscriptions reports every scope that currently holds at least
// one listener, and whether any of its listeners require standard
// (non-lite) delivery — the same "any standard listener present" rule
// spec.md §4.5 uses to decide the subscription's lite flag.
func (r *Registry) ActiveSubscriptions() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Subscription
	if !r.root.empty() {
		out = append(out, Subscription{Scope: rootScope(), Lite: !r.root.hasStandard()})
	}
	for key, b := range r.byKey {
		if !b.empty() {
			out = append(out, Subscription{Scope: Scope{Key: key}, Lite: !b.hasStandard()})
		}
	}
	for _, fb := range r.byFilter {
		if !fb.bucket.empty() {
			out = append(out, Subscription{Scope: Scope{Filter: fb.filter}, Lite: !fb.bucket.hasStandard()})
		}
	}
	return out
}

// Resubscribe replays every active subscription against transport,
// called on the new remote cache after a cache-handle restart (spec.md
// §4.5's "re-subscription" and §4.6's restart protocol step 3). The
// first failure aborts and is returned to the caller; the handle stays
// in restarting state so the next caller retries.
func (r *Registry) Resubscribe(ctx context.Context, transport Transport) error {
	for _, sub := range r.ActiveSubscriptions() {
		if err := transport.Subscribe(ctx, sub.Scope, sub.Lite); err != nil {
			return fmt.Errorf("engine: resubscribe %+v: %w", sub.Scope, err)
		}
	}
	return nil
}
