package cachemanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"encore.app/cache-manager/engine"
	"encore.app/monitoring"
	"encore.app/pkg/filter"
)

// HandleState is a cache or service handle's position in the state
// machine of spec.md §3: Configured → Running ⇌ Restarting →
// Released|Destroyed. Released/Destroyed are terminal: every public
// operation against a handle in either state fails.
type HandleState int

const (
	StateConfigured HandleState = iota
	StateRunning
	StateRestarting
	StateReleased
	StateDestroyed
)

// ErrHandleReleased is returned by any operation against a handle that
// has been Released or Destroyed (spec.md §7's "invalid state errors").
var ErrHandleReleased = errors.New("cachemanager: operation on a released or destroyed handle")

// CacheHandle is the lifecycle-managed wrapper over a RemoteCacheRef
// (spec.md §4.7): it restarts after its owning ServiceHandle restarts
// and re-applies listeners through a Registry.
type CacheHandle struct {
	mu        sync.Mutex
	name      string
	principal string
	state     HandleState

	service *ServiceHandle
	inner   RemoteCacheRef

	registry *engine.Registry
}

// NewCacheHandle builds a handle for cacheName over service. The
// handle owns its own listener registry, wired to the handle itself as
// the transport so Subscribe/Unsubscribe always reach the current
// inner reference, even across a restart.
func NewCacheHandle(cacheName, principal string, service *ServiceHandle) *CacheHandle {
	h := &CacheHandle{name: cacheName, principal: principal, service: service}
	h.registry = engine.NewNamedRegistry(cacheName, h)
	return h
}

// Name returns the handle's cache name.
func (h *CacheHandle) Name() string { return h.name }

// Registry exposes the handle's listener registry so application code
// can call AddCacheListener/RemoveCacheListener.
func (h *CacheHandle) Registry() *engine.Registry { return h.registry }

// Subscribe implements engine.Transport by forwarding to the current
// inner reference, restarting first if necessary.
func (h *CacheHandle) Subscribe(ctx context.Context, scope engine.Scope, lite bool) error {
	inner, err := h.ensure(ctx)
	if err != nil {
		return err
	}
	return inner.Subscribe(ctx, scope, lite)
}

// Unsubscribe implements engine.Transport by forwarding to the current
// inner reference.
func (h *CacheHandle) Unsubscribe(ctx context.Context, scope engine.Scope) error {
	inner, err := h.ensure(ctx)
	if err != nil {
		return err
	}
	return inner.Unsubscribe(ctx, scope)
}

// ensure implements the restart protocol of spec.md §4.6/§4.7:
//  1. fast path — a short check, under the handle's lock, that the
//     inner reference is active.
//  2. slow path — service lock then cache lock (service before cache,
//     always, to avoid deadlock), re-check, ensure the service is
//     running, ask it for a new named cache, drain queued events, then
//     re-register listeners from the registry.
func (h *CacheHandle) ensure(ctx context.Context) (RemoteCacheRef, error) {
	h.mu.Lock()
	if h.state == StateReleased || h.state == StateDestroyed {
		h.mu.Unlock()
		return nil, ErrHandleReleased
	}
	if h.inner != nil && h.inner.IsActive() {
		inner := h.inner
		h.mu.Unlock()
		return inner, nil
	}
	h.state = StateRestarting
	h.mu.Unlock()

	svc, err := h.service.EnsureRunning(ctx)
	if err != nil {
		return nil, fmt.Errorf("cachemanager: cache %q: %w", h.name, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateReleased || h.state == StateDestroyed {
		return nil, ErrHandleReleased
	}
	if h.inner != nil && h.inner.IsActive() {
		h.state = StateRunning
		return h.inner, nil
	}

	newInner, err := svc.EnsureRemoteCache(ctx, h.name)
	if err != nil {
		return nil, fmt.Errorf("cachemanager: ensure remote cache %q: %w", h.name, err)
	}

	for _, queued := range svc.DrainEvents() {
		if queued.CacheName != h.name {
			continue
		}
		if evt, ok := queued.Payload.(filter.Event); ok {
			h.registry.Dispatch(evt)
		}
	}

	if err := h.registry.Resubscribe(ctx, newInner); err != nil {
		return nil, fmt.Errorf("cachemanager: resubscribe cache %q: %w", h.name, err)
	}

	h.inner = newInner
	h.state = StateRunning
	return newInner, nil
}

// Release marks the handle released: every subsequent public operation
// fails with ErrHandleReleased (spec.md §4.6's invalidation rules).
// Release does not instruct the server to destroy the distributed
// cache — see Destroy.
func (h *CacheHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateReleased
	h.inner = nil
}

// Destroy releases the handle and, if still connected, asks the remote
// service to destroy the distributed cache outright.
func (h *CacheHandle) Destroy(ctx context.Context) error {
	h.mu.Lock()
	inner := h.inner
	h.state = StateDestroyed
	h.inner = nil
	h.mu.Unlock()

	if inner == nil {
		return nil
	}
	if destroyer, ok := inner.(interface{ Destroy(context.Context) error }); ok {
		return destroyer.Destroy(ctx)
	}
	return nil
}

// State reports the handle's current lifecycle state.
func (h *CacheHandle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ErrLockingNotSupported is returned by Lock/Unlock when the underlying
// remote cache reference doesn't implement LockOps.
var ErrLockingNotSupported = errors.New("cachemanager: remote cache does not support pessimistic locking")

// Lock requests a pessimistic lock on key, a server-side concept the
// client only forwards (spec.md §5). wait composes the client's own
// timeout around the forward call rather than reimplementing server
// lock-wait logic: wait == 0 tries once without blocking, wait < 0
// blocks indefinitely (bounded only by ctx), wait > 0 blocks up to
// that duration.
func (h *CacheHandle) Lock(ctx context.Context, key any, wait time.Duration) error {
	inner, err := h.ensure(ctx)
	if err != nil {
		return err
	}
	locker, ok := inner.(LockOps)
	if !ok {
		return ErrLockingNotSupported
	}

	waitCtx, cancel := withLockWait(ctx, wait)
	defer cancel()
	err = locker.Lock(waitCtx, key)
	if errors.Is(err, context.DeadlineExceeded) {
		// The wait elapsed without acquiring the lock: some other
		// holder had it the whole time.
		monitoring.CacheMetricsTopic.Publish(ctx, &monitoring.CacheMetricEvent{
			Operation: "lock_contended",
			Key:       h.name,
			Timestamp: time.Now(),
		})
	}
	return err
}

// Unlock releases a previously acquired lock on key.
func (h *CacheHandle) Unlock(ctx context.Context, key any) error {
	inner, err := h.ensure(ctx)
	if err != nil {
		return err
	}
	locker, ok := inner.(LockOps)
	if !ok {
		return ErrLockingNotSupported
	}
	return locker.Unlock(ctx, key)
}

// ErrEnumerationNotSupported is returned by EntrySet when the current
// inner remote cache reference doesn't implement EntryEnumerator.
var ErrEnumerationNotSupported = errors.New("cachemanager: remote cache does not support bulk entry enumeration")

// EntrySet returns a full snapshot of the cache's entries, restarting
// first if necessary. Used by the view materialiser (cache-manager/view)
// to populate its local projection (spec.md §4.7 step 1).
func (h *CacheHandle) EntrySet(ctx context.Context) (map[any]any, error) {
	inner, err := h.ensure(ctx)
	if err != nil {
		return nil, err
	}
	enumerator, ok := inner.(EntryEnumerator)
	if !ok {
		return nil, ErrEnumerationNotSupported
	}
	return enumerator.EntrySet(ctx)
}

// withLockWait composes a wait duration onto ctx: 0 means try once
// (no blocking wait), negative means block indefinitely (bounded only
// by ctx's own deadline, if any), positive bounds the wait to that
// duration.
func withLockWait(ctx context.Context, wait time.Duration) (context.Context, context.CancelFunc) {
	switch {
	case wait == 0:
		return context.WithTimeout(ctx, 0)
	case wait < 0:
		return context.WithCancel(ctx)
	default:
		return context.WithTimeout(ctx, wait)
	}
}

// Dispatch re-parents evt to this handle (the application-facing
// reference) and hands it to the registry for delivery, per spec.md
// §4.5's event-dispatch rule.
func (h *CacheHandle) Dispatch(evt filter.Event) {
	evt.CacheRef = h
	h.registry.Dispatch(evt)
}
