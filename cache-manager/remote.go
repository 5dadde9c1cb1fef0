package cachemanager

import (
	"context"

	"encore.app/cache-manager/engine"
	"encore.app/pkg/config"
)

// RemoteService is the service-level collaborator a ServiceHandle
// manages: start/stop lifecycle, connection health, and the ability to
// mint a new named-cache reference (spec.md §4.6's "service restart").
// The concrete remote-cache / remote-invocation implementation and its
// wire transport live outside this core (spec.md §1).
type RemoteService interface {
	Kind() config.SchemeKind
	Name() string
	Connect(ctx context.Context, principal string) error
	Stop()
	IsRunning() bool
	EnsureRemoteCache(ctx context.Context, cacheName string) (RemoteCacheRef, error)
	// DrainEvents returns events queued on the service's transport
	// connection since the last drain, per spec.md §4.6 step 2's
	// "drain queued events that may have accumulated".
	DrainEvents() []QueuedEvent
}

// RemoteCacheRef is the inner remote reference a CacheHandle wraps.
// CacheHandle re-creates one of these on every restart and never holds
// onto a stale reference across a restart boundary.
type RemoteCacheRef interface {
	engine.Transport
	Name() string
	IsActive() bool
}

// LockOps is implemented by a RemoteCacheRef that supports server-side
// pessimistic locking. Locking is a server-side concept (spec.md §5):
// the client only forwards the request and composes its own wait
// semantics around it.
type LockOps interface {
	Lock(ctx context.Context, key any) error
	Unlock(ctx context.Context, key any) error
}

// EntryEnumerator is implemented by a RemoteCacheRef that can return a
// full entry snapshot, the one bulk operation the view materialiser
// (spec.md §4.7) needs to populate its local projection. Not every
// remote-cache implementation need support bulk enumeration, so this
// is a capability interface checked with a type assertion, the same
// pattern LockOps already uses for locking.
type EntryEnumerator interface {
	EntrySet(ctx context.Context) (map[any]any, error)
}

// QueuedEvent is a transport-delivered event not yet dispatched,
// surfaced during a restart's drain step so the new inner cache
// reference doesn't silently swallow events that arrived mid-restart.
type QueuedEvent struct {
	CacheName string
	Payload   any
}

// ServiceFactory builds a fresh RemoteService of the declared kind,
// configured from the resolved scheme element, per spec.md §4.6's
// "create a new inner service of the declared kind ... configure it
// from the resolved scheme, inject serializer, connect, start."
type ServiceFactory func(scheme *config.Element) (RemoteService, error)
