// Package cachemanager (continued) implements the safe-reference handle
// layer (C6 service handle, C7 cache handle) over the remote-cache
// transport: transparent reconnect after service restart, principal
// scoping, and re-subscription of listeners through the event engine
// (cache-manager/engine). Indices are not tracked and are not re-applied
// after a restart.
//
// Design Notes:
//   - Lock order is always service-handle lock before cache-handle lock,
//     exactly as spec.md §4.6 requires, to avoid the deadlock a cache
//     handle restart (which needs its service running) and a service
//     restart (which may be draining a cache handle's queue) could
//     otherwise produce.
//   - Restart coalescing uses golang.org/x/sync/singleflight.Group
//     keyed by handle identity, the same coalescing idiom
//     cache-manager/singleflight.go already uses for origin fetches —
//     here it prevents N concurrent callers on a dead handle from each
//     independently reconnecting to the remote cluster.
//   - Reconnect attempts are throttled with golang.org/x/time/rate so a
//     persistently unreachable cluster doesn't spin the caller.
//   - A successful restart logs through pkg/middleware's request-scoped
//     logger and publishes a cache.handle.restart event on
//     monitoring.CacheMetricsTopic, the same topic cache-manager already
//     reports get/set/delete metrics through.
package cachemanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"encore.app/monitoring"
	"encore.app/pkg/config"
	"encore.app/pkg/middleware"
)

// ServiceHandle is the lifecycle-managed wrapper over a RemoteService
// (spec.md §4.6). At most one exists per (service-name, scheme kind) in
// a Factory's registry.
type ServiceHandle struct {
	mu   sync.Mutex
	name string
	kind config.SchemeKind

	scheme    *config.Element
	principal string
	build     ServiceFactory

	inner RemoteService

	restartGroup singleflight.Group
	reconnect    *rate.Limiter
}

// NewServiceHandle builds an unconnected handle for the given resolved
// scheme. Connect happens lazily on first EnsureRunning call.
func NewServiceHandle(scheme *config.Element, principal string, build ServiceFactory) *ServiceHandle {
	return &ServiceHandle{
		name:      serviceIdentity(scheme),
		kind:      scheme.Kind,
		scheme:    scheme,
		principal: principal,
		build:     build,
		reconnect: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// serviceIdentity derives the service name for a scheme: the declared
// service-name, or a kind-specific default identity string when the
// config omits one (spec.md §4.6).
func serviceIdentity(scheme *config.Element) string {
	if scheme.ServiceName != "" {
		return scheme.ServiceName
	}
	switch scheme.Kind {
	case config.SchemeRemoteCache:
		return "RemoteCache"
	case config.SchemeRemoteInvocation:
		return "RemoteInvocation"
	default:
		return "Service"
	}
}

// Name returns the handle's service identity.
func (h *ServiceHandle) Name() string { return h.name }

// EnsureRunning implements the fast/slow path restart protocol of
// spec.md §4.6: a short liveness check under the handle's lock first,
// then the full restart under the handle's lock if the fast path
// doesn't clear it.
func (h *ServiceHandle) EnsureRunning(ctx context.Context) (RemoteService, error) {
	h.mu.Lock()
	if h.inner != nil && h.inner.IsRunning() {
		inner := h.inner
		h.mu.Unlock()
		return inner, nil
	}
	h.mu.Unlock()

	result, err, _ := h.restartGroup.Do("restart", func() (any, error) {
		return h.restart(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(RemoteService), nil
}

func (h *ServiceHandle) restart(ctx context.Context) (RemoteService, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.inner != nil && h.inner.IsRunning() {
		return h.inner, nil
	}

	if err := h.reconnect.Wait(ctx); err != nil {
		return nil, fmt.Errorf("cachemanager: reconnect throttled: %w", err)
	}

	if h.inner != nil {
		h.inner.Stop()
	}

	svc, err := h.build(h.scheme)
	if err != nil {
		return nil, fmt.Errorf("cachemanager: build service %q: %w", h.name, err)
	}
	if err := svc.Connect(ctx, h.principal); err != nil {
		return nil, fmt.Errorf("cachemanager: connect service %q: %w", h.name, err)
	}

	middleware.LogWithRequestID(ctx, "cachemanager: service restarted", map[string]interface{}{
		"service":   h.name,
		"principal": h.principal,
	})
	if _, err := monitoring.CacheMetricsTopic.Publish(ctx, &monitoring.CacheMetricEvent{
		Operation: "restart",
		Key:       h.name,
		Instance:  h.principal,
		Timestamp: time.Now(),
	}); err != nil {
		middleware.LogWithRequestID(ctx, "cachemanager: failed to publish restart metric", map[string]interface{}{
			"service": h.name,
			"error":   err.Error(),
		})
	}

	h.inner = svc
	return svc, nil
}

// Stop tears down the inner service, if any.
func (h *ServiceHandle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inner != nil {
		h.inner.Stop()
		h.inner = nil
	}
}
