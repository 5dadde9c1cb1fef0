package cachemanager

import (
	"context"
	"fmt"
	"log"
	"sync"

	"encore.app/pkg/config"
	"encore.app/pkg/middleware"
)

// serviceKey identifies an entry in the factory's service registry:
// (service-name, service-kind), per spec.md §3's handle-registry data
// model.
type serviceKey struct {
	name string
	kind config.SchemeKind
}

// cacheKey identifies an entry in a service's cache registry:
// (cache-name, principal). When principal scoping is disabled the
// principal component is the fixed wildcard below.
type cacheKey struct {
	name      string
	principal string
}

const noPrincipal = "*"

// Factory is the process-level top-level factory (C9): EnsureCache,
// EnsureService, ReleaseCache, DestroyCache, Shutdown. It is a
// thread-safe singleton; replacing it shuts down the previous instance
// and switches the active logger (spec.md §4.8).
type Factory struct {
	mu sync.Mutex

	doc              *config.Document
	buildService     ServiceFactory
	principalScoping bool

	services map[serviceKey]*ServiceHandle
	caches   map[serviceKey]map[cacheKey]*CacheHandle

	logger      *log.Logger
	loggerReady bool
	queuedLogs  []string
}

// NewFactory builds a Factory over doc, using build to construct
// RemoteService instances for resolved schemes. principalScoping
// enables per-identity handle isolation (spec.md §4.6).
func NewFactory(doc *config.Document, build ServiceFactory, principalScoping bool) *Factory {
	return &Factory{
		doc:              doc,
		buildService:     build,
		principalScoping: principalScoping,
		services:         make(map[serviceKey]*ServiceHandle),
		caches:           make(map[serviceKey]map[cacheKey]*CacheHandle),
	}
}

// SetLogger installs the active logger and replays any messages queued
// before it was available (spec.md §4.8: "queues log messages emitted
// before logger start-up and replays them after configuration").
func (f *Factory) SetLogger(logger *log.Logger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logger = logger
	f.loggerReady = true
	for _, msg := range f.queuedLogs {
		logger.Print(msg)
	}
	f.queuedLogs = nil
}

// logf records a log message, queuing it if the logger isn't installed
// yet, and separately emits it as a structured, request-correlated line
// through pkg/middleware's logger. Callers must already hold f.mu.
func (f *Factory) logf(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if f.loggerReady {
		f.logger.Print(msg)
	} else {
		f.queuedLogs = append(f.queuedLogs, msg)
	}
	middleware.LogWithRequestID(ctx, msg, nil)
}

func (f *Factory) effectivePrincipal(principal string) string {
	if !f.principalScoping {
		return noPrincipal
	}
	if principal == "" {
		return noPrincipal
	}
	return principal
}

// EnsureService resolves schemeName's scheme tree and returns the
// process's shared ServiceHandle for it, building one on first use.
// Repeated calls that resolve to the same service name and scheme kind
// return the same handle until it is shut down; the principal of a
// later call does not select a different handle.
func (f *Factory) EnsureService(ctx context.Context, schemeName, principal string) (*ServiceHandle, error) {
	scheme, err := f.doc.ResolveScheme(schemeName, config.MacroInfo{}, false)
	if err != nil {
		return nil, fmt.Errorf("cachemanager: resolve scheme %q: %w", schemeName, err)
	}

	principal = f.effectivePrincipal(principal)
	key := serviceKey{name: serviceIdentity(scheme), kind: scheme.Kind}

	f.mu.Lock()
	defer f.mu.Unlock()

	if h, ok := f.services[key]; ok {
		return h, nil
	}

	h := NewServiceHandle(scheme, principal, f.buildService)
	f.services[key] = h
	f.caches[key] = make(map[cacheKey]*CacheHandle)
	f.logf(ctx, "cachemanager: service %q installed (kind=%v)", key.name, key.kind)
	return h, nil
}

// EnsureCache resolves cacheName against the mapping document, ensures
// the owning service is running, and returns the process's shared
// CacheHandle for (cacheName, principal), building one on first use.
func (f *Factory) EnsureCache(ctx context.Context, cacheName, principal string) (*CacheHandle, error) {
	mapping, err := f.doc.FindSchemeMapping(cacheName)
	if err != nil {
		return nil, fmt.Errorf("cachemanager: %w", err)
	}

	scheme, err := f.doc.ResolveScheme(mapping.SchemeName, config.MacroInfo{
		CacheName: cacheName,
		Suffix:    mapping.Suffix,
		Attrs:     mapping.InitParams,
	}, false)
	if err != nil {
		return nil, fmt.Errorf("cachemanager: resolve scheme %q: %w", mapping.SchemeName, err)
	}

	principal = f.effectivePrincipal(principal)
	svcKey := serviceKey{name: serviceIdentity(scheme), kind: scheme.Kind}

	f.mu.Lock()
	svcHandle, ok := f.services[svcKey]
	if !ok {
		svcHandle = NewServiceHandle(scheme, principal, f.buildService)
		f.services[svcKey] = svcHandle
		f.caches[svcKey] = make(map[cacheKey]*CacheHandle)
	}
	cKey := cacheKey{name: cacheName, principal: principal}
	if ch, ok := f.caches[svcKey][cKey]; ok {
		f.mu.Unlock()
		return ch, nil
	}
	ch := NewCacheHandle(cacheName, principal, svcHandle)
	f.caches[svcKey][cKey] = ch
	f.logf(ctx, "cachemanager: cache %q (principal=%q) installed under service %q", cacheName, principal, svcKey.name)
	f.mu.Unlock()

	return ch, nil
}

// ReleaseCache releases the handle for (cacheName, principal), if one
// exists, and removes it from the registry so a subsequent EnsureCache
// builds a fresh handle (spec.md §8 invariant 2).
func (f *Factory) ReleaseCache(ctx context.Context, cacheName, principal string) {
	principal = f.effectivePrincipal(principal)

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, caches := range f.caches {
		cKey := cacheKey{name: cacheName, principal: principal}
		if ch, ok := caches[cKey]; ok {
			ch.Release()
			delete(caches, cKey)
			f.logf(ctx, "cachemanager: cache %q (principal=%q) released", cacheName, principal)
			return
		}
	}
}

// DestroyCache destroys the handle for (cacheName, principal): it
// releases the handle and instructs the server to destroy the
// distributed cache.
func (f *Factory) DestroyCache(ctx context.Context, cacheName, principal string) error {
	principal = f.effectivePrincipal(principal)

	f.mu.Lock()
	var target *CacheHandle
	for _, caches := range f.caches {
		cKey := cacheKey{name: cacheName, principal: principal}
		if ch, ok := caches[cKey]; ok {
			target = ch
			delete(caches, cKey)
			break
		}
	}
	f.mu.Unlock()

	if target == nil {
		return nil
	}
	return target.Destroy(ctx)
}

// CachesNamed returns every currently-installed CacheHandle for
// cacheName, across every principal it has been ensured under. Used by
// the invalidation integration to dispatch a server-pushed invalidation
// broadcast to every locally-held handle for that cache (spec.md §9's
// filter-based invalidation unification).
func (f *Factory) CachesNamed(cacheName string) []*CacheHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*CacheHandle
	for _, caches := range f.caches {
		for key, ch := range caches {
			if key.name == cacheName {
				out = append(out, ch)
			}
		}
	}
	return out
}

// Shutdown releases every cache and shuts down every service, in that
// order (spec.md §4.6's invalidation rules).
func (f *Factory) Shutdown() {
	f.mu.Lock()
	var allCaches []*CacheHandle
	for _, caches := range f.caches {
		for _, ch := range caches {
			allCaches = append(allCaches, ch)
		}
	}
	var allServices []*ServiceHandle
	for _, sh := range f.services {
		allServices = append(allServices, sh)
	}
	f.mu.Unlock()

	for _, ch := range allCaches {
		ch.Release()
	}
	for _, sh := range allServices {
		sh.Stop()
	}

	f.mu.Lock()
	f.caches = make(map[serviceKey]map[cacheKey]*CacheHandle)
	f.services = make(map[serviceKey]*ServiceHandle)
	f.mu.Unlock()
}
