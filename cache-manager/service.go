// Package cachemanager implements the distributed named-cache client
// core: configuration-driven scheme resolution, a process-level handle
// factory (service handles, cache handles), an event engine for
// server-push listeners, and pessimistic locking forwarding.
//
// Design Choices:
// - The Factory is the process-wide singleton (one per initService call,
//   Encore's usual sync.Once pattern), but every handle it mints is
//   itself independently lockable and restartable — the singleton only
//   owns the registries, not the connections.
// - Configure must be called once with a resolved scheme Document and a
//   RemoteService builder before any EnsureCache/EnsureService call
//   succeeds, mirroring the teacher's SetL2Cache/SetOriginFetcher
//   late-injection idiom for things that can't be known at compile time.
// - Lock order is factory ⊐ service ⊐ cache ⊐ listener-registry
//   throughout this package; see cache-manager/factory.go,
//   service_handle.go, cache_handle.go for the locks themselves.
package cachemanager

import (
	"context"
	"errors"
	"log"
	"sync"

	"encore.app/pkg/config"
)

// Service is the cache manager's composition root.
//
//encore:service
type Service struct {
	mu      sync.Mutex
	factory *Factory
}

var (
	svc  *Service
	once sync.Once
)

// initService initializes the cache manager service. Called
// automatically by Encore at startup; Configure must still be called
// before the factory is usable.
func initService() (*Service, error) {
	once.Do(func() {
		svc = &Service{}
	})
	return svc, nil
}

// Configure installs the scheme-mapping document and remote-service
// builder the factory resolves cache names against, replacing any
// previously configured factory. Per spec.md §4.8, replacing the
// factory shuts down the previous instance first and switches the
// active logger.
func (s *Service) Configure(doc *config.Document, build ServiceFactory, principalScoping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.factory != nil {
		s.factory.Shutdown()
	}
	s.factory = NewFactory(doc, build, principalScoping)
	s.factory.SetLogger(log.Default())
}

var errNotConfigured = errors.New("cachemanager: service not configured, call Configure first")

func (s *Service) factoryOrErr() (*Factory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.factory == nil {
		return nil, errNotConfigured
	}
	return s.factory, nil
}

func handleStateName(st HandleState) string {
	switch st {
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateReleased:
		return "released"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// EnsureCacheRequest names the cache to resolve and the principal
// (identity) it should be scoped under, when principal scoping is
// enabled.
type EnsureCacheRequest struct {
	CacheName string `json:"cache_name"`
	Principal string `json:"principal,omitempty"`
}

// EnsureCacheResponse reports the resolved handle's identity and
// current lifecycle state.
type EnsureCacheResponse struct {
	CacheName string `json:"cache_name"`
	State     string `json:"state"`
}

// EnsureCache resolves cacheName to a scheme, ensures its owning
// service is registered, and returns (or builds) the shared
// CacheHandle for (cacheName, principal).
//
//encore:api public method=POST path=/api/cache-manager/ensure-cache
func EnsureCache(ctx context.Context, req *EnsureCacheRequest) (*EnsureCacheResponse, error) {
	s, err := initService()
	if err != nil {
		return nil, err
	}
	return s.EnsureCache(ctx, req)
}

func (s *Service) EnsureCache(ctx context.Context, req *EnsureCacheRequest) (*EnsureCacheResponse, error) {
	f, err := s.factoryOrErr()
	if err != nil {
		return nil, err
	}
	h, err := f.EnsureCache(ctx, req.CacheName, req.Principal)
	if err != nil {
		return nil, err
	}
	return &EnsureCacheResponse{CacheName: h.Name(), State: handleStateName(h.State())}, nil
}

// EnsureServiceRequest names the scheme whose owning remote service
// should be ensured running.
type EnsureServiceRequest struct {
	SchemeName string `json:"scheme_name"`
	Principal  string `json:"principal,omitempty"`
}

// EnsureServiceResponse reports the resolved service handle's identity.
type EnsureServiceResponse struct {
	ServiceName string `json:"service_name"`
}

// EnsureService resolves schemeName and returns (or builds) the
// process's shared ServiceHandle for it.
//
//encore:api public method=POST path=/api/cache-manager/ensure-service
func EnsureService(ctx context.Context, req *EnsureServiceRequest) (*EnsureServiceResponse, error) {
	s, err := initService()
	if err != nil {
		return nil, err
	}
	return s.EnsureService(ctx, req)
}

func (s *Service) EnsureService(ctx context.Context, req *EnsureServiceRequest) (*EnsureServiceResponse, error) {
	f, err := s.factoryOrErr()
	if err != nil {
		return nil, err
	}
	h, err := f.EnsureService(ctx, req.SchemeName, req.Principal)
	if err != nil {
		return nil, err
	}
	return &EnsureServiceResponse{ServiceName: h.Name()}, nil
}

// ReleaseCacheRequest names the cache handle to release.
type ReleaseCacheRequest struct {
	CacheName string `json:"cache_name"`
	Principal string `json:"principal,omitempty"`
}

// ReleaseCache releases the handle for (cacheName, principal) without
// destroying the server-side distributed cache.
//
//encore:api public method=POST path=/api/cache-manager/release-cache
func ReleaseCache(ctx context.Context, req *ReleaseCacheRequest) (*struct{}, error) {
	s, err := initService()
	if err != nil {
		return nil, err
	}
	f, err := s.factoryOrErr()
	if err != nil {
		return nil, err
	}
	f.ReleaseCache(ctx, req.CacheName, req.Principal)
	return &struct{}{}, nil
}

// DestroyCacheRequest names the cache to destroy.
type DestroyCacheRequest struct {
	CacheName string `json:"cache_name"`
	Principal string `json:"principal,omitempty"`
}

// DestroyCache releases the handle for (cacheName, principal) and asks
// the owning remote service to destroy the distributed cache.
//
//encore:api public method=POST path=/api/cache-manager/destroy-cache
func DestroyCache(ctx context.Context, req *DestroyCacheRequest) (*struct{}, error) {
	s, err := initService()
	if err != nil {
		return nil, err
	}
	f, err := s.factoryOrErr()
	if err != nil {
		return nil, err
	}
	if err := f.DestroyCache(ctx, req.CacheName, req.Principal); err != nil {
		return nil, err
	}
	return &struct{}{}, nil
}

// Shutdown releases every cache handle and stops every service handle
// the factory currently manages.
//
//encore:api public method=POST path=/api/cache-manager/shutdown
func Shutdown(ctx context.Context) (*struct{}, error) {
	s, err := initService()
	if err != nil {
		return nil, err
	}
	f, err := s.factoryOrErr()
	if err != nil {
		return nil, err
	}
	f.Shutdown()
	return &struct{}{}, nil
}
