package cachemanager

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"encore.app/cache-manager/engine"
	"encore.app/pkg/config"
	"encore.app/pkg/filter"
)

type testRecordingListener struct {
	received []filter.Event
}

func (l *testRecordingListener) Receive(evt filter.Event) { l.received = append(l.received, evt) }

type fakeRemoteCacheRef struct {
	name   string
	active atomic.Bool
	subs   []engine.Scope
}

func newFakeRemoteCacheRef(name string) *fakeRemoteCacheRef {
	r := &fakeRemoteCacheRef{name: name}
	r.active.Store(true)
	return r
}

func (r *fakeRemoteCacheRef) Name() string   { return r.name }
func (r *fakeRemoteCacheRef) IsActive() bool { return r.active.Load() }
func (r *fakeRemoteCacheRef) Subscribe(ctx context.Context, scope engine.Scope, lite bool) error {
	r.subs = append(r.subs, scope)
	return nil
}
func (r *fakeRemoteCacheRef) Unsubscribe(ctx context.Context, scope engine.Scope) error { return nil }

type lockingRemoteCacheRef struct {
	*fakeRemoteCacheRef
	locked map[any]bool
}

func newLockingRemoteCacheRef(name string) *lockingRemoteCacheRef {
	return &lockingRemoteCacheRef{fakeRemoteCacheRef: newFakeRemoteCacheRef(name), locked: make(map[any]bool)}
}

func (r *lockingRemoteCacheRef) Lock(ctx context.Context, key any) error {
	if r.locked[key] {
		<-ctx.Done()
		return ctx.Err()
	}
	r.locked[key] = true
	return nil
}

func (r *lockingRemoteCacheRef) Unlock(ctx context.Context, key any) error {
	delete(r.locked, key)
	return nil
}

type fakeRemoteService struct {
	running      atomic.Bool
	connectErr   error
	connectCalls int32
	useLocking   bool
	caches       map[string]*fakeRemoteCacheRef
	lockCaches   map[string]*lockingRemoteCacheRef
	queued       []QueuedEvent
}

func newFakeRemoteService() *fakeRemoteService {
	return &fakeRemoteService{caches: make(map[string]*fakeRemoteCacheRef)}
}

func newLockingFakeRemoteService() *fakeRemoteService {
	return &fakeRemoteService{useLocking: true, lockCaches: make(map[string]*lockingRemoteCacheRef)}
}

func (s *fakeRemoteService) Kind() config.SchemeKind { return config.SchemeRemoteCache }
func (s *fakeRemoteService) Name() string            { return "RemoteCache" }
func (s *fakeRemoteService) Connect(ctx context.Context, principal string) error {
	atomic.AddInt32(&s.connectCalls, 1)
	if s.connectErr != nil {
		return s.connectErr
	}
	s.running.Store(true)
	return nil
}
func (s *fakeRemoteService) Stop()          { s.running.Store(false) }
func (s *fakeRemoteService) IsRunning() bool { return s.running.Load() }
func (s *fakeRemoteService) EnsureRemoteCache(ctx context.Context, cacheName string) (RemoteCacheRef, error) {
	if s.useLocking {
		ref, ok := s.lockCaches[cacheName]
		if !ok {
			ref = newLockingRemoteCacheRef(cacheName)
			s.lockCaches[cacheName] = ref
		}
		return ref, nil
	}
	ref, ok := s.caches[cacheName]
	if !ok {
		ref = newFakeRemoteCacheRef(cacheName)
		s.caches[cacheName] = ref
	}
	return ref, nil
}
func (s *fakeRemoteService) DrainEvents() []QueuedEvent {
	out := s.queued
	s.queued = nil
	return out
}

func testScheme() *config.Element {
	return &config.Element{Kind: config.SchemeRemoteCache, Name: "remote-cache-scheme"}
}

func TestServiceHandleConnectsOnFirstEnsureRunning(t *testing.T) {
	svc := newFakeRemoteService()
	h := NewServiceHandle(testScheme(), "alice", func(scheme *config.Element) (RemoteService, error) {
		return svc, nil
	})

	got, err := h.EnsureRunning(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != svc {
		t.Fatalf("expected the built service to be returned")
	}
	if !svc.IsRunning() {
		t.Fatalf("expected service to be running after EnsureRunning")
	}
}

func TestServiceHandleFastPathSkipsRebuild(t *testing.T) {
	svc := newFakeRemoteService()
	builds := 0
	h := NewServiceHandle(testScheme(), "alice", func(scheme *config.Element) (RemoteService, error) {
		builds++
		return svc, nil
	})

	if _, err := h.EnsureRunning(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.EnsureRunning(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if builds != 1 {
		t.Fatalf("expected exactly one build (fast path reused the running service), got %d", builds)
	}
}

func TestServiceHandleRebuildsAfterStop(t *testing.T) {
	var built []*fakeRemoteService
	h := NewServiceHandle(testScheme(), "alice", func(scheme *config.Element) (RemoteService, error) {
		s := newFakeRemoteService()
		built = append(built, s)
		return s, nil
	})

	first, err := h.EnsureRunning(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first.(*fakeRemoteService).Stop()

	second, err := h.EnsureRunning(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(built) != 2 {
		t.Fatalf("expected a rebuild after the service stopped, built %d times", len(built))
	}
	if second == first {
		t.Fatalf("expected a new inner service instance after restart")
	}
}

func TestServiceHandlePropagatesConnectError(t *testing.T) {
	svc := newFakeRemoteService()
	svc.connectErr = errors.New("cluster unreachable")
	h := NewServiceHandle(testScheme(), "alice", func(scheme *config.Element) (RemoteService, error) {
		return svc, nil
	})

	if _, err := h.EnsureRunning(context.Background()); err == nil {
		t.Fatalf("expected connect error to propagate")
	}
}

func TestCacheHandleEnsureCreatesRemoteCacheOnDemand(t *testing.T) {
	svc := newFakeRemoteService()
	sh := NewServiceHandle(testScheme(), "alice", func(scheme *config.Element) (RemoteService, error) {
		return svc, nil
	})
	ch := NewCacheHandle("orders", "alice", sh)

	inner, err := ch.ensure(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.Name() != "orders" {
		t.Fatalf("expected remote cache named orders, got %q", inner.Name())
	}
}

func TestCacheHandleRestartsWhenInnerGoesInactive(t *testing.T) {
	svc := newFakeRemoteService()
	sh := NewServiceHandle(testScheme(), "alice", func(scheme *config.Element) (RemoteService, error) {
		return svc, nil
	})
	ch := NewCacheHandle("orders", "alice", sh)

	first, _ := ch.ensure(context.Background())
	first.(*fakeRemoteCacheRef).active.Store(false)

	second, err := ch.ensure(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second == first {
		t.Fatalf("expected a fresh inner reference after the old one went inactive")
	}
}

func TestCacheHandleResubscribesListenersOnRestart(t *testing.T) {
	svc := newFakeRemoteService()
	sh := NewServiceHandle(testScheme(), "alice", func(scheme *config.Element) (RemoteService, error) {
		return svc, nil
	})
	ch := NewCacheHandle("orders", "alice", sh)

	recv := &testRecordingListener{}
	if err := ch.Registry().AddCacheListener(context.Background(), recv, engine.Scope{Key: "k1"}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, _ := ch.ensure(context.Background())
	first.(*fakeRemoteCacheRef).active.Store(false)
	delete(svc.caches, "orders")

	if _, err := ch.ensure(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	newRef := svc.caches["orders"]
	if len(newRef.subs) != 1 {
		t.Fatalf("expected the listener's subscription replayed against the new inner cache, got %d", len(newRef.subs))
	}
}

func TestCacheHandleLockAndUnlockForwardToTransport(t *testing.T) {
	svc := newLockingFakeRemoteService()
	sh := NewServiceHandle(testScheme(), "alice", func(scheme *config.Element) (RemoteService, error) {
		return svc, nil
	})
	ch := NewCacheHandle("orders", "alice", sh)

	if err := ch.Lock(context.Background(), "order-1", -1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ch.Unlock(context.Background(), "order-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCacheHandleLockTryOnceFailsOnContention(t *testing.T) {
	svc := newLockingFakeRemoteService()
	sh := NewServiceHandle(testScheme(), "alice", func(scheme *config.Element) (RemoteService, error) {
		return svc, nil
	})
	ch := NewCacheHandle("orders", "alice", sh)

	if err := ch.Lock(context.Background(), "order-1", -1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ch.Lock(context.Background(), "order-1", 0); err == nil {
		t.Fatalf("expected a try-once lock to fail immediately on contention")
	}
}

func TestCacheHandleLockUnsupportedByTransport(t *testing.T) {
	svc := newFakeRemoteService()
	sh := NewServiceHandle(testScheme(), "alice", func(scheme *config.Element) (RemoteService, error) {
		return svc, nil
	})
	ch := NewCacheHandle("orders", "alice", sh)

	if err := ch.Lock(context.Background(), "order-1", time.Second); !errors.Is(err, ErrLockingNotSupported) {
		t.Fatalf("expected ErrLockingNotSupported, got %v", err)
	}
}
