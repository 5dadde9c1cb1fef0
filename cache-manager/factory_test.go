package cachemanager

import (
	"context"
	"testing"

	"encore.app/pkg/config"
)

func testDocument(t *testing.T) *config.Document {
	t.Helper()
	schemes := map[string]*config.Element{
		"orders-remote": {
			Kind:        config.SchemeRemoteCache,
			Name:        "orders-remote",
			ServiceName: "OrdersRemoteService",
		},
		"default-remote": {
			Kind:        config.SchemeRemoteCache,
			Name:        "default-remote",
			ServiceName: "DefaultRemoteService",
		},
	}
	mappings := []config.CacheMapping{
		{Pattern: "orders-*", SchemeName: "orders-remote"},
		{Pattern: "*", SchemeName: "default-remote"},
	}
	doc, err := config.NewDocument(mappings, schemes)
	if err != nil {
		t.Fatalf("unexpected error building document: %v", err)
	}
	return doc
}

func newTestFactory(t *testing.T) (*Factory, *fakeRemoteService) {
	t.Helper()
	svc := newFakeRemoteService()
	build := func(scheme *config.Element) (RemoteService, error) {
		return svc, nil
	}
	return NewFactory(testDocument(t), build, true), svc
}

func TestEnsureCacheReturnsSameHandleForRepeatedCalls(t *testing.T) {
	f, _ := newTestFactory(t)

	first, err := f.EnsureCache(context.Background(), "orders-items", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.EnsureCache(context.Background(), "orders-items", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected EnsureCache to return the same handle for repeated calls")
	}
}

func TestEnsureCacheScopesHandlesByPrincipal(t *testing.T) {
	f, _ := newTestFactory(t)

	alice, err := f.EnsureCache(context.Background(), "orders-items", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bob, err := f.EnsureCache(context.Background(), "orders-items", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alice == bob {
		t.Fatalf("expected distinct handles for distinct principals")
	}
}

func TestEnsureCacheRoutesByPatternPrecedence(t *testing.T) {
	f, _ := newTestFactory(t)

	orders, err := f.EnsureCache(context.Background(), "orders-items", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	other, err := f.EnsureCache(context.Background(), "widgets", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	ordersSvc := serviceKey{name: "OrdersRemoteService", kind: config.SchemeRemoteCache}
	defaultSvc := serviceKey{name: "DefaultRemoteService", kind: config.SchemeRemoteCache}
	if _, ok := f.caches[ordersSvc][cacheKey{name: "orders-items", principal: "alice"}]; !ok {
		t.Fatalf("expected orders-items routed under the orders service")
	}
	if _, ok := f.caches[defaultSvc][cacheKey{name: "widgets", principal: "alice"}]; !ok {
		t.Fatalf("expected widgets routed under the default service")
	}
	_ = orders
	_ = other
}

func TestEnsureCacheSharesServiceHandleAcrossCaches(t *testing.T) {
	f, _ := newTestFactory(t)

	if _, err := f.EnsureCache(context.Background(), "orders-items", "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.EnsureCache(context.Background(), "orders-events", "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	ordersSvc := serviceKey{name: "OrdersRemoteService", kind: config.SchemeRemoteCache}
	if len(f.caches[ordersSvc]) != 2 {
		t.Fatalf("expected two cache handles sharing one service, got %d", len(f.caches[ordersSvc]))
	}
	if len(f.services) != 1 {
		t.Fatalf("expected exactly one service handle installed, got %d", len(f.services))
	}
}

func TestReleaseCacheRemovesHandleFromRegistry(t *testing.T) {
	f, _ := newTestFactory(t)

	if _, err := f.EnsureCache(context.Background(), "orders-items", "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.ReleaseCache(context.Background(), "orders-items", "alice")

	f.mu.Lock()
	ordersSvc := serviceKey{name: "OrdersRemoteService", kind: config.SchemeRemoteCache}
	_, present := f.caches[ordersSvc][cacheKey{name: "orders-items", principal: "alice"}]
	f.mu.Unlock()
	if present {
		t.Fatalf("expected cache handle removed after ReleaseCache")
	}

	again, err := f.EnsureCache(context.Background(), "orders-items", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.State() == StateReleased {
		t.Fatalf("expected a fresh, non-released handle after re-ensure")
	}
}

func TestShutdownReleasesCachesAndStopsServices(t *testing.T) {
	f, svc := newTestFactory(t)

	ch, err := f.EnsureCache(context.Background(), "orders-items", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ch.ensure(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.Shutdown()

	if ch.State() != StateReleased {
		t.Fatalf("expected cache handle released after Shutdown, got state %v", ch.State())
	}
	if svc.IsRunning() {
		t.Fatalf("expected service stopped after Shutdown")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.services) != 0 || len(f.caches) != 0 {
		t.Fatalf("expected empty registries after Shutdown")
	}
}

func TestFactoryQueuesLogsBeforeLoggerReady(t *testing.T) {
	f, _ := newTestFactory(t)

	if _, err := f.EnsureCache(context.Background(), "orders-items", "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.mu.Lock()
	queued := len(f.queuedLogs)
	f.mu.Unlock()
	if queued == 0 {
		t.Fatalf("expected at least one log message queued before logger install")
	}
}
