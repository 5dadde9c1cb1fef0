package topology

import (
	"context"
	"errors"
	"testing"
)

type fakeResolver struct {
	hosts map[string][]string
	err   map[string]error
}

func (f fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if err, ok := f.err[host]; ok {
		return nil, err
	}
	return f.hosts[host], nil
}

func TestNextAddressCyclesAndExhausts(t *testing.T) {
	r := fakeResolver{hosts: map[string][]string{
		"a": {"10.0.0.1"},
		"b": {"10.0.0.2"},
	}}
	p := New([]ConfigAddress{{Host: "a", Port: 1}, {Host: "b", Port: 2}}, WithResolver(r))

	ctx := context.Background()
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		addr, ok := p.NextAddress(ctx)
		if !ok {
			t.Fatalf("expected address on iteration %d", i)
		}
		seen[addr.String()] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 distinct addresses, got %v", seen)
	}

	if _, ok := p.NextAddress(ctx); ok {
		t.Fatalf("expected exhaustion after full unaccepted cycle")
	}

	// After exhaustion, the cursor resets and addresses are available again.
	if _, ok := p.NextAddress(ctx); !ok {
		t.Fatalf("expected provider to recover after reset")
	}
}

func TestAcceptAnchorsAddress(t *testing.T) {
	r := fakeResolver{hosts: map[string][]string{"a": {"10.0.0.1"}}}
	p := New([]ConfigAddress{{Host: "a", Port: 9042}}, WithResolver(r))

	ctx := context.Background()
	addr, ok := p.NextAddress(ctx)
	if !ok {
		t.Fatalf("expected an address")
	}
	p.Accept()

	if addr.Port != 9042 {
		t.Fatalf("unexpected port: %d", addr.Port)
	}
}

func TestSafeModeSkipsUnresolvable(t *testing.T) {
	r := fakeResolver{err: map[string]error{"bad-host": errors.New("no such host")}}
	p := New([]ConfigAddress{{Host: "bad-host", Port: 1}}, WithResolver(r), WithMode(ModeSafe))

	ctx := context.Background()
	if _, ok := p.NextAddress(ctx); ok {
		t.Fatalf("expected no address for unresolvable host")
	}
}

func TestStrictModePanics(t *testing.T) {
	r := fakeResolver{err: map[string]error{"bad-host": errors.New("no such host")}}
	p := New([]ConfigAddress{{Host: "bad-host", Port: 1}}, WithResolver(r), WithMode(ModeStrict))

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic in strict mode")
		}
	}()
	ctx := context.Background()
	p.NextAddress(ctx)
}
