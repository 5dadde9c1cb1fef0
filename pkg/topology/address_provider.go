// Package topology resolves the set of cluster endpoints a service handle
// may connect to, and tracks which one the transport last accepted.
//
// Design Notes:
//   - Hostnames are resolved lazily, on first cycle through, not at
//     construction time - config load must never touch the network.
//   - Resolved addresses for a config item are shuffled once per
//     resolution so that many client processes starting at once don't
//     all dial the same cluster member first.
//   - The provider is a single-threaded cursor by contract: callers are
//     expected to serialize NextAddress/Accept/Reject per connection
//     attempt, matching how a service handle drives it during restart.
//
// Trade-offs:
//   - A full unaccepted cycle resets the cursor rather than erroring
//     forever, so a transient all-down cluster recovers without the
//     caller needing to reconstruct the provider.
//   - Unresolvable hosts are skipped (not fatal) by default; strict mode
//     exists for callers who would rather fail fast on DNS problems.
package topology

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrExhausted is returned by NextAddress when a full cycle of configured
// items produced no accepted address.
var ErrExhausted = errors.New("topology: address list exhausted")

// ConfigAddress is one statically configured cluster endpoint.
type ConfigAddress struct {
	Host string
	Port int
}

// Address is a resolved, dialable endpoint.
type Address struct {
	IP   net.IP
	Port int
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.IP.String(), a.Port)
}

// Resolver abstracts hostname resolution so tests can avoid real DNS.
type Resolver interface {
	LookupHost(ctx context.Context, host string) (addrs []string, err error)
}

// netResolver adapts net.DefaultResolver to the Resolver interface.
type netResolver struct{}

func (netResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}

// Mode controls behavior when a configured host fails to resolve.
type Mode int

const (
	// ModeSafe skips unresolvable hosts, logging once per item.
	ModeSafe Mode = iota
	// ModeStrict raises immediately on the first resolution failure.
	ModeStrict
)

type resolvedItem struct {
	addrs     []Address
	resolved  bool
	loggedErr bool
}

// AddressProvider produces an ordered, shuffled-per-item sequence of
// resolvable endpoints, with accept/reject feedback from the caller.
type AddressProvider struct {
	mu       sync.Mutex
	items    []ConfigAddress
	resolved []resolvedItem
	resolver Resolver
	mode     Mode
	limiter  *rate.Limiter

	itemIdx int
	addrIdx int
	anchor  *Address // last-accepted address, tried first on next cycle
	accepted bool     // whether any address was accepted this cycle
}

// Option configures an AddressProvider at construction time.
type Option func(*AddressProvider)

// WithResolver overrides the default net.Resolver-backed lookup.
func WithResolver(r Resolver) Option {
	return func(p *AddressProvider) { p.resolver = r }
}

// WithMode sets safe or strict unresolvable-host handling.
func WithMode(m Mode) Option {
	return func(p *AddressProvider) { p.mode = m }
}

// New creates an address provider over the given static configuration.
// The list is not resolved until the first NextAddress call.
func New(items []ConfigAddress, opts ...Option) *AddressProvider {
	p := &AddressProvider{
		items:    items,
		resolved: make([]resolvedItem, len(items)),
		resolver: netResolver{},
		mode:     ModeSafe,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NextAddress returns the next candidate endpoint, resolving its
// configuration item lazily if needed. It returns (addr, true) on
// success, or (zero, false) once a full cycle produced no accept.
func (p *AddressProvider) NextAddress(ctx context.Context) (Address, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.items) == 0 {
		return Address{}, false
	}

	// Try the anchor first: the last address Accept() was called on.
	if p.anchor != nil && p.addrIdx == 0 && p.itemIdx == 0 && !p.accepted {
		addr := *p.anchor
		return addr, true
	}

	start := p.itemIdx
	for {
		item := &p.resolved[p.itemIdx]
		if !item.resolved {
			p.resolveItem(ctx, p.itemIdx)
		}

		if p.addrIdx < len(item.addrs) {
			addr := item.addrs[p.addrIdx]
			p.addrIdx++
			return addr, true
		}

		// Exhausted this item's addresses, advance.
		p.itemIdx = (p.itemIdx + 1) % len(p.items)
		p.addrIdx = 0

		if p.itemIdx == start {
			// Full cycle without an Accept().
			p.resetCycle()
			return Address{}, false
		}
	}
}

// resolveItem resolves and shuffles the addresses for items[idx].
// Must be called with p.mu held.
func (p *AddressProvider) resolveItem(ctx context.Context, idx int) {
	cfg := p.items[idx]
	item := &p.resolved[idx]

	if net.ParseIP(cfg.Host) != nil {
		item.addrs = []Address{{IP: net.ParseIP(cfg.Host), Port: cfg.Port}}
		item.resolved = true
		return
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return
	}

	hosts, err := p.resolver.LookupHost(ctx, cfg.Host)
	if err != nil {
		if p.mode == ModeStrict {
			panic(fmt.Sprintf("topology: strict mode: cannot resolve %q: %v", cfg.Host, err))
		}
		if !item.loggedErr {
			log.Printf("topology: skipping unresolvable host %q: %v", cfg.Host, err)
			item.loggedErr = true
		}
		item.resolved = true
		item.addrs = nil
		return
	}

	addrs := make([]Address, 0, len(hosts))
	for _, h := range hosts {
		ip := net.ParseIP(h)
		if ip == nil {
			continue
		}
		addrs = append(addrs, Address{IP: ip, Port: cfg.Port})
	}
	rand.Shuffle(len(addrs), func(i, j int) { addrs[i], addrs[j] = addrs[j], addrs[i] })

	item.addrs = addrs
	item.resolved = true
}

// resetCycle rewinds the cursor to the start of the item list, dropping
// the stale resolution state so hosts are re-resolved on the next pass.
// Must be called with p.mu held.
func (p *AddressProvider) resetCycle() {
	p.itemIdx = 0
	p.addrIdx = 0
	p.accepted = false
	for i := range p.resolved {
		p.resolved[i] = resolvedItem{loggedErr: p.resolved[i].loggedErr}
	}
}

// Accept marks the last address returned by NextAddress as good. It
// becomes the anchor tried first on the next NextAddress call after a
// cycle reset.
func (p *AddressProvider) Accept() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.accepted = true
	if p.addrIdx == 0 {
		return
	}
	item := p.resolved[p.itemIdx]
	last := item.addrs[p.addrIdx-1]
	p.anchor = &last
}

// Reject is advisory: the next NextAddress call simply advances.
func (p *AddressProvider) Reject(cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = cause
}
