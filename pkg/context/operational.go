// Package context owns process identity and the registries (filter,
// serializer, address-provider factories) every resolved scheme draws
// from. It is parsed once, eagerly, and treated as immutable afterward.
//
// Design Notes:
//   - Hostname and cluster-name defaults are derived the same way the
//     teacher's services derive their own identity at startup (via
//     os.Hostname / current OS user), rather than requiring every
//     deployment to set them explicitly.
//   - Registries are plain maps of factory functions, not a reflective
//     type registry - consistent with pkg/config's tagged-union
//     approach to "pluggable instantiation".
package context

import (
	"fmt"
	"os"
	"os/user"
)

// Edition enumerates the small set of product editions this core
// recognizes. Unknown values are rejected at parse time.
type Edition string

const (
	EditionCommunity  Edition = "community"
	EditionEnterprise Edition = "enterprise"
	EditionGrid       Edition = "grid-edition"
)

var validEditions = map[Edition]bool{
	EditionCommunity:  true,
	EditionEnterprise: true,
	EditionGrid:       true,
}

// Identity is the local member's position in the cluster topology.
type Identity struct {
	Cluster string
	Site    string
	Rack    string
	Machine string
	Process string
	Member  string
	Role    string
}

// FilterFactory constructs a named stream filter (e.g. gzip compression).
type FilterFactory func(params map[string]string) (Filter, error)

// Filter is the stream-compression contract; the actual wire
// implementation lives outside this core (spec.md §1).
type Filter interface {
	Name() string
}

// SerializerFactory constructs a named serializer (e.g. "pof").
type SerializerFactory func(params map[string]string) (Serializer, error)

// Serializer is the portable-object serialization contract; the codec
// itself lives outside this core (spec.md §1).
type Serializer interface {
	Name() string
}

// IdentityAsserter validates an asserted identity against policy.
type IdentityAsserter interface {
	Assert(token []byte) (principal string, err error)
}

// IdentityTransformer transforms an outbound identity before it is sent.
type IdentityTransformer interface {
	Transform(principal string) ([]byte, error)
}

// LogSettings controls how much the handle layer logs and where.
type LogSettings struct {
	Level  string
	Logger string // logger name, matches the teacher's per-package convention
}

// OperationalConfig is the input to NewOperationalContext: everything a
// deployment can override before identity defaults kick in.
type OperationalConfig struct {
	Edition    Edition
	Identity   Identity
	LogSettings LogSettings

	PrincipalScopingEnabled bool

	IdentityAsserter    IdentityAsserter
	IdentityTransformer IdentityTransformer
}

// OperationalContext is the immutable, eagerly-parsed result of
// NewOperationalContext.
type OperationalContext struct {
	Edition  Edition
	Identity Identity

	FilterFactories         map[string]FilterFactory
	SerializerFactories     map[string]SerializerFactory
	AddressProviderFactories map[string]func(params map[string]string) (any, error)

	IdentityAsserter    IdentityAsserter
	IdentityTransformer IdentityTransformer
	PrincipalScopingEnabled bool

	LogSettings LogSettings
}

// gzipFilter is the default stream-compression filter every operational
// context must register, per spec.md §4.3.
type gzipFilter struct{}

func (gzipFilter) Name() string { return "gzip" }

// pofSerializer is the default serializer every operational context
// must register, per spec.md §4.3. The real portable-object encoder is
// external (spec.md §1); this stands in as the registry entry.
type pofSerializer struct{}

func (pofSerializer) Name() string { return "pof" }

// NewOperationalContext parses cfg and fills in host-derived defaults,
// registering the mandatory "gzip" filter and "pof" serializer entries.
func NewOperationalContext(cfg OperationalConfig) (*OperationalContext, error) {
	if cfg.Edition == "" {
		cfg.Edition = EditionCommunity
	}
	if !validEditions[cfg.Edition] {
		return nil, fmt.Errorf("context: unknown edition %q", cfg.Edition)
	}

	id := cfg.Identity
	if id.Machine == "" {
		if host, err := os.Hostname(); err == nil {
			id.Machine = host
		}
	}
	if id.Cluster == "" {
		if u, err := user.Current(); err == nil {
			id.Cluster = u.Username + "-cluster"
		} else {
			id.Cluster = "default-cluster"
		}
	}
	if id.Process == "" {
		id.Process = fmt.Sprintf("pid-%d", os.Getpid())
	}

	oc := &OperationalContext{
		Edition:  cfg.Edition,
		Identity: id,

		FilterFactories: map[string]FilterFactory{
			"gzip": func(map[string]string) (Filter, error) { return gzipFilter{}, nil },
		},
		SerializerFactories: map[string]SerializerFactory{
			"pof": func(map[string]string) (Serializer, error) { return pofSerializer{}, nil },
		},
		AddressProviderFactories: map[string]func(map[string]string) (any, error){},

		IdentityAsserter:    cfg.IdentityAsserter,
		IdentityTransformer: cfg.IdentityTransformer,
		PrincipalScopingEnabled: cfg.PrincipalScopingEnabled,

		LogSettings: cfg.LogSettings,
	}

	return oc, nil
}

// RegisterFilterFactory adds or overrides a named filter factory.
func (oc *OperationalContext) RegisterFilterFactory(name string, f FilterFactory) {
	oc.FilterFactories[name] = f
}

// RegisterSerializerFactory adds or overrides a named serializer factory.
func (oc *OperationalContext) RegisterSerializerFactory(name string, f SerializerFactory) {
	oc.SerializerFactories[name] = f
}

// ScopePrincipal returns the principal component to use when keying the
// per-service cache handle registry: the real principal when scoping is
// enabled, or a fixed wildcard otherwise (spec.md §3).
func (oc *OperationalContext) ScopePrincipal(principal string) string {
	if !oc.PrincipalScopingEnabled {
		return "*"
	}
	return principal
}
