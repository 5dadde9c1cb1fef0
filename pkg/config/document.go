package config

import "fmt"

// Document is the parsed <cache-config>: a cache-name to scheme-name
// mapping plus the named scheme definitions those mappings refer to.
type Document struct {
	Mappings []CacheMapping
	Schemes  map[string]*Element // scheme-name -> scheme root element
}

// CacheMapping maps a cache-name pattern to a scheme-name plus
// init-params threaded through macro expansion.
type CacheMapping struct {
	Pattern    string
	SchemeName string
	InitParams map[string]string
}

// NewDocument validates the mappings and scheme table and returns a
// ready-to-query Document. Validation here is structural only (duplicate
// service names, malformed wildcards); ref-cycle detection happens
// lazily in ResolveScheme since it requires knowing which scheme is
// actually requested.
func NewDocument(mappings []CacheMapping, schemes map[string]*Element) (*Document, error) {
	for _, m := range mappings {
		if err := validatePattern(m.Pattern); err != nil {
			return nil, fmt.Errorf("config: mapping %q: %w", m.Pattern, err)
		}
	}

	seenService := make(map[string]string) // service-name -> owning scheme-name
	for name, scheme := range schemes {
		if scheme.ServiceName == "" {
			continue
		}
		if owner, ok := seenService[scheme.ServiceName]; ok && owner != name {
			return nil, fmt.Errorf("config: duplicate service-name %q on schemes %q and %q", scheme.ServiceName, owner, name)
		}
		seenService[scheme.ServiceName] = name
	}

	return &Document{Mappings: mappings, Schemes: schemes}, nil
}

func validatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty pattern")
	}
	if pattern == "*" {
		return nil
	}
	idx := -1
	for i, r := range pattern {
		if r == '*' {
			if idx != -1 {
				return fmt.Errorf("pattern has more than one wildcard")
			}
			idx = i
		}
	}
	if idx != -1 && idx != len(pattern)-1 {
		return fmt.Errorf("wildcard must be the final character")
	}
	return nil
}

// MappingResult is the outcome of resolving a cache name against the
// document's mapping table.
type MappingResult struct {
	SchemeName string
	Suffix     string // the text the trailing '*' matched, "" for exact matches
	InitParams map[string]string
}

// FindSchemeMapping resolves cacheName against the document's mapping
// list using exact > longest-matching-prefix > default precedence.
// Ties among equal-length prefixes are broken by first-encountered
// order in Mappings (spec.md §9's documented, deliberately-chosen
// tie-break).
func (d *Document) FindSchemeMapping(cacheName string) (MappingResult, error) {
	var exact *CacheMapping
	var bestPrefix *CacheMapping
	var bestPrefixLen = -1
	var defaultMapping *CacheMapping

	for i := range d.Mappings {
		m := &d.Mappings[i]
		switch {
		case m.Pattern == cacheName:
			if exact == nil {
				exact = m
			}
		case m.Pattern == "*":
			if defaultMapping == nil {
				defaultMapping = m
			}
		case len(m.Pattern) > 0 && m.Pattern[len(m.Pattern)-1] == '*':
			prefix := m.Pattern[:len(m.Pattern)-1]
			if len(prefix) > 0 && len(cacheName) >= len(prefix) && cacheName[:len(prefix)] == prefix {
				if len(prefix) > bestPrefixLen {
					bestPrefixLen = len(prefix)
					bestPrefix = m
				}
			}
		}
	}

	switch {
	case exact != nil:
		return MappingResult{SchemeName: exact.SchemeName, Suffix: "", InitParams: exact.InitParams}, nil
	case bestPrefix != nil:
		suffix := cacheName[bestPrefixLen:]
		return MappingResult{SchemeName: bestPrefix.SchemeName, Suffix: suffix, InitParams: bestPrefix.InitParams}, nil
	case defaultMapping != nil:
		return MappingResult{SchemeName: defaultMapping.SchemeName, Suffix: cacheName, InitParams: defaultMapping.InitParams}, nil
	default:
		return MappingResult{}, fmt.Errorf("config: no mapping matches cache name %q", cacheName)
	}
}
