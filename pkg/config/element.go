// Package config resolves the cache/service configuration tree: scheme
// inheritance via scheme-ref, macro substitution, and cache-name to
// scheme-instance mapping.
//
// Design Notes:
//   - The scheme tree is represented as a language-agnostic tagged-union
//     Element (Kind/Name/Attrs/Children/Value), matching the shared
//     "element" type the client core's design notes call for, rather
//     than unmarshaling straight into Go structs per scheme kind.
//   - File I/O and XML parsing are out of scope (see spec.md §1); the
//     only supported loader here decodes the same tree shape from JSON,
//     which is the encoding every other teacher package already uses
//     (pkg/utils/encoding.go). A real XML/YAML frontend is expected to
//     build the same Element tree and call ResolveScheme directly.
package config

import (
	"encoding/json"
	"fmt"
)

// SchemeKind identifies the family of scheme a config Element describes.
type SchemeKind string

const (
	SchemeLocal            SchemeKind = "local"
	SchemeClass            SchemeKind = "class"
	SchemeNear             SchemeKind = "near"
	SchemeRemoteCache      SchemeKind = "remote-cache"
	SchemeRemoteInvocation SchemeKind = "remote-invocation"
	SchemeView             SchemeKind = "view"
	SchemeUnknown          SchemeKind = "unknown"
)

// Element is the shared tagged-union node type for the whole
// configuration tree: scheme definitions, sub-elements, and init-params
// all use it.
type Element struct {
	Kind     SchemeKind         `json:"kind,omitempty"`
	Name     string             `json:"name"`
	Attrs    map[string]string  `json:"attrs,omitempty"`
	Children []*Element         `json:"children,omitempty"`
	Value    string             `json:"value,omitempty"`

	// SchemeName/SchemeRef/ServiceName are only meaningful on elements
	// that head a <caching-schemes> entry.
	SchemeName  string `json:"scheme_name,omitempty"`
	SchemeRef   string `json:"scheme_ref,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// Clone deep-copies an element and its children.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Attrs != nil {
		clone.Attrs = make(map[string]string, len(e.Attrs))
		for k, v := range e.Attrs {
			clone.Attrs[k] = v
		}
	}
	if e.Children != nil {
		clone.Children = make([]*Element, len(e.Children))
		for i, c := range e.Children {
			clone.Children[i] = c.Clone()
		}
	}
	return &clone
}

// Child returns the first direct child with the given name, or nil.
func (e *Element) Child(name string) *Element {
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every direct child with the given name.
func (e *Element) ChildrenNamed(name string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// LoadElementTree decodes a configuration document from its JSON
// representation. This is the only built-in loader; a real deployment's
// XML/YAML frontend is expected to produce an equivalent *Element tree
// and hand it to ResolveScheme / FindSchemeMapping directly.
func LoadElementTree(data []byte) (*Element, error) {
	var root Element
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("config: decode element tree: %w", err)
	}
	return &root, nil
}

// TranslateSchemeType maps a scheme element's declared name to its kind.
// Unrecognized names resolve to SchemeUnknown rather than erroring, since
// a scheme can be a class-scheme alias for a type this core doesn't know
// about.
func TranslateSchemeType(name string) SchemeKind {
	switch name {
	case "local-scheme":
		return SchemeLocal
	case "class-scheme":
		return SchemeClass
	case "near-scheme":
		return SchemeNear
	case "remote-cache-scheme":
		return SchemeRemoteCache
	case "remote-invocation-scheme":
		return SchemeRemoteInvocation
	case "view-scheme":
		return SchemeView
	default:
		return SchemeUnknown
	}
}
