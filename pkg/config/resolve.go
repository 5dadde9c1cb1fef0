package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// MacroInfo is the (cache-name, suffix, attribute-map) trio threaded
// through macro expansion while resolving a scheme for a specific cache.
type MacroInfo struct {
	CacheName string
	Suffix    string
	Attrs     map[string]string
}

// unresolvedSentinel is substituted for a macro this core cannot expand;
// its presence after substitution halts construction (spec.md §3).
const unresolvedSentinel = "\x00unresolved\x00"

// ResolveScheme resolves schemeName against the document: following
// scheme-ref chains (cloning and overlaying child wins on conflict),
// asserting kind agreement, detecting cycles, and applying macro
// substitution to every element in the result.
func (d *Document) ResolveScheme(schemeName string, info MacroInfo, requireChild bool) (*Element, error) {
	root, ok := d.Schemes[schemeName]
	if !ok {
		return nil, fmt.Errorf("config: unknown scheme %q", schemeName)
	}

	resolved, err := d.resolveRef(root, schemeName, map[string]bool{schemeName: true})
	if err != nil {
		return nil, err
	}

	if requireChild && len(resolved.Children) == 0 {
		return nil, fmt.Errorf("config: scheme %q requires at least one sub-element", schemeName)
	}

	if err := substituteTree(resolved, info); err != nil {
		return nil, err
	}

	return resolved, nil
}

// resolveRef implements the clone-then-recurse-then-overlay algorithm:
// if elem has a scheme-ref, fetch the base, assert kind match, recurse
// on the base, then overlay elem's own children on top (child wins).
func (d *Document) resolveRef(elem *Element, name string, visiting map[string]bool) (*Element, error) {
	clone := elem.Clone()

	if clone.SchemeRef == "" {
		return clone, nil
	}

	if clone.SchemeRef == name {
		return nil, fmt.Errorf("config: scheme %q references itself", name)
	}
	if visiting[clone.SchemeRef] {
		return nil, fmt.Errorf("config: cyclic scheme-ref chain involving %q", clone.SchemeRef)
	}

	base, ok := d.Schemes[clone.SchemeRef]
	if !ok {
		return nil, fmt.Errorf("config: scheme %q references unknown scheme %q", name, clone.SchemeRef)
	}
	if base.Kind != SchemeUnknown && clone.Kind != SchemeUnknown && base.Kind != clone.Kind {
		return nil, fmt.Errorf("config: scheme %q (kind %s) cannot ref scheme %q (kind %s)", name, clone.Kind, clone.SchemeRef, base.Kind)
	}

	visiting[clone.SchemeRef] = true
	resolvedBase, err := d.resolveRef(base, clone.SchemeRef, visiting)
	if err != nil {
		return nil, err
	}
	delete(visiting, clone.SchemeRef)

	merged := resolvedBase.Clone()
	if clone.Kind == SchemeUnknown {
		merged.Kind = resolvedBase.Kind
	} else {
		merged.Kind = clone.Kind
	}
	if clone.ServiceName != "" {
		merged.ServiceName = clone.ServiceName
	}
	for k, v := range clone.Attrs {
		if merged.Attrs == nil {
			merged.Attrs = map[string]string{}
		}
		merged.Attrs[k] = v
	}
	merged.Children = overlayChildren(resolvedBase.Children, clone.Children)
	merged.SchemeRef = ""
	merged.Name = clone.Name
	if clone.Value != "" {
		merged.Value = clone.Value
	}

	return merged, nil
}

// overlayChildren overlays child elements from override onto base,
// by Name: an override child with the same name replaces the base
// child at that position; override-only children are appended.
func overlayChildren(base, override []*Element) []*Element {
	if len(override) == 0 {
		return cloneAll(base)
	}

	result := make([]*Element, 0, len(base)+len(override))
	overridden := make(map[string]*Element, len(override))
	for _, c := range override {
		overridden[c.Name] = c
	}

	seen := make(map[string]bool)
	for _, b := range base {
		if o, ok := overridden[b.Name]; ok {
			result = append(result, o.Clone())
			seen[b.Name] = true
		} else {
			result = append(result, b.Clone())
		}
	}
	for _, o := range override {
		if !seen[o.Name] {
			result = append(result, o.Clone())
		}
	}
	return result
}

func cloneAll(elems []*Element) []*Element {
	out := make([]*Element, len(elems))
	for i, e := range elems {
		out[i] = e.Clone()
	}
	return out
}

// macroPattern matches {cache-name}, {manager-context}, and typed
// <param-type>{scheme-ref}</param-type><param-value>name</param-value>
// forms (the latter collapsed to its inner macro name for substitution
// purposes, since the type wrapper only matters to the instantiator).
var macroPattern = regexp.MustCompile(`\{([a-zA-Z0-9_.-]+)\}`)
var envInlinePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:\s+([^}]*))?\}`)

// substituteTree applies macro and environment substitution to every
// element's Value and Attrs, recursively.
func substituteTree(e *Element, info MacroInfo) error {
	var err error
	e.Value, err = substituteValue(e.Value, info)
	if err != nil {
		return err
	}
	for k, v := range e.Attrs {
		if sysProp, ok := e.Attrs["system-property"]; ok && k == "system-property" {
			_ = sysProp
			continue
		}
		nv, err := substituteValue(v, info)
		if err != nil {
			return err
		}
		e.Attrs[k] = nv
	}
	if sysProp, ok := e.Attrs["system-property"]; ok {
		if val, present := os.LookupEnv(sysProp); present {
			e.Value = val
		}
	}
	for _, c := range e.Children {
		if err := substituteTree(c, info); err != nil {
			return err
		}
	}
	return nil
}

func substituteValue(v string, info MacroInfo) (string, error) {
	if v == "" {
		return v, nil
	}

	v = envInlinePattern.ReplaceAllStringFunc(v, func(m string) string {
		sub := envInlinePattern.FindStringSubmatch(m)
		name, def := sub[1], sub[2]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return def
	})

	result := macroPattern.ReplaceAllStringFunc(v, func(m string) string {
		name := m[1 : len(m)-1]
		switch name {
		case "cache-name":
			return info.CacheName
		case "manager-context":
			return m // reserved literal, never substituted
		default:
			if info.Attrs != nil {
				if val, ok := info.Attrs[name]; ok {
					return val
				}
			}
			if name == "suffix" {
				return info.Suffix
			}
			return unresolvedSentinel
		}
	})

	if strings.Contains(result, unresolvedSentinel) {
		return "", fmt.Errorf("config: unresolved macro in value %q", v)
	}

	return result, nil
}
