package portable

import (
	"fmt"

	"encore.app/pkg/utils"
)

// TypeTag identifies a portable type on the wire, analogous to POF's
// user-type-id. Filters/extractors/processors register themselves
// under a stable tag so a generic decoder can reconstruct the right Go
// type from an encoded stream.
type TypeTag string

// Factory builds a zero-value instance of the type registered under a
// TypeTag, ready to have ReadExternal called on it.
type Factory func() PortableObject

var registry = make(map[TypeTag]Factory)

// Register associates tag with factory. Called from init() in the
// packages that define portable types (pkg/filter, pkg/processor),
// matching spec.md §6's requirement that wire type identity be stable
// and centrally reserved.
func Register(tag TypeTag, factory Factory) {
	if _, exists := registry[tag]; exists {
		panic(fmt.Sprintf("portable: type tag %q already registered", tag))
	}
	registry[tag] = factory
}

// New constructs a zero-value PortableObject for tag, or an error if no
// type was registered under it.
func New(tag TypeTag) (PortableObject, error) {
	factory, ok := registry[tag]
	if !ok {
		return nil, fmt.Errorf("portable: no type registered for tag %q", tag)
	}
	return factory(), nil
}

// EncodeTagged wraps Encode's output with the type tag so DecodeTagged
// can dispatch to the right concrete type without the caller naming it.
func EncodeTagged(tag TypeTag, v PortableObject) ([]byte, error) {
	body, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return utils.MarshalJSON(taggedEnvelope{Tag: tag, Body: body})
}

// DecodeTagged reverses EncodeTagged, looking up the concrete type from
// its embedded tag.
func DecodeTagged(data []byte) (PortableObject, error) {
	var env taggedEnvelope
	if err := utils.UnmarshalJSON(data, &env); err != nil {
		return nil, err
	}
	v, err := New(env.Tag)
	if err != nil {
		return nil, err
	}
	if err := Decode(env.Body, v); err != nil {
		return nil, err
	}
	return v, nil
}

type taggedEnvelope struct {
	Tag  TypeTag `json:"tag"`
	Body []byte  `json:"body"`
}
