// Package portable defines the wire contract that filters, extractors,
// triggers, aggregators and entry processors implement when they cross
// the transport boundary (spec.md §6). The actual wire codec — framing,
// transport, compression — lives outside this core; this package only
// fixes the property-index reservations every portable type must honor
// and offers a JSON-based reference codec so the rest of this module's
// tests don't need a real server to round-trip a value through.
//
// Backwards compatibility rule: once a type reserves a property index
// here, that index is never reused for a different field, even across
// later additions to the type.
package portable

import (
	"strconv"

	"encore.app/pkg/utils"
)

// PofWriter is the minimal write surface a PortableObject needs: an
// indexed sequence of property writes, mirroring the POF-style
// property-index wire format spec.md §6 describes.
type PofWriter interface {
	WriteProperty(index int, value any) error
}

// PofReader is the read-side counterpart of PofWriter.
type PofReader interface {
	ReadProperty(index int) (any, bool, error)
}

// PortableObject is implemented by every wire-serialisable filter,
// extractor, trigger, aggregator and entry processor.
type PortableObject interface {
	WriteExternal(w PofWriter) error
	ReadExternal(r PofReader) error
}

// Property index reservations (spec.md §6). These constants exist so
// that every PortableObject implementation in pkg/filter and
// pkg/processor references the same fixed indexes instead of each
// assigning its own, which is what backwards compatibility demands.
const (
	// CacheEventFilter: value filter, event mask, synthetic mask.
	IndexCacheEventFilterValueFilter = 0
	IndexCacheEventFilterMask        = 1
	IndexCacheEventFilterSynthetic   = 10

	// ComparisonFilter: extractor, operator, reference value.
	IndexComparisonExtractor = 0
	IndexComparisonOperator  = 1
	IndexComparisonValue     = 2

	// ChainedExtractor: ordered step list.
	IndexChainedSteps = 0

	// EntryExtractor-style event transformer: key extractor, value
	// extractor, transform mode.
	IndexEventTransformerKeyExtractor   = 0
	IndexEventTransformerValueExtractor = 1
	IndexEventTransformerMode           = 2

	// LimitFilter: page size, page index, cookie.
	IndexLimitPageSize = 0
	IndexLimitPage     = 1
	IndexLimitCookie   = 2

	// FilterTrigger: sub-filter, action.
	IndexFilterTriggerFilter = 0
	IndexFilterTriggerAction = 1
)

// jsonObjectWriter/jsonObjectReader below are a reference PofWriter/
// PofReader pair backed by a plain map, keyed by property index as a
// decimal string. They exist for tests exercising round-trip encode/
// decode without depending on the external POF codec.

type jsonObjectWriter struct {
	props map[string]any
}

// NewJSONWriter returns a PofWriter that accumulates properties into an
// in-memory map, retrievable via Bytes after WriteExternal returns.
func NewJSONWriter() *jsonObjectWriter {
	return &jsonObjectWriter{props: make(map[string]any)}
}

func (w *jsonObjectWriter) WriteProperty(index int, value any) error {
	w.props[propKey(index)] = value
	return nil
}

// Bytes serialises the accumulated properties as JSON.
func (w *jsonObjectWriter) Bytes() ([]byte, error) {
	return utils.MarshalJSON(w.props)
}

type jsonObjectReader struct {
	props map[string]any
}

// NewJSONReader builds a PofReader over previously serialised JSON
// bytes produced by jsonObjectWriter.Bytes.
func NewJSONReader(data []byte) (*jsonObjectReader, error) {
	props := make(map[string]any)
	if len(data) > 0 {
		if err := utils.UnmarshalJSON(data, &props); err != nil {
			return nil, err
		}
	}
	return &jsonObjectReader{props: props}, nil
}

func (r *jsonObjectReader) ReadProperty(index int) (any, bool, error) {
	v, ok := r.props[propKey(index)]
	return v, ok, nil
}

func propKey(index int) string {
	return strconv.Itoa(index)
}

// Encode writes v's portable form to JSON bytes via the reference codec.
func Encode(v PortableObject) ([]byte, error) {
	w := NewJSONWriter()
	if err := v.WriteExternal(w); err != nil {
		return nil, err
	}
	return w.Bytes()
}

// Decode populates v from JSON bytes produced by Encode.
func Decode(data []byte, v PortableObject) error {
	r, err := NewJSONReader(data)
	if err != nil {
		return err
	}
	return v.ReadExternal(r)
}
