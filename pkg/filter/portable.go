package filter

import "encore.app/pkg/portable"

// Portable type tags for the filter variants that travel over the wire
// as independently addressable types. Only the variants spec.md §6
// calls out by name reserve explicit property indexes here; the rest
// of the tagged union follows the identical WriteProperty/ReadProperty
// pattern when a transport needs them.
const (
	tagComparisonFilter  portable.TypeTag = "filter.ComparisonFilter"
	tagCacheEventFilter  portable.TypeTag = "filter.CacheEventFilter"
	tagReflectionExtract portable.TypeTag = "filter.ReflectionExtractor"
)

func init() {
	portable.Register(tagComparisonFilter, func() portable.PortableObject { return &ComparisonFilter{} })
	portable.Register(tagCacheEventFilter, func() portable.PortableObject { return &CacheEventFilter{} })
	portable.Register(tagReflectionExtract, func() portable.PortableObject { return &ReflectionExtractor{} })
}

// WriteExternal encodes the extractor and reference value at the fixed
// indexes spec.md §6 reserves for comparison filters.
func (f *ComparisonFilter) WriteExternal(w portable.PofWriter) error {
	if err := w.WriteProperty(portable.IndexComparisonExtractor, extractorTag(f.Extractor)); err != nil {
		return err
	}
	if err := w.WriteProperty(portable.IndexComparisonOperator, string(f.Op)); err != nil {
		return err
	}
	return w.WriteProperty(portable.IndexComparisonValue, f.Value)
}

func (f *ComparisonFilter) ReadExternal(r portable.PofReader) error {
	extractorName, _, err := r.ReadProperty(portable.IndexComparisonExtractor)
	if err != nil {
		return err
	}
	if name, ok := extractorName.(string); ok {
		f.Extractor = ReflectionExtractor{FieldName: name}
	}
	op, _, err := r.ReadProperty(portable.IndexComparisonOperator)
	if err != nil {
		return err
	}
	if s, ok := op.(string); ok {
		f.Op = compOp(s)
	}
	value, _, err := r.ReadProperty(portable.IndexComparisonValue)
	if err != nil {
		return err
	}
	f.Value = value
	return nil
}

// WriteExternal encodes the value filter, event mask and synthetic mask
// at indexes 0, 1 and 10 respectively, per spec.md §6.
func (f *CacheEventFilter) WriteExternal(w portable.PofWriter) error {
	var sub any
	if cmp, ok := f.ValueFilter.(ComparisonFilter); ok {
		sub = extractorTag(cmp.Extractor)
	}
	if err := w.WriteProperty(portable.IndexCacheEventFilterValueFilter, sub); err != nil {
		return err
	}
	if err := w.WriteProperty(portable.IndexCacheEventFilterMask, uint8(f.Mask)); err != nil {
		return err
	}
	return w.WriteProperty(portable.IndexCacheEventFilterSynthetic, uint8(f.SyntheticMask))
}

func (f *CacheEventFilter) ReadExternal(r portable.PofReader) error {
	mask, _, err := r.ReadProperty(portable.IndexCacheEventFilterMask)
	if err != nil {
		return err
	}
	if n, ok := toUint8(mask); ok {
		f.Mask = EventMask(n)
	}
	synth, _, err := r.ReadProperty(portable.IndexCacheEventFilterSynthetic)
	if err != nil {
		return err
	}
	if n, ok := toUint8(synth); ok {
		f.SyntheticMask = SyntheticMask(n)
	}
	return nil
}

func (f *ReflectionExtractor) WriteExternal(w portable.PofWriter) error {
	return w.WriteProperty(0, f.FieldName)
}

func (f *ReflectionExtractor) ReadExternal(r portable.PofReader) error {
	v, _, err := r.ReadProperty(0)
	if err != nil {
		return err
	}
	if s, ok := v.(string); ok {
		f.FieldName = s
	}
	return nil
}

func extractorTag(e Extractor) string {
	if r, ok := e.(ReflectionExtractor); ok {
		return r.FieldName
	}
	return ""
}

func toUint8(v any) (uint8, bool) {
	switch n := v.(type) {
	case float64:
		return uint8(n), true
	case uint8:
		return n, true
	case int:
		return uint8(n), true
	default:
		return 0, false
	}
}
