package filter

import (
	"testing"

	"encore.app/pkg/portable"
)

func TestComparisonFilterPortableRoundTrip(t *testing.T) {
	orig := Equals(NewReflectionExtractor("Name"), "alice")
	data, err := portable.Encode(&orig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded ComparisonFilter
	if err := portable.Decode(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Op != opEquals || decoded.Value != "alice" {
		t.Fatalf("round-trip mismatch: got %+v", decoded)
	}
	if r, ok := decoded.Extractor.(ReflectionExtractor); !ok || r.FieldName != "Name" {
		t.Fatalf("expected extractor field Name, got %+v", decoded.Extractor)
	}
}

func TestCacheEventFilterPortableRoundTrip(t *testing.T) {
	orig := NewCacheEventFilter(Equals(NewReflectionExtractor("Status"), "active"), MaskInserted|MaskDeleted, MaskNatural)
	data, err := portable.Encode(&orig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded CacheEventFilter
	if err := portable.Decode(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Mask != orig.Mask || decoded.SyntheticMask != orig.SyntheticMask {
		t.Fatalf("round-trip mismatch: got mask=%v synthetic=%v", decoded.Mask, decoded.SyntheticMask)
	}
}
