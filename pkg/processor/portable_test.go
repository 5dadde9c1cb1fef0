package processor

import (
	"testing"

	"encore.app/pkg/portable"
)

func TestFilterTriggerPortableRoundTrip(t *testing.T) {
	orig := NewFilterTrigger(acceptAbove{10}, ActionRemove)
	data, err := portable.Encode(&orig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded FilterTrigger
	if err := portable.Decode(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Action != ActionRemove {
		t.Fatalf("expected ActionRemove, got %v", decoded.Action)
	}
}
