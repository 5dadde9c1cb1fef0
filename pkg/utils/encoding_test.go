package utils

import (
	"testing"
	"time"

	"encore.app/monitoring"
)

func TestMarshalUnmarshalEvent_CacheMetricEvent(t *testing.T) {
	now := time.Now().Truncate(time.Second)

	event := &monitoring.CacheMetricEvent{
		Operation: "restart",
		Key:       "orders-items",
		Latency:   1.5,
		Timestamp: now,
		Instance:  "alice",
	}

	data, err := MarshalEvent(event)
	if err != nil {
		t.Fatalf("MarshalEvent() error = %v", err)
	}

	var decoded monitoring.CacheMetricEvent
	if err := UnmarshalEvent(data, &decoded); err != nil {
		t.Fatalf("UnmarshalEvent() error = %v", err)
	}

	if decoded.Operation != event.Operation {
		t.Errorf("Operation = %v, want %v", decoded.Operation, event.Operation)
	}

	if decoded.Key != event.Key {
		t.Errorf("Key = %v, want %v", decoded.Key, event.Key)
	}

	if decoded.Instance != event.Instance {
		t.Errorf("Instance = %v, want %v", decoded.Instance, event.Instance)
	}

	if !decoded.Timestamp.Equal(event.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, event.Timestamp)
	}
}

func TestMarshalEvent_Nil(t *testing.T) {
	_, err := MarshalEvent(nil)
	if err == nil {
		t.Error("MarshalEvent(nil) should return error")
	}
}

func TestUnmarshalEvent_Nil(t *testing.T) {
	err := UnmarshalEvent([]byte("{}"), nil)
	if err == nil {
		t.Error("UnmarshalEvent() with nil pointer should return error")
	}
}

func TestUnmarshalEvent_Empty(t *testing.T) {
	var event monitoring.CacheMetricEvent
	err := UnmarshalEvent([]byte{}, &event)
	if err == nil {
		t.Error("UnmarshalEvent(empty) should return error")
	}
}

func TestMarshalUnmarshalJSON(t *testing.T) {
	data := map[string]interface{}{
		"name":  "test",
		"count": 42,
		"tags":  []string{"tag1", "tag2"},
	}

	encoded, err := MarshalJSON(data)
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}

	var decoded map[string]interface{}
	err = UnmarshalJSON(encoded, &decoded)
	if err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}

	if decoded["name"] != data["name"] {
		t.Errorf("name = %v, want %v", decoded["name"], data["name"])
	}

	// Note: JSON unmarshals numbers as float64
	if decoded["count"].(float64) != float64(data["count"].(int)) {
		t.Errorf("count = %v, want %v", decoded["count"], data["count"])
	}
}

func TestCompactJSON(t *testing.T) {
	pretty := []byte(`{
  "name": "test",
  "count": 42
}`)

	compacted, err := CompactJSON(pretty)
	if err != nil {
		t.Fatalf("CompactJSON() error = %v", err)
	}

	expected := `{"name":"test","count":42}`
	if string(compacted) != expected {
		t.Errorf("CompactJSON() = %s, want %s", string(compacted), expected)
	}
}

func TestCompactJSON_Invalid(t *testing.T) {
	_, err := CompactJSON([]byte("invalid json"))
	if err == nil {
		t.Error("CompactJSON(invalid) should return error")
	}
}

func TestPrettyJSON(t *testing.T) {
	compact := []byte(`{"name":"test","count":42}`)

	pretty, err := PrettyJSON(compact)
	if err != nil {
		t.Fatalf("PrettyJSON() error = %v", err)
	}

	if len(pretty) <= len(compact) {
		t.Error("PrettyJSON() should produce larger output with formatting")
	}

	var v interface{}
	err = UnmarshalJSON(pretty, &v)
	if err != nil {
		t.Errorf("PrettyJSON() produced invalid JSON: %v", err)
	}
}

func TestPrettyJSON_Invalid(t *testing.T) {
	_, err := PrettyJSON([]byte("invalid json"))
	if err == nil {
		t.Error("PrettyJSON(invalid) should return error")
	}
}

func TestEstimateEncodedSize(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  int // Approximate expected size
	}{
		{"empty map", map[string]string{}, 2},           // "{}"
		{"small string", "hello", 7},                     // "hello"
		{"number", 42, 2},                                // "42"
		{"array", []int{1, 2, 3}, 7},                     // "[1,2,3]"
		{"nested", map[string]int{"a": 1, "b": 2}, 13},   // Approx
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := EstimateEncodedSize(tt.value)

			// Allow some variance for encoding overhead
			if size < tt.want-2 || size > tt.want+10 {
				t.Errorf("EstimateEncodedSize() = %d, want ~%d", size, tt.want)
			}
		})
	}
}

func TestEstimateEncodedSize_Invalid(t *testing.T) {
	// Channels cannot be marshaled
	ch := make(chan int)
	size := EstimateEncodedSize(ch)
	if size != 0 {
		t.Errorf("EstimateEncodedSize(unmarshalable) = %d, want 0", size)
	}
}

func BenchmarkMarshalEvent(b *testing.B) {
	event := &monitoring.CacheMetricEvent{
		Operation: "restart",
		Key:       "orders-items",
		Timestamp: time.Now(),
		Instance:  "alice",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		MarshalEvent(event)
	}
}
