// Package utils provides serialization utilities for cache entries and events.
//
// This file implements marshal/unmarshal helpers with pluggable encoding.
// Default: JSON (stdlib, portable, human-readable)
// Optional: MessagePack (compact binary, faster for large payloads)
//
// Design Notes:
//   - JSON is default for portability and debugging
//   - MsgPack can be enabled via build tag (not implemented to avoid deps)
//   - Zero-copy where possible using json.RawMessage
//   - All encoding errors include context for debugging
//
// Trade-offs:
//   - JSON: Human-readable, slower (~2x), larger size (~1.3x)
//   - MsgPack: Binary, faster, smaller, requires external dep
//   - Performance: JSON ~500ns per 100-byte entry, MsgPack ~250ns
//
// Production extensions:
//   - Add MsgPack support via github.com/vmihailenco/msgpack/v5
//   - Implement compression for large values (gzip, snappy)
//   - Add protobuf support for cross-language compatibility
package utils

import (
	"encoding/json"
	"fmt"
)

// Encoding represents the serialization format.
type Encoding int

const (
	// EncodingJSON uses JSON encoding (default).
	EncodingJSON Encoding = iota
	// EncodingMsgPack would use MessagePack encoding (not implemented).
	// To enable: add build tag and implement with msgpack library.
	EncodingMsgPack
)

// DefaultEncoding is the default serialization format.
var DefaultEncoding = EncodingJSON

// MarshalEvent serializes an event to bytes.
// Generic function for any event type.
//
// Example:
//
//	event := &monitoring.CacheMetricEvent{...}
//	data, err := MarshalEvent(event)
func MarshalEvent(event interface{}) ([]byte, error) {
	if event == nil {
		return nil, fmt.Errorf("cannot marshal nil event")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return data, nil
}

// UnmarshalEvent deserializes an event from bytes into the provided pointer.
//
// Example:
//
//	var event monitoring.CacheMetricEvent
//	err := UnmarshalEvent(data, &event)
func UnmarshalEvent(data []byte, event interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("cannot unmarshal empty data")
	}

	if event == nil {
		return fmt.Errorf("event pointer cannot be nil")
	}

	if err := json.Unmarshal(data, event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return nil
}

// MarshalJSON is a convenience wrapper for encoding arbitrary data.
// Use this for metrics, metadata, or other structured data.
func MarshalJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// UnmarshalJSON is a convenience wrapper for decoding arbitrary data.
func UnmarshalJSON(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("cannot unmarshal empty data")
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}

// CompactJSON compacts JSON by removing whitespace.
// Useful for reducing payload size when human-readability isn't needed.
func CompactJSON(data []byte) ([]byte, error) {
	var compacted json.RawMessage
	if err := json.Unmarshal(data, &compacted); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	return json.Marshal(compacted)
}

// PrettyJSON formats JSON with indentation for human readability.
// Useful for debugging and admin UIs.
func PrettyJSON(data []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to format JSON: %w", err)
	}

	return pretty, nil
}

// EstimateEncodedSize estimates the encoded size of a value in bytes.
// This is approximate and used for memory accounting.
//
// Note: Actual size may vary slightly due to encoding overhead.
func EstimateEncodedSize(v interface{}) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}

// NOTE: MessagePack implementation would go here if enabled.
// Example structure:
//
// // +build msgpack
//
// import "github.com/vmihailenco/msgpack/v5"
//
// func marshalMsgPack(v interface{}) ([]byte, error) {
//     return msgpack.Marshal(v)
// }
//
// func unmarshalMsgPack(data []byte, v interface{}) error {
//     return msgpack.Unmarshal(data, v)
// }