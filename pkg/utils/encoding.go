// Package utils provides serialization utilities shared across the
// cache engine and its companion services.
//
// Two encodings are used deliberately for two different jobs:
//   - JSON (stdlib encoding/json) for anything a human or an external
//     HTTP caller might read: admin responses, pub/sub event payloads,
//     audit records.
//   - MsgPack (github.com/vmihailenco/msgpack/v5) for the cache
//     envelope itself — a binary handoff between processes (L2 values,
//     the serialized form inside an Entry) where compactness and decode
//     speed matter and nothing ever looks at it by eye.
package utils

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MarshalMsgPack encodes v using MessagePack.
func MarshalMsgPack(v interface{}) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal: %w", err)
	}
	return data, nil
}

// UnmarshalMsgPack decodes MessagePack bytes into dst.
func UnmarshalMsgPack(data []byte, dst interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("cannot unmarshal empty data")
	}
	if err := msgpack.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("msgpack unmarshal: %w", err)
	}
	return nil
}

// MarshalJSON is a convenience wrapper for encoding arbitrary data for
// human-facing surfaces (admin API, audit log, pub/sub events).
func MarshalJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// UnmarshalJSON is a convenience wrapper for decoding arbitrary JSON.
func UnmarshalJSON(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("cannot unmarshal empty data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}

// PrettyJSON formats JSON with indentation for human readability. Used
// by the admin debug surface.
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
