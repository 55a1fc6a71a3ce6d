package utils

import (
	"testing"
)

func TestMarshalUnmarshalMsgPack(t *testing.T) {
	type payload struct {
		Key   string
		Value []byte
		Count int
	}

	p := &payload{Key: "user:123", Value: []byte("test data"), Count: 42}

	data, err := MarshalMsgPack(p)
	if err != nil {
		t.Fatalf("MarshalMsgPack() error = %v", err)
	}
	if len(data) == 0 {
		t.Fatal("MarshalMsgPack() returned empty data")
	}

	var decoded payload
	if err := UnmarshalMsgPack(data, &decoded); err != nil {
		t.Fatalf("UnmarshalMsgPack() error = %v", err)
	}

	if decoded.Key != p.Key || string(decoded.Value) != string(p.Value) || decoded.Count != p.Count {
		t.Errorf("UnmarshalMsgPack() = %+v, want %+v", decoded, p)
	}
}

func TestUnmarshalMsgPack_Empty(t *testing.T) {
	var dst any
	if err := UnmarshalMsgPack(nil, &dst); err == nil {
		t.Error("UnmarshalMsgPack(empty) should return error")
	}
}

func TestMarshalUnmarshalJSON(t *testing.T) {
	data := map[string]any{
		"name":  "test",
		"count": 42,
		"tags":  []string{"tag1", "tag2"},
	}

	encoded, err := MarshalJSON(data)
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}

	var decoded map[string]any
	if err := UnmarshalJSON(encoded, &decoded); err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}

	if decoded["name"] != data["name"] {
		t.Errorf("name = %v, want %v", decoded["name"], data["name"])
	}
	if decoded["count"].(float64) != float64(data["count"].(int)) {
		t.Errorf("count = %v, want %v", decoded["count"], data["count"])
	}
}

func TestUnmarshalJSON_Empty(t *testing.T) {
	var v any
	if err := UnmarshalJSON([]byte{}, &v); err == nil {
		t.Error("UnmarshalJSON(empty) should return error")
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

	var v any
	if err := UnmarshalJSON(pretty, &v); err != nil {
		t.Errorf("PrettyJSON() produced invalid JSON: %v", err)
	}
}

func TestPrettyJSON_Invalid(t *testing.T) {
	_, err := PrettyJSON([]byte("invalid json"))
	if err == nil {
		t.Error("PrettyJSON(invalid) should return error")
	}
}

func BenchmarkMarshalMsgPack(b *testing.B) {
	type payload struct {
		Key   string
		Value []byte
		Count int
	}
	p := &payload{Key: "user:123", Value: []byte("test data with some content"), Count: 42}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = MarshalMsgPack(p)
	}
}
