package store

import (
	"testing"
)

func TestToJSONAndBack(t *testing.T) {
	b := toJSON([]string{"order.created", "refund.created"})
	got := fromJSONStrings(b)
	if len(got) != 2 || got[0] != "order.created" || got[1] != "refund.created" {
		t.Fatalf("round trip: %v", got)
	}
	if got := fromJSONStrings([]byte("not json")); got != nil {
		t.Fatalf("invalid json should yield nil, got %v", got)
	}
	if got := fromJSONStrings(nil); got != nil {
		t.Fatalf("nil input should yield nil, got %v", got)
	}
}

func TestNullIfEmpty(t *testing.T) {
	if v := nullIfEmpty(""); v != nil {
		t.Fatalf("empty -> nil expected")
	}
	if v := nullIfEmpty("b1"); v != "b1" {
		t.Fatalf("non-empty should pass through, got %v", v)
	}
}
