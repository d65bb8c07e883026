package idgen

import (
	"encoding/hex"
	"testing"
)

func TestTraceIDFormat(t *testing.T) {
	id := TraceID()
	if len(id) != 32 {
		t.Fatalf("trace ID length = %d, want 32", len(id))
	}
	if _, err := hex.DecodeString(id); err != nil {
		t.Errorf("trace ID is not valid hex: %s", id)
	}
}

func TestSpanIDFormatAndNonZero(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := SpanID()
		if len(id) != 16 {
			t.Fatalf("span ID length = %d, want 16", len(id))
		}
		if id == "0000000000000000" {
			t.Fatal("span ID must never be all-zero")
		}
		if _, err := hex.DecodeString(id); err != nil {
			t.Errorf("span ID is not valid hex: %s", id)
		}
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("risk_")
	if len(id) != len("risk_")+24 {
		t.Errorf("prefixed ID length = %d, want %d", len(id), len("risk_")+24)
	}
	if id[:5] != "risk_" {
		t.Errorf("prefix missing: %s", id)
	}
}

func TestUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := TraceID()
		if seen[id] {
			t.Fatalf("duplicate trace ID: %s", id)
		}
		seen[id] = true
	}
}
