package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7Unique(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gen()
		if len(id) != 36 {
			t.Fatalf("id %q length = %d, want 36", id, len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestNanoID(t *testing.T) {
	gen := NanoID(12)
	id := gen()
	if len(id) != 12 {
		t.Fatalf("length = %d, want 12", len(id))
	}
	for _, r := range id {
		if !strings.ContainsRune("0123456789abcdefghijklmnopqrstuvwxyz", r) {
			t.Fatalf("id %q contains %q outside alphabet", id, r)
		}
	}
	if gen() == id && gen() == id {
		t.Fatalf("generator keeps returning %q", id)
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("sess_", func() string { return "fixed" })
	if got := gen(); got != "sess_fixed" {
		t.Fatalf("Prefixed = %q", got)
	}
}

func TestNewID(t *testing.T) {
	id := NewID("snap_")
	if !strings.HasPrefix(id, "snap_") {
		t.Fatalf("NewID = %q, want snap_ prefix", id)
	}
	if len(id) != len("snap_")+36 {
		t.Fatalf("NewID length = %d", len(id))
	}
}
