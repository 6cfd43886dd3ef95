package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNanoID_LengthAndAlphabet(t *testing.T) {
	for _, length := range []int{8, 20, 64} {
		id := NanoID(length)()
		if len(id) != length {
			t.Fatalf("NanoID(%d): got length %d", length, len(id))
		}
		for _, c := range id {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
				t.Fatalf("NanoID: unexpected character %q in %q", c, id)
			}
		}
	}
}

func TestBlob_Uniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := Blob()
		if _, ok := seen[id]; ok {
			t.Fatalf("Blob: duplicate at iteration %d: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestContext_Prefix(t *testing.T) {
	id := Context()
	if !strings.HasPrefix(id, "ctx_") {
		t.Fatalf("Context: expected ctx_ prefix, got %q", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "ctx_")); err != nil {
		t.Fatalf("Context: suffix is not a UUID: %v", err)
	}
}

func TestUUIDv7_Version(t *testing.T) {
	u, err := uuid.Parse(UUIDv7()())
	if err != nil {
		t.Fatal(err)
	}
	if u.Version() != 7 {
		t.Fatalf("UUIDv7: version %d, want 7", u.Version())
	}
}
