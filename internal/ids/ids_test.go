package ids

import "testing"

func TestNewIsSortableAndValid(t *testing.T) {
	prev := ""
	for range 100 {
		id := New()
		if !Valid(id) {
			t.Fatalf("invalid id %q", id)
		}
		if id <= prev {
			t.Fatalf("ids not increasing: %q <= %q", id, prev)
		}
		prev = id
	}
	if Valid("role-admin") {
		t.Fatal("expected non-ULID to be rejected")
	}
}
