package ids

import (
	"testing"
	"time"
)

func TestNewIsSortableAndValid(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := NewAt(at)
	b := NewAt(at)
	if len(a) != 26 || !Valid(a) {
		t.Fatalf("malformed id %q", a)
	}
	if !(a < b) {
		t.Fatalf("ids within the same millisecond must stay ordered: %s >= %s", a, b)
	}
	if c := NewAt(at.Add(time.Second)); !(b < c) {
		t.Fatalf("later id sorts first: %s >= %s", b, c)
	}
}

func TestValid(t *testing.T) {
	for _, s := range []string{"", "abc", "01J0000000000000000DESK00O", "../../etc/passwd"} {
		if Valid(s) {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
	if !Valid(New()) {
		t.Fatal("fresh id rejected")
	}
}
