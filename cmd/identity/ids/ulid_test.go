package ids

import (
	"testing"
	"time"
)

func TestNewULID_SortsByTime(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	a, err := NewULID(base)
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	b, err := NewULID(base.Add(time.Second))
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}

	if len(a) != 26 || len(b) != 26 {
		t.Fatalf("unexpected ulid lengths: %d %d", len(a), len(b))
	}
	if !(a < b) {
		t.Fatalf("expected %q < %q", a, b)
	}
	if !Valid(a) || !Valid(b) {
		t.Fatalf("expected generated ids to be valid")
	}
}

func TestValid_RejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "abc", "01HZZZZZZZZZZZZZZZZZZZZZZZZZ"} {
		if Valid(in) {
			t.Fatalf("Valid(%q)=true want false", in)
		}
	}
}

func TestMustULID_ZeroTime(t *testing.T) {
	t.Parallel()

	if got := MustULID(time.Time{}); !Valid(got) {
		t.Fatalf("MustULID returned invalid id %q", got)
	}
}
