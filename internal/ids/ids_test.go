package ids

import (
	"sort"
	"testing"
	"time"
)

func TestMonotonic(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var got []string
	for i := 0; i < 100; i++ {
		got = append(got, At(at))
	}
	if !sort.StringsAreSorted(got) {
		t.Fatal("ids minted in the same millisecond must sort in creation order")
	}
	seen := map[string]bool{}
	for _, id := range got {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestTime(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ts, err := Time(At(at))
	if err != nil {
		t.Fatal(err)
	}
	if !ts.Equal(at) {
		t.Fatalf("time = %v, want %v", ts, at)
	}
	if _, err := Time("not-a-ulid"); err == nil {
		t.Fatal("expected parse error")
	}
}
