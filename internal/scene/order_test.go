package scene_test

import (
	"testing"

	"reel/internal/scene"
)

func TestIsPermutation(t *testing.T) {
	current := []string{"a", "b", "c"}
	cases := []struct {
		candidate []string
		want      bool
	}{
		{[]string{"b", "a", "c"}, true},
		{[]string{"a", "b"}, false},
		{[]string{"a", "a", "c"}, false},
		{[]string{"a", "b", "d"}, false},
		{[]string{"c", "b", "a"}, true},
	}
	for _, tc := range cases {
		if got := scene.IsPermutation(current, tc.candidate); got != tc.want {
			t.Fatalf("IsPermutation(%v) = %v, want %v", tc.candidate, got, tc.want)
		}
	}
}

func TestInsertAndRemove(t *testing.T) {
	order := []string{"a", "b", "c"}
	got := scene.Insert(order, "x", 1)
	if !scene.SameOrder(got, []string{"a", "x", "b", "c"}) {
		t.Fatalf("unexpected insert result %v", got)
	}
	got = scene.Insert(order, "y", 99)
	if !scene.SameOrder(got, []string{"a", "b", "c", "y"}) {
		t.Fatalf("out-of-range insert should append, got %v", got)
	}
	if !scene.SameOrder(order, []string{"a", "b", "c"}) {
		t.Fatalf("insert mutated input: %v", order)
	}

	rest, idx := scene.Remove(order, "b")
	if idx != 1 || !scene.SameOrder(rest, []string{"a", "c"}) {
		t.Fatalf("unexpected remove result %v at %d", rest, idx)
	}
	if _, idx := scene.Remove(order, "zz"); idx != -1 {
		t.Fatalf("expected -1 for missing id, got %d", idx)
	}
}

func TestReplaceKeepsPosition(t *testing.T) {
	order := []string{"a", "tmp-1", "c"}
	if !scene.Replace(order, "tmp-1", "b") {
		t.Fatal("expected replacement")
	}
	if !scene.SameOrder(order, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected order %v", order)
	}
	if scene.HasDuplicates(order) {
		t.Fatal("unexpected duplicates")
	}
}
