package util

import "testing"

func TestRoundup(t *testing.T) {
	cases := []struct{ v, b, want uintptr }{
		{0, 4096, 0},
		{1, 4096, 4096},
		{4096, 4096, 4096},
		{4097, 4096, 8192},
	}
	for _, c := range cases {
		if got := Roundup(c.v, c.b); got != c.want {
			t.Errorf("Roundup(%d, %d) = %d, want %d", c.v, c.b, got, c.want)
		}
	}
}

func TestLog2Ceil(t *testing.T) {
	cases := []struct {
		v    uint64
		want int
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{3, 2},
		{4, 2},
		{5, 3},
		{1024, 10},
	}
	for _, c := range cases {
		if got := Log2Ceil(c.v); got != c.want {
			t.Errorf("Log2Ceil(%d) = %d, want %d", c.v, got, c.want)
		}
	}
}
