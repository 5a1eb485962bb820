package server

import "testing"

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", defaultLimit},
		{"5", 5},
		{"0", defaultLimit},
		{"-3", defaultLimit},
		{"junk", defaultLimit},
		{"1000", maxLimit},
	}
	for _, c := range cases {
		if got := parseLimit(c.in); got != c.want {
			t.Fatalf("parseLimit(%q)=%d want %d", c.in, got, c.want)
		}
	}
}
