package validation

import "testing"

func TestMatchesDomain(t *testing.T) {
	t.Parallel()

	domains := []string{"example.com", "Partner.NL"}
	cases := []struct {
		host string
		want bool
	}{
		{"example.com", true},
		{"sub.example.com", true},
		{"a.b.example.com", true},
		{"EXAMPLE.COM:8443", true},
		{"partner.nl", true},
		{"notexample.com", false},
		{"example.com.evil.org", false},
		{"other.org", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := MatchesDomain(tc.host, domains); got != tc.want {
			t.Fatalf("MatchesDomain(%q) = %v, want %v", tc.host, got, tc.want)
		}
	}
	if MatchesDomain("example.com", nil) {
		t.Fatalf("empty list must never match")
	}
}

func TestOriginHost(t *testing.T) {
	t.Parallel()

	if got := OriginHost("https://app.example.com:3000", "https://ignored.org/page"); got != "app.example.com" {
		t.Fatalf("expected origin host, got %q", got)
	}
	if got := OriginHost("", "https://www.example.com/listing/new?step=2"); got != "www.example.com" {
		t.Fatalf("expected referer host, got %q", got)
	}
	if got := OriginHost("null", ""); got != "" {
		t.Fatalf("expected empty host, got %q", got)
	}
}
