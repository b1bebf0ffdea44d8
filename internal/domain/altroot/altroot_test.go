package altroot

import "testing"

func TestParseURL(t *testing.T) {
	tests := []struct {
		raw  string
		ok   bool
		want URL
	}{
		{"http://x.bit/page", true, URL{Scheme: "http", Domain: "x.bit", TLD: "bit"}},
		{"https://sub.site.lib:8443/", true, URL{Scheme: "https", Domain: "sub.site.lib", TLD: "lib", Port: "8443"}},
		{"ftp://user@files.coin", true, URL{Scheme: "ftp", Domain: "files.coin", TLD: "coin"}},
		{"x.bit/page", false, URL{}},
		{"", false, URL{}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseURL(tt.raw)
			if ok != tt.ok {
				t.Fatalf("ParseURL(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			}
			if !ok {
				return
			}
			if got.Scheme != tt.want.Scheme || got.Domain != tt.want.Domain ||
				got.TLD != tt.want.TLD || got.Port != tt.want.Port {
				t.Errorf("ParseURL(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
			if got.Raw != tt.raw {
				t.Errorf("Raw = %q", got.Raw)
			}
		})
	}
}

func TestTLDSet(t *testing.T) {
	s := NewTLDSet(DefaultTLDs)

	tests := []struct {
		host string
		want bool
	}{
		{"x.bit", true},
		{"X.BIT", true},
		{"deep.sub.pirate", true},
		{"x.bit.", true},
		{"example.com", false},
		{"bit", false},
		{"bit.example", false},
	}
	for _, tt := range tests {
		if got := s.Matches(tt.host); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}

	custom := NewTLDSet([]string{".Onion", " ", "i2p"})
	if !custom.Supported("onion") || !custom.Supported("i2p") || len(custom) != 2 {
		t.Errorf("NewTLDSet normalisation failed: %v", custom)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Example.BIT.", "example.bit"},
		{"bücher.bit", "xn--bcher-kva.bit"},
		{"plain.lib", "plain.lib"},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if err != nil {
			t.Fatalf("Normalize(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
