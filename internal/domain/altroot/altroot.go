// Package altroot recognises URLs and hosts under alternative-root TLDs.
package altroot

import (
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

// DefaultTLDs are the top-level labels the resolution API serves.
var DefaultTLDs = []string{
	// Namecoin
	"bit",
	// Emercoin
	"lib", "emc", "bazar", "coin",
	// OpenNIC
	"bbs", "chan", "cyb", "dyn", "geek", "gopher", "indy", "libre",
	"neo", "null", "o", "oss", "oz", "parody", "pirate",
}

var urlPattern = regexp.MustCompile(`^(\w+)://[^/]*?([\w.-]+)(:(\d+))?(/|$)`)

type URL struct {
	Raw    string
	Scheme string
	Domain string
	TLD    string
	Port   string
}

// ParseURL extracts scheme, domain, TLD and explicit port from raw.
func ParseURL(raw string) (URL, bool) {
	m := urlPattern.FindStringSubmatch(raw)
	if m == nil {
		return URL{}, false
	}
	return URL{
		Raw:    raw,
		Scheme: m[1],
		Domain: m[2],
		TLD:    TLD(m[2]),
		Port:   m[4],
	}, true
}

// TLD returns the last label of host.
func TLD(host string) string {
	host = strings.TrimSuffix(host, ".")
	if i := strings.LastIndexByte(host, '.'); i >= 0 {
		return host[i+1:]
	}
	return host
}

// Normalize lower-cases host, drops a trailing dot and converts IDN labels to
// their ASCII form.
func Normalize(host string) (string, error) {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return idna.ToASCII(host)
}

type TLDSet map[string]struct{}

func NewTLDSet(tlds []string) TLDSet {
	s := make(TLDSet, len(tlds))
	for _, tld := range tlds {
		tld = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tld), "."))
		if tld != "" {
			s[tld] = struct{}{}
		}
	}
	return s
}

func (s TLDSet) Supported(tld string) bool {
	_, ok := s[strings.ToLower(tld)]
	return ok
}

// Matches reports whether host sits under one of the TLDs.
func (s TLDSet) Matches(host string) bool {
	if !strings.Contains(strings.TrimSuffix(host, "."), ".") {
		return false
	}
	return s.Supported(TLD(host))
}
