// Package pac renders the proxy auto-config script that routes resolved
// alternative-root domains straight to their addresses.
package pac

import (
	"encoding/json"
	"regexp"
	"strings"
	"text/template"
)

const (
	Direct        = "DIRECT"
	ContentType   = "application/x-ns-proxy-autoconfig"
	httpDirective = "PROXY "
	tlsDirective  = "HTTPS "
)

var scriptTemplate = template.Must(template.New("pac").Parse(`var cache = {{.}};

function FindProxyForURL(url, host) {
  var res = 'DIRECT';
  var ips = cache[host];

  if (ips) {
    var pos = url.indexOf(host);
    var port;

    if (pos != -1) {
      port = (url.substr(pos + host.length).match(/^:(\d+)/) || [])[1];
    }

    var https = url.match(/^https:/i);
    var directive = https ? 'HTTPS ' : 'PROXY ';
    port = ':' + (port || (https ? 443 : 80));
    res = directive + ips.join(port + '; ' + directive) + port;
  }

  return res;
}
`))

var (
	portAfterHost = regexp.MustCompile(`^:(\d+)`)
	httpsScheme   = regexp.MustCompile(`(?i)^https:`)
)

// Table maps a domain to the addresses the script routes it to.
type Table map[string][]string

// Route mirrors FindProxyForURL from the rendered script.
func (t Table) Route(url, host string) string {
	ips := t[host]
	if len(ips) == 0 {
		return Direct
	}

	var port string
	if pos := strings.Index(url, host); pos != -1 {
		if m := portAfterHost.FindStringSubmatch(url[pos+len(host):]); m != nil {
			port = m[1]
		}
	}

	https := httpsScheme.MatchString(url)
	directive := httpDirective
	if https {
		directive = tlsDirective
	}
	if port == "" {
		port = "80"
		if https {
			port = "443"
		}
	}

	parts := make([]string, len(ips))
	for i, ip := range ips {
		parts[i] = directive + ip + ":" + port
	}
	return strings.Join(parts, "; ")
}

// Render embeds the table into the routing script.
func Render(t Table) (string, error) {
	if t == nil {
		t = Table{}
	}
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if err := scriptTemplate.Execute(&b, string(data)); err != nil {
		return "", err
	}
	return b.String(), nil
}
