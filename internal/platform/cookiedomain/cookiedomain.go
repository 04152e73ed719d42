// Package cookiedomain derives the cookie domain scope for a request host.
//
// Cookies are scoped to the shortest registrable domain of the serving host
// so that one visitor identity spans every subdomain of a property. The
// registrable domain is resolved through the public suffix list; hosts
// without one (localhost, raw IPs) fall back to the bare host.
package cookiedomain

import (
	"net"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Wildcard returns the wildcard cookie domain for host, e.g.
// "foo.bar.baz.boom.com" becomes ".boom.com". The result is empty when the
// host itself is empty, which callers should treat as "omit the attribute".
func Wildcard(host string) string {
	host = normalizeHost(host)
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil || registrable == "" {
		return host
	}
	return "." + registrable
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return ""
	}
	if parsed, _, err := net.SplitHostPort(host); err == nil {
		host = parsed
	}
	return strings.TrimSuffix(host, ".")
}
