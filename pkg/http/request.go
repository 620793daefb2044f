package http

import (
	"net"
	"net/http"
	"strings"

	"github.com/lockdown-auth/lockdown/pkg/ipmatch"
)

// IPConfig holds configuration for client IP resolution
type IPConfig struct {
	// CustomHeaders are deployment-specific proxy headers consulted after the
	// well-known ones, in order
	CustomHeaders []string
}

// providerHeaders are consulted before any generic or custom header. CDN
// provider headers are the hardest to spoof from outside the edge, so they
// take priority over the forwarded-for variants.
var providerHeaders = []string{
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Forwarded-For",
	"X-Real-IP",
}

// ResolveClientIP resolves the originating client address from the request.
//
// Headers are tried in priority order: provider-specific first, then generic
// forwarded-for variants, then any configured custom headers. The first value
// that parses as an IP and is not in a reserved/private range wins. Multi-value
// headers are split on commas and each candidate tested in order. If nothing
// qualifies, the direct connection address is returned even when private.
func ResolveClientIP(r *http.Request, config *IPConfig) string {
	headers := providerHeaders
	if config != nil && len(config.CustomHeaders) > 0 {
		headers = append(append([]string{}, providerHeaders...), config.CustomHeaders...)
	}

	for _, header := range headers {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}

		for _, candidate := range strings.Split(value, ",") {
			ip, err := ipmatch.Normalize(candidate)
			if err != nil {
				continue
			}
			if ipmatch.IsReserved(ip) {
				continue
			}
			return ip
		}
	}

	return RemoteAddr(r)
}

// RemoteAddr extracts the IP address from the direct connection, removing the
// port if present
func RemoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
