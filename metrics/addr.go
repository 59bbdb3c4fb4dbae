package metrics

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-chi/chi/v5"
)

// SanitizeAddr reduces a RemoteAddr to a bare client address usable as a
// bucket key or log field. Ports and zones are dropped, IPv4-mapped IPv6 is
// unmapped, and anything unparsable keeps only digits and dots.
func SanitizeAddr(remoteAddr string) string {
	host := strings.TrimSpace(remoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().WithZone("").String()
	}

	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, host)
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}

// ClientKey is SanitizeAddr applied to the request's RemoteAddr
func ClientKey(r *http.Request) string {
	return SanitizeAddr(r.RemoteAddr)
}

// RouteResolver looks up the pattern routes would match for r without serving it
func RouteResolver(routes chi.Routes) func(*http.Request) string {
	return func(r *http.Request) string {
		rctx := chi.NewRouteContext()
		if !routes.Match(rctx, r.Method, r.URL.Path) {
			return ""
		}
		return rctx.RoutePattern()
	}
}
