// Package netutil resolves caller addresses and matches them against
// source allowlists.
package netutil

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"webhook-relay/internal/common/errors"
)

// ParsePrefixes parses CIDR strings. A bare address is treated as a
// single-host prefix.
func ParsePrefixes(cidrs []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, errors.ValidationError("invalid CIDR: " + raw)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, errors.ValidationError("invalid CIDR: " + raw)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return prefixes, nil
}

// Allowed reports whether addr falls inside any prefix. An empty list
// allows everything.
func Allowed(prefixes []netip.Prefix, addr netip.Addr) bool {
	if len(prefixes) == 0 {
		return true
	}
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientAddr returns the caller address of r. With trustProxy the first
// X-Forwarded-For entry wins, then X-Real-IP, then the socket peer.
func ClientAddr(r *http.Request, trustProxy bool) netip.Addr {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
			if addr, err := netip.ParseAddr(first); err == nil {
				return addr.Unmap()
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			if addr, err := netip.ParseAddr(realIP); err == nil {
				return addr.Unmap()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}
