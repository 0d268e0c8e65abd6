package http

import (
	"net/netip"

	"webhook-relay/internal/common/errors"
)

var (
	blockedIPv4 = []netip.Prefix{
		netip.MustParsePrefix("127.0.0.0/8"),
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("172.16.0.0/12"),
		netip.MustParsePrefix("192.168.0.0/16"),
		netip.MustParsePrefix("169.254.0.0/16"),
		netip.MustParsePrefix("0.0.0.0/8"),
		netip.MustParsePrefix("192.0.0.0/24"),
		netip.MustParsePrefix("100.64.0.0/10"),
		netip.MustParsePrefix("198.18.0.0/15"),
		netip.MustParsePrefix("224.0.0.0/4"),
		netip.MustParsePrefix("240.0.0.0/4"),
	}
	blockedIPv6 = []netip.Prefix{
		netip.MustParsePrefix("::1/128"),
		netip.MustParsePrefix("::/128"),
		netip.MustParsePrefix("fe80::/10"),
		netip.MustParsePrefix("fc00::/7"),
		netip.MustParsePrefix("2001:db8::/32"),
		netip.MustParsePrefix("ff00::/8"),
	}
)

// IsBlockedAddr reports whether addr is loopback, link-local, private or
// otherwise not publicly routable. IPv4-mapped IPv6 addresses are checked
// as IPv4.
func IsBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsUnspecified() {
		return true
	}
	prefixes := blockedIPv6
	if addr.Is4() {
		prefixes = blockedIPv4
	}
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// CheckAddr returns a forbidden error when host is a blocked literal IP.
func CheckAddr(host string) error {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return errors.ForbiddenError("destination address is not an IP literal").WithContext("host", host)
	}
	if IsBlockedAddr(addr) {
		return errors.ForbiddenError("destination address is not publicly routable").WithContext("addr", addr.String())
	}
	return nil
}
