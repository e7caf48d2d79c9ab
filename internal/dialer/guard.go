package dialer

import (
	"fmt"
	"net/netip"
	"strings"
)

// CheckTarget refuses hosts that are link-local literals or match one of the
// deny-listed names. host may be a bracketed IPv6 literal.
func CheckTarget(host string, denyHosts []string) error {
	h := strings.TrimSuffix(strings.Trim(host, "[]"), ".")

	if ip, err := netip.ParseAddr(h); err == nil {
		if isLinkLocal(ip) {
			return fmt.Errorf("%w: %s is link-local", ErrAddressForbidden, host)
		}
		return nil
	}

	h = strings.ToLower(h)
	for _, d := range denyHosts {
		d = strings.TrimSuffix(strings.ToLower(d), ".")
		if d == "" {
			continue
		}
		if h == d || strings.HasSuffix(h, "."+d) {
			return fmt.Errorf("%w: %s is deny-listed", ErrAddressForbidden, host)
		}
	}
	return nil
}

// isLinkLocal covers 169.254.0.0/16 and fe80::/10, including IPv4-mapped
// forms.
func isLinkLocal(ip netip.Addr) bool {
	return ip.Unmap().IsLinkLocalUnicast()
}
