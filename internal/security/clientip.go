package security

import (
	"net"
	"strings"
)

// TrustedClientIP extracts the real client IP based on trusted_proxies
// configuration. With no trusted proxies it uses RemoteAddr only (safe
// default). Otherwise it returns the rightmost X-Forwarded-For entry that
// is not a trusted proxy.
func TrustedClientIP(remoteAddr, xForwardedFor string, trustedProxies []string) string {
	remoteIP := stripPort(remoteAddr)

	if len(trustedProxies) == 0 || xForwardedFor == "" {
		return remoteIP
	}

	trustedNets := parseCIDRs(trustedProxies)

	parts := strings.Split(xForwardedFor, ",")
	ips := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			ips = append(ips, trimmed)
		}
	}

	// Walk from the rightmost IP toward the left; the first entry that is
	// not a trusted proxy is the client.
	for i := len(ips) - 1; i >= 0; i-- {
		ip := net.ParseIP(ips[i])
		if ip == nil {
			continue
		}
		if !isIPTrusted(ip, trustedNets) {
			return ips[i]
		}
	}

	// Everything in XFF is trusted, fall back to RemoteAddr.
	return remoteIP
}

// stripPort removes the port from addr (handles both IPv4 and IPv6).
func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// parseCIDRs parses CIDR strings or plain IPs into []*net.IPNet.
func parseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		if _, ipNet, err := net.ParseCIDR(c); err == nil {
			nets = append(nets, ipNet)
			continue
		}
		// Plain IP, convert to /32 or /128.
		if ip := net.ParseIP(c); ip != nil {
			mask := net.CIDRMask(128, 128)
			if ip.To4() != nil {
				mask = net.CIDRMask(32, 32)
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: mask})
		}
	}
	return nets
}

func isIPTrusted(ip net.IP, trustedNets []*net.IPNet) bool {
	for _, n := range trustedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
