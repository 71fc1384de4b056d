package hostfuncs

import (
	"context"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"strings"
)

// NetfilterResult is the verdict on one outbound address.
type NetfilterResult struct {
	// Reason names the rule that refused the address.
	Reason string `json:"reason,omitempty"`

	// ResolvedIP is the address the verdict was made on, when one was
	// parsed or resolved.
	ResolvedIP string `json:"resolved_ip,omitempty"`

	// Allowed reports whether the connection may proceed.
	Allowed bool `json:"allowed"`
}

// NetfilterOption adjusts the outbound address filter.
type NetfilterOption func(*netfilter)

// netfilter holds the rule set for one verdict. The zero set refuses every
// address class an extension could use to reach the host's own network:
// loopback, RFC 1918, link-local, multicast and unspecified. Hostnames
// resolve first so DNS cannot launder them.
type netfilter struct {
	allowHosts []string
	blockHosts []string
	allowPorts []int
	blockPorts []int

	allowPrivate   bool
	allowLoopback  bool
	allowLinkLocal bool
	resolve        bool
}

func newNetfilter(opts []NetfilterOption) netfilter {
	f := netfilter{resolve: true}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// WithAllowlist names hosts, IPs or CIDRs that bypass every other rule.
func WithAllowlist(addresses ...string) NetfilterOption {
	return func(f *netfilter) { f.allowHosts = addresses }
}

// WithBlocklist names hosts, IPs or CIDRs that are always refused.
func WithBlocklist(addresses ...string) NetfilterOption {
	return func(f *netfilter) { f.blockHosts = addresses }
}

// WithBlockPrivate toggles the RFC 1918 rule.
func WithBlockPrivate(block bool) NetfilterOption {
	return func(f *netfilter) { f.allowPrivate = !block }
}

// WithBlockLocalhost toggles the loopback rule.
func WithBlockLocalhost(block bool) NetfilterOption {
	return func(f *netfilter) { f.allowLoopback = !block }
}

// WithBlockLinkLocal toggles the link-local rule.
func WithBlockLinkLocal(block bool) NetfilterOption {
	return func(f *netfilter) { f.allowLinkLocal = !block }
}

// WithResolveDNS toggles hostname resolution. Without it a hostname that
// is not a literal IP passes on the name rules alone.
func WithResolveDNS(resolve bool) NetfilterOption {
	return func(f *netfilter) { f.resolve = resolve }
}

// WithAllowedPorts restricts connections to the given ports.
func WithAllowedPorts(ports ...int) NetfilterOption {
	return func(f *netfilter) { f.allowPorts = ports }
}

// WithBlockedPorts refuses connections to the given ports.
func WithBlockedPorts(ports ...int) NetfilterOption {
	return func(f *netfilter) { f.blockPorts = ports }
}

// ValidateAddress decides whether an outbound connection to address
// ("host", "host:port", or an IP literal) may proceed. Every http_fetch
// target passes through here after the permission gate. A hostname is
// resolved and every answer must clear the rules, so a name cannot hand
// the check a public address and the dial a private one.
func ValidateAddress(address string, opts ...NetfilterOption) NetfilterResult {
	f := newNetfilter(opts)

	host, port, err := splitTarget(address)
	if err != nil {
		return NetfilterResult{Reason: "invalid address format: " + err.Error()}
	}
	if reason := f.checkPort(port); reason != "" {
		return NetfilterResult{Reason: reason}
	}

	// Name rules decide before any resolution.
	if matchAny(host, f.allowHosts) {
		return NetfilterResult{Allowed: true}
	}
	if matchAny(host, f.blockHosts) {
		return NetfilterResult{Reason: "address in blocklist"}
	}

	addrs, reason := f.resolveHost(host)
	if reason != "" {
		return NetfilterResult{Reason: reason}
	}
	if len(addrs) == 0 {
		// Resolution disabled and not a literal: name rules already ran.
		return NetfilterResult{Allowed: true}
	}
	for _, addr := range addrs {
		if reason := f.checkAddr(addr); reason != "" {
			return NetfilterResult{Reason: reason, ResolvedIP: addr.String()}
		}
	}
	return NetfilterResult{Allowed: true, ResolvedIP: addrs[0].String()}
}

func (f netfilter) checkPort(port int) string {
	if port == 0 {
		return ""
	}
	if len(f.allowPorts) > 0 && !slices.Contains(f.allowPorts, port) {
		return "port not in allowlist"
	}
	if slices.Contains(f.blockPorts, port) {
		return "port is blocked"
	}
	return ""
}

// resolveHost turns the host into the address set the verdict must cover:
// the literal itself, or every DNS answer when resolution is on.
func (f netfilter) resolveHost(host string) ([]netip.Addr, string) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{ip.Unmap()}, ""
	}
	if !f.resolve {
		return nil, ""
	}
	addrs, err := net.DefaultResolver.LookupNetIP(context.Background(), "ip", host)
	if err != nil {
		return nil, "DNS resolution failed: " + err.Error()
	}
	for i := range addrs {
		addrs[i] = addrs[i].Unmap()
	}
	return addrs, ""
}

// checkAddr classifies one address. Allowlist CIDRs clear it outright,
// blocklist CIDRs refuse it, then the class rules run.
func (f netfilter) checkAddr(addr netip.Addr) string {
	if prefixAny(addr, f.allowHosts) {
		return ""
	}
	if prefixAny(addr, f.blockHosts) {
		return "IP in blocklist CIDR"
	}
	switch {
	case addr.IsUnspecified():
		return "unspecified address blocked"
	case addr.IsMulticast():
		return "multicast addresses blocked"
	case addr.IsLoopback() && !f.allowLoopback:
		return "localhost/loopback addresses blocked"
	case addr.IsPrivate() && !f.allowPrivate:
		return "private addresses blocked (RFC 1918)"
	case addr.IsLinkLocalUnicast() && !f.allowLinkLocal:
		return "link-local addresses blocked"
	}
	return ""
}

// splitTarget separates host and optional port. Bare hostnames and
// bracketless IPv6 literals carry no port.
func splitTarget(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		if ip, parseErr := netip.ParseAddr(address); parseErr == nil {
			return ip.String(), 0, nil
		}
		if !strings.Contains(address, ":") {
			return address, 0, nil
		}
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, &net.AddrError{Err: "invalid port", Addr: address}
	}
	return host, port, nil
}

// matchAny reports whether host equals an entry, matches a "*." wildcard
// entry, or, for IP literals, falls inside an entry CIDR.
func matchAny(host string, entries []string) bool {
	ip, ipErr := netip.ParseAddr(host)
	for _, entry := range entries {
		if host == entry {
			return true
		}
		if suffix, ok := strings.CutPrefix(entry, "*."); ok && strings.HasSuffix(host, "."+suffix) {
			return true
		}
		if ipErr == nil {
			if prefix, err := netip.ParsePrefix(entry); err == nil && prefix.Contains(ip.Unmap()) {
				return true
			}
		}
	}
	return false
}

func prefixAny(addr netip.Addr, entries []string) bool {
	for _, entry := range entries {
		if prefix, err := netip.ParsePrefix(entry); err == nil && prefix.Contains(addr) {
			return true
		}
	}
	return false
}
