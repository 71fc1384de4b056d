package hostfuncs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAddress_DefaultPosture(t *testing.T) {
	// The defaults back http_fetch: loopback, private, link-local,
	// multicast and unspecified ranges are all refused before any
	// connection is made.
	tests := []struct {
		name    string
		address string
		reason  string // empty means allowed
	}{
		{"loopback v4", "127.0.0.1", "loopback"},
		{"loopback v4 with port", "127.0.0.1:80", "loopback"},
		{"loopback range", "127.0.0.2", "loopback"},
		{"loopback v6", "::1", "loopback"},
		{"loopback mapped v6", "::ffff:127.0.0.1", "loopback"},
		{"private 10.x", "10.0.0.1", "private"},
		{"private 172.16", "172.16.0.1", "private"},
		{"private 192.168", "192.168.1.1", "private"},
		{"private mapped v6", "::ffff:192.168.1.1", "private"},
		{"link-local v4", "169.254.1.1", "link-local"},
		{"link-local v6", "fe80::1", "link-local"},
		{"multicast v4", "224.0.0.1", "multicast"},
		{"multicast v6", "ff02::1", "multicast"},
		{"unspecified v4", "0.0.0.0", "unspecified"},
		{"unspecified v6", "::", "unspecified"},
		{"public v4", "8.8.8.8", ""},
		{"public v4 with port", "8.8.8.8:53", ""},
		{"public v6", "2001:4860:4860::8888", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := ValidateAddress(tc.address, WithResolveDNS(false))
			if tc.reason == "" {
				assert.True(t, result.Allowed, "should allow %s, got %q", tc.address, result.Reason)
				assert.NotEmpty(t, result.ResolvedIP)
			} else {
				assert.False(t, result.Allowed, "should block %s", tc.address)
				assert.Contains(t, result.Reason, tc.reason)
			}
		})
	}
}

func TestValidateAddress_AllowlistBypassesClassRules(t *testing.T) {
	result := ValidateAddress("127.0.0.1", WithResolveDNS(false), WithAllowlist("127.0.0.1"))
	assert.True(t, result.Allowed)

	// A CIDR entry clears the whole range, class rules included.
	result = ValidateAddress("10.1.2.3", WithResolveDNS(false), WithAllowlist("10.0.0.0/8"))
	assert.True(t, result.Allowed)
}

func TestValidateAddress_Blocklist(t *testing.T) {
	result := ValidateAddress("8.8.8.8", WithResolveDNS(false), WithBlocklist("8.8.8.8"))
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "blocklist")

	result = ValidateAddress("192.0.2.50",
		WithResolveDNS(false),
		WithBlockPrivate(false),
		WithBlocklist("192.0.2.0/24"),
	)
	assert.False(t, result.Allowed, "CIDR blocklist should match")
}

func TestValidateAddress_WildcardHostRules(t *testing.T) {
	result := ValidateAddress("api.example.com", WithResolveDNS(false), WithAllowlist("*.example.com"))
	assert.True(t, result.Allowed)

	// The wildcard needs a subdomain; the apex is not covered.
	result = ValidateAddress("example.com", WithResolveDNS(false), WithBlocklist("*.example.com"))
	assert.True(t, result.Allowed)
}

func TestValidateAddress_PortRules(t *testing.T) {
	result := ValidateAddress("8.8.8.8:443", WithResolveDNS(false), WithAllowedPorts(80, 443))
	assert.True(t, result.Allowed)

	result = ValidateAddress("8.8.8.8:22", WithResolveDNS(false), WithAllowedPorts(80, 443))
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "port")

	result = ValidateAddress("8.8.8.8:25", WithResolveDNS(false), WithBlockedPorts(25, 465, 587))
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "port")
}

func TestValidateAddress_RelaxedClassRules(t *testing.T) {
	opts := []NetfilterOption{
		WithResolveDNS(false),
		WithBlockPrivate(false),
		WithBlockLocalhost(false),
		WithBlockLinkLocal(false),
	}
	for _, addr := range []string{"127.0.0.1", "10.0.0.1", "169.254.1.1"} {
		result := ValidateAddress(addr, opts...)
		assert.True(t, result.Allowed, "relaxed rules should allow %s", addr)
	}

	// Multicast and unspecified stay refused even relaxed.
	assert.False(t, ValidateAddress("224.0.0.1", opts...).Allowed)
	assert.False(t, ValidateAddress("0.0.0.0", opts...).Allowed)
}

func TestValidateAddress_HostnameWithoutDNS(t *testing.T) {
	// With resolution disabled a bare hostname has no address to judge,
	// so only the host lists apply.
	result := ValidateAddress("example.com", WithResolveDNS(false))
	assert.True(t, result.Allowed)
	assert.Empty(t, result.ResolvedIP)
}

func TestValidateAddress_MalformedInput(t *testing.T) {
	result := ValidateAddress("8.8.8.8:notaport", WithResolveDNS(false))
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "invalid address format")

	result = ValidateAddress("host:80:extra", WithResolveDNS(false))
	assert.False(t, result.Allowed)
}

func TestSplitTarget(t *testing.T) {
	tests := []struct {
		address string
		host    string
		port    int
	}{
		{"example.com", "example.com", 0},
		{"example.com:80", "example.com", 80},
		{"192.168.1.1:443", "192.168.1.1", 443},
		{"::1", "::1", 0},
		{"[::1]:80", "::1", 80},
		{"[2001:db8::1]:8080", "2001:db8::1", 8080},
	}

	for _, tc := range tests {
		t.Run(tc.address, func(t *testing.T) {
			host, port, err := splitTarget(tc.address)
			require.NoError(t, err)
			assert.Equal(t, tc.host, host)
			assert.Equal(t, tc.port, port)
		})
	}

	_, _, err := splitTarget("example.com:0")
	assert.Error(t, err, "port zero is not a dialable target")
}

func TestMatchAny(t *testing.T) {
	assert.True(t, matchAny("example.com", []string{"example.com"}))
	assert.True(t, matchAny("api.example.com", []string{"*.example.com"}))
	assert.False(t, matchAny("example.com", []string{"*.example.com"}))
	assert.True(t, matchAny("192.168.1.1", []string{"192.168.0.0/16"}))
	assert.False(t, matchAny("172.16.0.1", []string{"192.168.0.0/16", "10.0.0.0/8"}))
}
