package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Classify Tests
// =============================================================================

// TestClassify_Partitions verifies IPs and CVEs land in their own buckets and
// unsupported kinds are dropped.
func TestClassify_Partitions(t *testing.T) {
	entities := []Entity{
		{Value: "8.8.8.8", Kind: KindIPv4},
		{Value: "CVE-2023-0001", Kind: KindCVE},
		{Value: "example.com", Kind: "domain"},
		{Value: "1.1.1.1", Kind: KindIPv4},
	}

	got := Classify(entities, Policy{CVEsSupported: true})

	require.Len(t, got.IPs, 2)
	require.Len(t, got.CVEs, 1)
	assert.Equal(t, "8.8.8.8", got.IPs[0].Value)
	assert.Equal(t, "1.1.1.1", got.IPs[1].Value)
	assert.Equal(t, 3, got.Len())
	assert.Equal(t, []string{"8.8.8.8", "1.1.1.1", "CVE-2023-0001"}, values(got.All()))
}

// TestClassify_CVEsUnsupported verifies CVEs are dropped for tiers without a
// CVE endpoint.
func TestClassify_CVEsUnsupported(t *testing.T) {
	got := Classify([]Entity{{Value: "CVE-2023-0001", Kind: KindCVE}}, Policy{})
	assert.Empty(t, got.CVEs)
	assert.Zero(t, got.Len())
}

// TestClassify_RFC1918Skipped covers the "10.0.0.5 excluded before any call"
// scenario.
func TestClassify_RFC1918Skipped(t *testing.T) {
	entities := []Entity{
		{Value: "10.0.0.5", Kind: KindIPv4},
		{Value: "172.16.4.1", Kind: KindIPv4},
		{Value: "192.168.1.1", Kind: KindIPv4},
	}

	assert.Empty(t, Classify(entities, Policy{SkipRFC1918: true}).IPs)
	assert.Len(t, Classify(entities, Policy{SkipRFC1918: false}).IPs, 3)
}

// =============================================================================
// IsRoutableIP Tests
// =============================================================================

func TestIsRoutableIP(t *testing.T) {
	tests := []struct {
		name   string
		entity Entity
		policy Policy
		want   bool
	}{
		{"public", Entity{Value: "8.8.8.8", Kind: KindIPv4}, Policy{}, true},
		{"loopback", Entity{Value: "127.0.0.1", Kind: KindIPv4}, Policy{}, false},
		{"loopback high", Entity{Value: "127.255.0.9", Kind: KindIPv4}, Policy{}, false},
		{"link local", Entity{Value: "169.254.10.10", Kind: KindIPv4}, Policy{}, false},
		{"169 but not link local", Entity{Value: "169.1.2.3", Kind: KindIPv4}, Policy{}, true},
		{"caller private", Entity{Value: "8.8.4.4", Kind: KindIPv4, IsPrivate: true}, Policy{}, false},
		{"ipv6", Entity{Value: "2001:4860::8888", Kind: KindIPv4}, Policy{}, false},
		{"garbage", Entity{Value: "not-an-ip", Kind: KindIPv4}, Policy{}, false},
		{"172.32 outside rfc1918", Entity{Value: "172.32.0.1", Kind: KindIPv4}, Policy{SkipRFC1918: true}, true},
		{"172.31 inside rfc1918", Entity{Value: "172.31.255.255", Kind: KindIPv4}, Policy{SkipRFC1918: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRoutableIP(tt.entity, tt.policy))
		})
	}
}

func TestParseKind(t *testing.T) {
	assert.Equal(t, KindIPv4, ParseKind("IPv4"))
	assert.Equal(t, KindIPv4, ParseKind(" ip "))
	assert.Equal(t, KindCVE, ParseKind("CVE"))
	assert.Equal(t, Kind(""), ParseKind("domain"))
}

func values(entities []Entity) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.Value)
	}
	return out
}
