// Package entity defines the observables accepted for lookup and decides
// which of them are eligible to be sent upstream.
package entity

import (
	"net/netip"
	"strings"
)

// Kind is the type of an observable.
type Kind string

const (
	KindIPv4 Kind = "IPv4"
	KindCVE  Kind = "cve"
)

// ParseKind maps caller-supplied type names onto a Kind. Unknown names
// return the empty Kind so the classifier drops them.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ipv4", "ip":
		return KindIPv4
	case "cve":
		return KindCVE
	default:
		return ""
	}
}

// Entity is a single observable supplied by the caller.
type Entity struct {
	Value string `json:"value"`
	Kind  Kind   `json:"type"`

	// IsPrivate is set by callers that already know the address is internal.
	IsPrivate bool `json:"isPrivateIP,omitempty"`
}

// IsIP reports whether the entity claims to be an IPv4 address.
func (e Entity) IsIP() bool {
	return e.Kind == KindIPv4
}

// IsCVE reports whether the entity is a CVE identifier.
func (e Entity) IsCVE() bool {
	return e.Kind == KindCVE
}

// Policy controls which entities are considered lookupable.
type Policy struct {
	// SkipRFC1918 drops 10/8, 172.16/12 and 192.168/16.
	SkipRFC1918 bool

	// CVEsSupported is false for tiers without a CVE endpoint.
	CVEsSupported bool
}

// Eligible is the partitioned output of Classify.
type Eligible struct {
	IPs  []Entity
	CVEs []Entity
}

// Len returns the number of eligible entities.
func (e Eligible) Len() int {
	return len(e.IPs) + len(e.CVEs)
}

// All returns IPs followed by CVEs.
func (e Eligible) All() []Entity {
	all := make([]Entity, 0, e.Len())
	all = append(all, e.IPs...)
	return append(all, e.CVEs...)
}

var (
	loopback  = netip.MustParsePrefix("127.0.0.0/8")
	linkLocal = netip.MustParsePrefix("169.254.0.0/16")
	rfc1918   = []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("172.16.0.0/12"),
		netip.MustParsePrefix("192.168.0.0/16"),
	}
)

// Classify partitions entities into eligible IPs and CVEs. Anything that
// matches neither predicate is dropped without error.
func Classify(entities []Entity, policy Policy) Eligible {
	var out Eligible
	for _, e := range entities {
		switch {
		case e.IsIP():
			if IsRoutableIP(e, policy) {
				out.IPs = append(out.IPs, e)
			}
		case e.IsCVE():
			if policy.CVEsSupported {
				out.CVEs = append(out.CVEs, e)
			}
		}
	}
	return out
}

// IsRoutableIP reports whether an IP entity may be looked up.
func IsRoutableIP(e Entity, policy Policy) bool {
	if e.IsPrivate {
		return false
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(e.Value))
	if err != nil || !addr.Is4() {
		return false
	}

	if loopback.Contains(addr) || linkLocal.Contains(addr) {
		return false
	}

	if policy.SkipRFC1918 {
		for _, p := range rfc1918 {
			if p.Contains(addr) {
				return false
			}
		}
	}

	return true
}
