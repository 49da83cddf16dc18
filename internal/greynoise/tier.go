// Package greynoise provides the HTTP gateway to the GreyNoise REST APIs.
// One Client is constructed per tier and shared by every lookup in a batch.
package greynoise

import (
	"fmt"
	"net/url"
)

// DefaultBaseURL is the public GreyNoise API host.
const DefaultBaseURL = "https://api.greynoise.io"

// Tier names an upstream API variant.
type Tier string

const (
	TierCommunity    Tier = "community"
	TierSubscription Tier = "subscription"
	TierUnified      Tier = "unified"
)

// Endpoint is a logical upstream endpoint.
type Endpoint string

const (
	EndpointNoiseContext    Endpoint = "noise-context"
	EndpointRIOTLookup      Endpoint = "riot-lookup"
	EndpointGNQLQuery       Endpoint = "gnql-query"
	EndpointGNQLStats       Endpoint = "gnql-stats"
	EndpointUnifiedIP       Endpoint = "unified-ip"
	EndpointUnifiedCVE      Endpoint = "unified-cve"
	EndpointCommunityLookup Endpoint = "community-lookup"
)

// gnqlSampleSize is the page size for GNQL queries.
const gnqlSampleSize = 10

// TierConfig describes one upstream tier.
type TierConfig struct {
	Name        Tier
	BaseURL     string
	AuthHeader  string
	APIKey      string
	SupportsCVE bool
	Endpoints   []Endpoint
}

// NewTierConfig returns the fixed endpoint set for a tier.
func NewTierConfig(tier Tier, baseURL, apiKey string) (TierConfig, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	cfg := TierConfig{
		Name:       tier,
		BaseURL:    baseURL,
		AuthHeader: "key",
		APIKey:     apiKey,
	}

	switch tier {
	case TierCommunity:
		cfg.Endpoints = []Endpoint{EndpointCommunityLookup}
	case TierSubscription:
		cfg.SupportsCVE = true
		cfg.Endpoints = []Endpoint{EndpointNoiseContext, EndpointRIOTLookup, EndpointGNQLQuery, EndpointGNQLStats}
	case TierUnified:
		cfg.SupportsCVE = true
		cfg.Endpoints = []Endpoint{EndpointUnifiedIP, EndpointUnifiedCVE}
	default:
		return TierConfig{}, fmt.Errorf("unknown tier: %q", tier)
	}

	return cfg, nil
}

// Supports reports whether the tier exposes an endpoint.
func (c TierConfig) Supports(ep Endpoint) bool {
	for _, e := range c.Endpoints {
		if e == ep {
			return true
		}
	}
	return false
}

// pathFor builds the request path and raw query for an endpoint.
func pathFor(ep Endpoint, value string) (path, rawQuery string, err error) {
	escaped := url.PathEscape(value)
	switch ep {
	case EndpointCommunityLookup:
		return "/v3/community/" + escaped, "", nil
	case EndpointUnifiedIP:
		return "/v3/ip/" + escaped, "", nil
	case EndpointUnifiedCVE:
		return "/v1/cve/" + escaped, "", nil
	case EndpointNoiseContext:
		return "/v2/noise/context/" + escaped, "", nil
	case EndpointRIOTLookup:
		return "/v2/riot/" + escaped, "", nil
	case EndpointGNQLQuery:
		return "/v2/experimental/gnql", fmt.Sprintf("query=cve:%s&size=%d", url.QueryEscape(value), gnqlSampleSize), nil
	case EndpointGNQLStats:
		return "/v2/experimental/gnql/stats", "query=cve:" + url.QueryEscape(value), nil
	default:
		return "", "", fmt.Errorf("unknown endpoint: %q", ep)
	}
}
