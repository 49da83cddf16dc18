// Package summary turns settled composites into the lookup results shown to
// analysts: a short, ordered tag list plus the merged detail object.
package summary

import (
	"fmt"

	"github.com/lvonguyen/greylookup/internal/result"
)

const (
	// MaxSummaryTags caps the rendered tag list.
	MaxSummaryTags = 10

	// MaxClassificationTags is how many raw scanner tags are shown before
	// the "+N tags" marker.
	MaxClassificationTags = 2

	// RawDataLimit caps every long-form raw_data array in details.
	RawDataLimit = 250
)

const (
	msgLimitReached  = "Lookup limit reached"
	msgKeyRejected   = "API key rejected"
	msgIPNotSeen     = "IP address has not been seen"
	msgCVENotFound   = "CVE not found"
	msgLookupErrorFm = "Lookup error: %s"
)

// Policy carries the caller options that affect rendering.
type Policy struct {
	IgnoreNonSeen bool
	MaliciousOnly bool
	UsingAPIKey   bool
}

// Build renders one composite. Rules are applied in order: rate limiting,
// other failures, not-found handling, then tag construction.
func Build(c result.Composite, policy Policy) result.LookupResult {
	out := result.LookupResult{Entity: c.Entity()}
	service := string(c.Tier())

	if failure := result.Failure(c); failure != nil {
		out.Data = failureData(*failure, service)
		return out
	}

	if !c.Found() {
		if policy.IgnoreNonSeen {
			return out
		}
		out.Data = &result.Data{
			Summary: []result.Tag{result.Text(notFoundText(c))},
			Details: map[string]any{
				"hasResult":  false,
				"apiService": service,
			},
		}
		return out
	}

	if policy.MaliciousOnly && c.Entity().IsIP() && !isMalicious(c) {
		return out
	}

	details := c.Details()
	if details == nil {
		details = make(map[string]any)
	}
	truncateRawData(details)
	details["hasResult"] = true
	details["apiService"] = service
	details["usingApiKey"] = policy.UsingAPIKey

	out.Data = &result.Data{
		Summary: finalize(tagsFor(c)),
		Details: details,
	}
	return out
}

// BuildAll renders every composite in order.
func BuildAll(composites []result.Composite, policy Policy) []result.LookupResult {
	results := make([]result.LookupResult, 0, len(composites))
	for _, c := range composites {
		results = append(results, Build(c, policy))
	}
	return results
}

func failureData(o result.Outcome, service string) *result.Data {
	switch o.State {
	case result.StateRateLimited:
		return &result.Data{
			Summary: []result.Tag{result.Text(msgLimitReached)},
			Details: map[string]any{
				"limitHit":   true,
				"apiService": service,
			},
		}
	case result.StateUnauthorized:
		return &result.Data{
			Summary: []result.Tag{result.Text(msgKeyRejected)},
			Details: map[string]any{
				"hasResult":  false,
				"error":      o.State.String(),
				"errorMsg":   o.Detail,
				"statusCode": o.StatusCode,
				"apiService": service,
			},
		}
	default:
		return &result.Data{
			Summary: []result.Tag{result.Text(fmt.Sprintf(msgLookupErrorFm, o.Detail))},
			Details: map[string]any{
				"hasResult":  false,
				"error":      o.State.String(),
				"errorMsg":   o.Detail,
				"statusCode": o.StatusCode,
				"apiService": service,
			},
		}
	}
}

func notFoundText(c result.Composite) string {
	if c.Entity().IsCVE() {
		return msgCVENotFound
	}
	return msgIPNotSeen
}

// isMalicious reports whether the scanner classification is "malicious".
func isMalicious(c result.Composite) bool {
	return ipFactsFor(c).classification == "malicious"
}

// finalize de-duplicates in first-occurrence order and applies the cap.
func finalize(tags []result.Tag) []result.Tag {
	seen := make(map[result.Tag]struct{}, len(tags))
	out := make([]result.Tag, 0, len(tags))
	for _, t := range tags {
		if t.Text == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == MaxSummaryTags {
			break
		}
	}
	return out
}

// tagsFor dispatches on the composite variant.
func tagsFor(c result.Composite) []result.Tag {
	switch v := c.(type) {
	case result.CommunityIP, result.SubscriptionIP, result.UnifiedIP:
		return ipTags(ipFactsFor(v))
	case result.SubscriptionCVE:
		return cveStatsTags(v)
	case result.UnifiedCVE:
		return unifiedCVETags(v)
	default:
		panic(fmt.Sprintf("summary: unhandled composite %T", c))
	}
}
