package result

import (
	"bytes"
	"encoding/json"

	"github.com/lvonguyen/greylookup/internal/entity"
	"github.com/lvonguyen/greylookup/internal/greynoise"
)

// Composite is the settled set of outcomes gathered for one entity. The
// concrete types below are the only implementations.
type Composite interface {
	Entity() entity.Entity
	Tier() greynoise.Tier

	// Outcomes lists the outcomes that decide the composite's state, in
	// issue order.
	Outcomes() []Outcome

	// Found reports whether any call attached data.
	Found() bool

	// Details merges every attached payload into one object.
	Details() map[string]any

	composite()
}

// CommunityIP is the single community-tier lookup.
type CommunityIP struct {
	Ent    entity.Entity
	Lookup Outcome
}

// SubscriptionIP pairs the noise context (primary) with the RIOT lookup.
type SubscriptionIP struct {
	Ent   entity.Entity
	Noise Outcome
	RIOT  Outcome
}

// SubscriptionCVE is decided by GNQL stats alone. Query holds a successful
// GNQL sample when one was fetched; nil otherwise.
type SubscriptionCVE struct {
	Ent   entity.Entity
	Stats Outcome
	Query *Outcome
}

// UnifiedIP is the single v3 IP lookup.
type UnifiedIP struct {
	Ent    entity.Entity
	Lookup Outcome
}

// UnifiedCVE is the single v1 CVE lookup.
type UnifiedCVE struct {
	Ent    entity.Entity
	Lookup Outcome
}

func (CommunityIP) composite()     {}
func (SubscriptionIP) composite()  {}
func (SubscriptionCVE) composite() {}
func (UnifiedIP) composite()       {}
func (UnifiedCVE) composite()      {}

func (c CommunityIP) Entity() entity.Entity     { return c.Ent }
func (c SubscriptionIP) Entity() entity.Entity  { return c.Ent }
func (c SubscriptionCVE) Entity() entity.Entity { return c.Ent }
func (c UnifiedIP) Entity() entity.Entity       { return c.Ent }
func (c UnifiedCVE) Entity() entity.Entity      { return c.Ent }

func (CommunityIP) Tier() greynoise.Tier     { return greynoise.TierCommunity }
func (SubscriptionIP) Tier() greynoise.Tier  { return greynoise.TierSubscription }
func (SubscriptionCVE) Tier() greynoise.Tier { return greynoise.TierSubscription }
func (UnifiedIP) Tier() greynoise.Tier       { return greynoise.TierUnified }
func (UnifiedCVE) Tier() greynoise.Tier      { return greynoise.TierUnified }

func (c CommunityIP) Outcomes() []Outcome     { return []Outcome{c.Lookup} }
func (c SubscriptionIP) Outcomes() []Outcome  { return []Outcome{c.Noise, c.RIOT} }
func (c SubscriptionCVE) Outcomes() []Outcome { return []Outcome{c.Stats} }
func (c UnifiedIP) Outcomes() []Outcome       { return []Outcome{c.Lookup} }
func (c UnifiedCVE) Outcomes() []Outcome      { return []Outcome{c.Lookup} }

// Community

type communityBody struct {
	Noise bool `json:"noise"`
	RIOT  bool `json:"riot"`
}

func (c CommunityIP) Found() bool {
	var body communityBody
	if !decodeSuccess(c.Lookup, &body) {
		return false
	}
	return body.Noise || body.RIOT
}

func (c CommunityIP) Details() map[string]any {
	if !c.Found() {
		return nil
	}
	return decodeObject(c.Lookup.Body)
}

// Subscription IP

// NoiseAttached reports whether the noise context carries data. A 200 with
// "seen": false is treated as absent.
func (c SubscriptionIP) NoiseAttached() bool {
	var body struct {
		Seen *bool `json:"seen"`
	}
	if !decodeSuccess(c.Noise, &body) {
		return false
	}
	return body.Seen == nil || *body.Seen
}

// RIOTAttached reports whether the RIOT lookup carries data. A 200 with
// "riot": false is treated as absent.
func (c SubscriptionIP) RIOTAttached() bool {
	var body struct {
		RIOT bool `json:"riot"`
	}
	if !decodeSuccess(c.RIOT, &body) {
		return false
	}
	return body.RIOT
}

func (c SubscriptionIP) Found() bool {
	return c.NoiseAttached() || c.RIOTAttached()
}

// Details merges the noise context and RIOT payloads. RIOT keys win on
// collision except found flags, which are OR'd.
func (c SubscriptionIP) Details() map[string]any {
	var merged map[string]any
	if c.NoiseAttached() {
		merged = MergeDetails(merged, decodeObject(c.Noise.Body))
	}
	if c.RIOTAttached() {
		merged = MergeDetails(merged, decodeObject(c.RIOT.Body))
	}
	return merged
}

// Subscription CVE

// StatsCount returns the GNQL stats count, or 0 if stats did not succeed.
func (c SubscriptionCVE) StatsCount() int {
	var body struct {
		Count int `json:"count"`
	}
	if !decodeSuccess(c.Stats, &body) {
		return 0
	}
	return body.Count
}

func (c SubscriptionCVE) Found() bool {
	return c.StatsCount() > 0
}

// Details returns the stats payload with the GNQL sample rows attached under
// "sample".
func (c SubscriptionCVE) Details() map[string]any {
	if !c.Found() {
		return nil
	}

	details := decodeObject(c.Stats.Body)
	if details == nil {
		return nil
	}
	if c.Query != nil && c.Query.State == StateSuccess {
		if query := decodeObject(c.Query.Body); query != nil {
			if data, ok := query["data"]; ok {
				details["sample"] = data
			}
		}
	}
	return details
}

// Unified

type unifiedIPBody struct {
	BusinessService struct {
		Found bool `json:"found"`
	} `json:"business_service_intelligence"`
	InternetScanner struct {
		Found bool `json:"found"`
	} `json:"internet_scanner_intelligence"`
}

func (c UnifiedIP) Found() bool {
	var body unifiedIPBody
	if !decodeSuccess(c.Lookup, &body) {
		return false
	}
	return body.BusinessService.Found || body.InternetScanner.Found
}

func (c UnifiedIP) Details() map[string]any {
	if !c.Found() {
		return nil
	}
	return decodeObject(c.Lookup.Body)
}

func (c UnifiedCVE) Found() bool {
	var body struct {
		ID string `json:"id"`
	}
	if !decodeSuccess(c.Lookup, &body) {
		return false
	}
	return body.ID != ""
}

func (c UnifiedCVE) Details() map[string]any {
	if !c.Found() {
		return nil
	}
	return decodeObject(c.Lookup.Body)
}

// Failure returns the outcome that poisons the composite, choosing the most
// severe state when several calls failed. It returns nil if none failed.
func Failure(c Composite) *Outcome {
	var worst *Outcome
	for _, o := range c.Outcomes() {
		if !o.State.IsFailure() {
			continue
		}
		if worst == nil || failurePriority(o.State) < failurePriority(worst.State) {
			worst = &o
		}
	}
	return worst
}

// failurePriority orders poisoning states; lower wins.
func failurePriority(s State) int {
	switch s {
	case StateRateLimited:
		return 0
	case StateUnauthorized:
		return 1
	case StateBadRequest:
		return 2
	default:
		return 3
	}
}

// foundFlags are never overwritten to false during a merge.
var foundFlags = map[string]struct{}{
	"seen":  {},
	"noise": {},
	"riot":  {},
	"found": {},
}

// MergeDetails copies src over dst. Later keys win except found flags, which
// are OR'd. dst may be nil.
func MergeDetails(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if _, isFlag := foundFlags[k]; isFlag {
			if prev, ok := dst[k].(bool); ok && prev {
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

// decodeSuccess decodes a Success outcome's body into v.
func decodeSuccess(o Outcome, v any) bool {
	if o.State != StateSuccess || len(o.Body) == 0 {
		return false
	}
	return json.Unmarshal(o.Body, v) == nil
}

// decodeObject decodes a JSON object keeping numbers exact.
func decodeObject(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil
	}
	return obj
}
