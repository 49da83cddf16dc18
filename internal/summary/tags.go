package summary

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/lvonguyen/greylookup/internal/result"
)

// ipFacts is the tier-independent view of an IP result used for tagging.
type ipFacts struct {
	classification string
	category       string
	bot            bool
	vpn            bool
	vpnService     string
	tor            bool
	organization   string
	name           string
	tags           []string
	actor          string
	trustLevel     string
}

// ipTags emits tags in render order: classification then category, bot/vpn/tor
// icons, organization and name, capped raw tags, actor, trust level.
func ipTags(f ipFacts) []result.Tag {
	var tags []result.Tag

	if f.classification != "" {
		tags = append(tags, result.Text("Classification: "+f.classification))
	}
	if f.category != "" {
		tags = append(tags, result.Text("Category: "+f.category))
	}

	if f.bot {
		tags = append(tags, result.IconTag("robot", "Bot"))
	}
	if f.vpn {
		text := "VPN"
		if f.vpnService != "" {
			text = "VPN: " + f.vpnService
		}
		tags = append(tags, result.IconTag("user-secret", text))
	}
	if f.tor {
		tags = append(tags, result.IconTag("user-ninja", "Tor Exit Node"))
	}

	if f.organization != "" {
		tags = append(tags, result.Text(f.organization))
	}
	if f.name != "" && f.name != "unknown" {
		tags = append(tags, result.Text(f.name))
	}

	tags = append(tags, cappedTags(f.tags)...)

	if f.actor != "" && f.actor != "unknown" {
		tags = append(tags, result.Text("Actor: "+f.actor))
	}

	if f.trustLevel != "" {
		tags = append(tags, result.Text("Trust Level: "+TrustLevelLabel(f.trustLevel)))
	}

	return tags
}

// cappedTags returns at most MaxClassificationTags tags followed by an
// overflow marker when more exist.
func cappedTags(raw []string) []result.Tag {
	if len(raw) == 0 {
		return nil
	}

	shown := raw
	if len(raw) > MaxClassificationTags {
		shown = raw[:MaxClassificationTags]
	}

	tags := make([]result.Tag, 0, len(shown)+1)
	for _, t := range shown {
		tags = append(tags, result.Text(t))
	}
	if extra := len(raw) - len(shown); extra > 0 {
		tags = append(tags, result.Text(fmt.Sprintf("+%d tags", extra)))
	}
	return tags
}

// TrustLevelLabel expands RIOT trust levels.
func TrustLevelLabel(level string) string {
	switch level {
	case "1":
		return "1 - Reasonably Ignore"
	case "2":
		return "2 - Commonly Seen"
	default:
		return level
	}
}

// GreyNoise payload shapes, only the fields used for tagging.

type noiseContextBody struct {
	Classification string   `json:"classification"`
	Actor          string   `json:"actor"`
	Bot            bool     `json:"bot"`
	VPN            bool     `json:"vpn"`
	VPNService     string   `json:"vpn_service"`
	Tags           []string `json:"tags"`
	Metadata       struct {
		Organization string `json:"organization"`
		Tor          bool   `json:"tor"`
	} `json:"metadata"`
}

type riotBody struct {
	Category   string     `json:"category"`
	Name       string     `json:"name"`
	TrustLevel trustLevel `json:"trust_level"`
}

type communityLookupBody struct {
	Noise          bool   `json:"noise"`
	RIOT           bool   `json:"riot"`
	Classification string `json:"classification"`
	Name           string `json:"name"`
}

type unifiedIPLookupBody struct {
	BusinessService struct {
		Found      bool       `json:"found"`
		Category   string     `json:"category"`
		Name       string     `json:"name"`
		TrustLevel trustLevel `json:"trust_level"`
	} `json:"business_service_intelligence"`
	InternetScanner struct {
		Found          bool       `json:"found"`
		Classification string     `json:"classification"`
		Actor          string     `json:"actor"`
		Bot            bool       `json:"bot"`
		VPN            bool       `json:"vpn"`
		VPNService     string     `json:"vpn_service"`
		Tor            bool       `json:"tor"`
		Tags           []nameOnly `json:"tags"`
		Metadata       struct {
			Organization string `json:"organization"`
			Tor          bool   `json:"tor"`
		} `json:"metadata"`
	} `json:"internet_scanner_intelligence"`
}

// trustLevel accepts both "1" and 1.
type trustLevel string

func (t *trustLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = trustLevel(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return nil
	}
	*t = trustLevel(n.String())
	return nil
}

// nameOnly accepts a bare string or an object with a name field.
type nameOnly string

func (n *nameOnly) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*n = nameOnly(s)
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	*n = nameOnly(obj.Name)
	return nil
}

// ipFactsFor extracts taggable facts from any IP composite.
func ipFactsFor(c result.Composite) ipFacts {
	var f ipFacts

	switch v := c.(type) {
	case result.CommunityIP:
		var body communityLookupBody
		if decode(v.Lookup, &body) {
			if body.Noise {
				f.classification = body.Classification
			}
			if body.RIOT {
				f.name = body.Name
			}
		}

	case result.SubscriptionIP:
		if v.NoiseAttached() {
			var body noiseContextBody
			if decode(v.Noise, &body) {
				f.classification = body.Classification
				f.actor = body.Actor
				f.bot = body.Bot
				f.vpn = body.VPN
				f.vpnService = body.VPNService
				f.tor = body.Metadata.Tor
				f.organization = body.Metadata.Organization
				f.tags = body.Tags
			}
		}
		if v.RIOTAttached() {
			var body riotBody
			if decode(v.RIOT, &body) {
				f.category = body.Category
				f.name = body.Name
				f.trustLevel = string(body.TrustLevel)
			}
		}

	case result.UnifiedIP:
		var body unifiedIPLookupBody
		if decode(v.Lookup, &body) {
			if bsi := body.BusinessService; bsi.Found {
				f.category = bsi.Category
				f.name = bsi.Name
				f.trustLevel = string(bsi.TrustLevel)
			}
			if isi := body.InternetScanner; isi.Found {
				f.classification = isi.Classification
				f.actor = isi.Actor
				f.bot = isi.Bot
				f.vpn = isi.VPN
				f.vpnService = isi.VPNService
				f.tor = isi.Tor || isi.Metadata.Tor
				f.organization = isi.Metadata.Organization
				for _, t := range isi.Tags {
					f.tags = append(f.tags, string(t))
				}
			}
		}
	}

	return f
}

type gnqlStatsBody struct {
	Count int `json:"count"`
	Stats struct {
		Classifications []struct {
			Classification string `json:"classification"`
			Count          int    `json:"count"`
		} `json:"classifications"`
		Countries []struct {
			Country string `json:"country"`
			Count   int    `json:"count"`
		} `json:"countries"`
		Tags []struct {
			Tag   string `json:"tag"`
			Count int    `json:"count"`
		} `json:"tags"`
	} `json:"stats"`
}

// cveStatsTags summarizes GNQL stats for a CVE.
func cveStatsTags(c result.SubscriptionCVE) []result.Tag {
	var body gnqlStatsBody
	if !decode(c.Stats, &body) {
		return nil
	}

	tags := []result.Tag{result.Text("Scanning IPs: " + strconv.Itoa(body.Count))}

	topCountry, topCountryCount := "", -1
	for _, ct := range body.Stats.Countries {
		if ct.Count > topCountryCount {
			topCountry, topCountryCount = ct.Country, ct.Count
		}
	}
	if topCountry != "" {
		tags = append(tags, result.Text("Top Country: "+topCountry))
	}

	topTag, topTagCount := "", -1
	for _, tg := range body.Stats.Tags {
		if tg.Count > topTagCount {
			topTag, topTagCount = tg.Tag, tg.Count
		}
	}
	if topTag != "" {
		tags = append(tags, result.Text("Top Tag: "+topTag))
	}

	for _, cl := range body.Stats.Classifications {
		if cl.Classification == "malicious" {
			tags = append(tags, result.TypedTag("danger", "Malicious IPs: "+strconv.Itoa(cl.Count)))
			break
		}
	}

	return tags
}

type unifiedCVEBody struct {
	Details struct {
		CVSSScore *float64 `json:"cve_cvss_score"`
	} `json:"details"`
	Exploitation struct {
		EPSSScore *float64 `json:"epss_score"`
	} `json:"exploitation_details"`
}

// unifiedCVETags renders CVSS and EPSS scores for a v1 CVE record.
func unifiedCVETags(c result.UnifiedCVE) []result.Tag {
	var body unifiedCVEBody
	if !decode(c.Lookup, &body) {
		return nil
	}

	var tags []result.Tag
	if body.Details.CVSSScore != nil {
		tags = append(tags, result.Text("CVSS: "+formatScore(*body.Details.CVSSScore)))
	}
	if body.Exploitation.EPSSScore != nil && *body.Exploitation.EPSSScore != 0 {
		tags = append(tags, result.Text("EPSS: "+formatScore(*body.Exploitation.EPSSScore)))
	}
	return tags
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func decode(o result.Outcome, v any) bool {
	if o.State != result.StateSuccess || len(o.Body) == 0 {
		return false
	}
	return json.Unmarshal(o.Body, v) == nil
}
