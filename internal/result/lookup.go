package result

import (
	"encoding/json"

	"github.com/lvonguyen/greylookup/internal/entity"
)

// Tag is one summary entry. A tag with only Text renders as a plain string.
type Tag struct {
	Icon string `json:"icon,omitempty"`
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// Text builds a plain tag.
func Text(s string) Tag {
	return Tag{Text: s}
}

// IconTag builds a tag rendered with an icon.
func IconTag(icon, text string) Tag {
	return Tag{Icon: icon, Text: text}
}

// TypedTag builds a tag rendered with a semantic type (e.g. "danger").
func TypedTag(typ, text string) Tag {
	return Tag{Type: typ, Text: text}
}

// IsPlain reports whether the tag carries only text.
func (t Tag) IsPlain() bool {
	return t.Icon == "" && t.Type == ""
}

// MarshalJSON renders plain tags as bare strings.
func (t Tag) MarshalJSON() ([]byte, error) {
	if t.IsPlain() {
		return json.Marshal(t.Text)
	}
	type structured Tag
	return json.Marshal(structured(t))
}

// UnmarshalJSON accepts both the string and object forms.
func (t *Tag) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Tag{Text: s}
		return nil
	}
	type structured Tag
	var st structured
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	*t = Tag(st)
	return nil
}

// Data is the displayable part of a LookupResult.
type Data struct {
	Summary []Tag          `json:"summary"`
	Details map[string]any `json:"details"`
}

// LookupResult is the per-entity output. A nil Data means the entity should
// not be displayed.
type LookupResult struct {
	Entity entity.Entity `json:"entity"`
	Data   *Data         `json:"data"`
}

// Suppressed reports whether the result carries nothing to display.
func (r LookupResult) Suppressed() bool {
	return r.Data == nil
}
