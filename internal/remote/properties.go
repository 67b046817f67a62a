package remote

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind enumerates the closed set of property kinds the engine emits or
// reads. The remote API supports more; anything outside this set is carried
// opaquely and never constructed by the engine.
type Kind int

const (
	KindTitle Kind = iota
	KindRichText
	KindSelect
	KindStatus
	KindNumber
	KindDate
	KindRelation
)

// String returns the remote API's wire name for the kind.
func (k Kind) String() string {
	switch k {
	case KindTitle:
		return "title"
	case KindRichText:
		return "rich_text"
	case KindSelect:
		return "select"
	case KindStatus:
		return "status"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	case KindRelation:
		return "relation"
	default:
		return "unknown"
	}
}

// Property is a tagged variant over the closed kind set. Exactly one value
// field is meaningful for a given Kind:
//
//	KindTitle, KindRichText  → Text
//	KindSelect, KindStatus   → Name
//	KindNumber               → Number
//	KindDate                 → Date
//	KindRelation             → Relations (remote page ids)
type Property struct {
	Kind      Kind
	Text      string
	Name      string
	Number    float64
	Date      *time.Time
	Relations []string
}

// PropertyMap is the property payload of one record, keyed by property name.
type PropertyMap map[string]Property

// Title constructs a title property.
func Title(text string) Property { return Property{Kind: KindTitle, Text: text} }

// RichText constructs a rich-text property.
func RichText(text string) Property { return Property{Kind: KindRichText, Text: text} }

// Select constructs a select property.
func Select(name string) Property { return Property{Kind: KindSelect, Name: name} }

// StatusProp constructs a status property.
func StatusProp(name string) Property { return Property{Kind: KindStatus, Name: name} }

// Number constructs a number property.
func Number(n float64) Property { return Property{Kind: KindNumber, Number: n} }

// Relation constructs a relation property linking to the given page ids.
func Relation(ids ...string) Property { return Property{Kind: KindRelation, Relations: ids} }

// richText is the wire shape of one rich-text fragment.
type richText struct {
	Text struct {
		Content string `json:"content"`
	} `json:"text"`
	PlainText string `json:"plain_text,omitempty"`
}

func fragments(text string) []richText {
	if text == "" {
		return []richText{}
	}
	var f richText
	f.Text.Content = text
	return []richText{f}
}

type namedOption struct {
	Name string `json:"name"`
}

type relationRef struct {
	ID string `json:"id"`
}

type dateValue struct {
	Start string `json:"start"`
}

// MarshalJSON emits the remote API's wire shape for the property.
func (p Property) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case KindTitle:
		return json.Marshal(map[string]any{"title": fragments(p.Text)})
	case KindRichText:
		return json.Marshal(map[string]any{"rich_text": fragments(p.Text)})
	case KindSelect:
		if p.Name == "" {
			return json.Marshal(map[string]any{"select": nil})
		}
		return json.Marshal(map[string]any{"select": namedOption{Name: p.Name}})
	case KindStatus:
		return json.Marshal(map[string]any{"status": namedOption{Name: p.Name}})
	case KindNumber:
		return json.Marshal(map[string]any{"number": p.Number})
	case KindDate:
		if p.Date == nil {
			return json.Marshal(map[string]any{"date": nil})
		}
		return json.Marshal(map[string]any{"date": dateValue{Start: p.Date.Format(time.RFC3339)}})
	case KindRelation:
		refs := make([]relationRef, 0, len(p.Relations))
		for _, id := range p.Relations {
			refs = append(refs, relationRef{ID: id})
		}
		return json.Marshal(map[string]any{"relation": refs})
	}
	return nil, fmt.Errorf("unknown property kind %d", p.Kind)
}

// UnmarshalJSON parses the wire shape back into the tagged variant.
// Properties of kinds outside the closed set decode to a zero Property with
// an unknown kind; the engine skips them.
func (p *Property) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     string          `json:"type"`
		Title    []richText      `json:"title"`
		RichText []richText      `json:"rich_text"`
		Select   *namedOption    `json:"select"`
		Status   *namedOption    `json:"status"`
		Number   *float64        `json:"number"`
		Date     *dateValue      `json:"date"`
		Relation json.RawMessage `json:"relation"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch {
	case raw.Title != nil:
		p.Kind = KindTitle
		p.Text = joinFragments(raw.Title)
	case raw.RichText != nil:
		p.Kind = KindRichText
		p.Text = joinFragments(raw.RichText)
	case raw.Select != nil:
		p.Kind = KindSelect
		p.Name = raw.Select.Name
	case raw.Status != nil:
		p.Kind = KindStatus
		p.Name = raw.Status.Name
	case raw.Number != nil:
		p.Kind = KindNumber
		p.Number = *raw.Number
	case raw.Date != nil:
		p.Kind = KindDate
		if t, err := time.Parse(time.RFC3339, raw.Date.Start); err == nil {
			p.Date = &t
		}
	case raw.Relation != nil:
		p.Kind = KindRelation
		var refs []relationRef
		if err := json.Unmarshal(raw.Relation, &refs); err == nil {
			for _, r := range refs {
				p.Relations = append(p.Relations, r.ID)
			}
		}
	}
	return nil
}

func joinFragments(frags []richText) string {
	out := ""
	for _, f := range frags {
		if f.PlainText != "" {
			out += f.PlainText
		} else {
			out += f.Text.Content
		}
	}
	return out
}

// PlainText returns the text of a title or rich-text property by name,
// or "" when the property is absent or of another kind.
func (m PropertyMap) PlainText(name string) string {
	p, ok := m[name]
	if !ok || (p.Kind != KindTitle && p.Kind != KindRichText) {
		return ""
	}
	return p.Text
}

// RelationIDs returns the relation targets of a relation property by name,
// or nil when the property is absent or of another kind.
func (m PropertyMap) RelationIDs(name string) []string {
	p, ok := m[name]
	if !ok || p.Kind != KindRelation {
		return nil
	}
	return p.Relations
}
