package models

import (
	"fmt"
	"regexp"
	"sort"
	"time"
)

var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

// Template is a reusable reply pattern with named placeholders such as {price}
type Template struct {
	Name        string      `json:"name" yaml:"name" gorm:"primaryKey"`
	Category    MessageType `json:"category" yaml:"category" gorm:"index;not null"`
	Text        string      `json:"text" yaml:"text" gorm:"not null"`
	Variables   []string    `json:"variables" yaml:"variables" gorm:"serializer:json"`
	UsageCount  int         `json:"usage_count" yaml:"-"`
	Outcomes    int         `json:"outcomes" yaml:"-"`
	SuccessRate float64     `json:"success_rate" yaml:"-"`
	Active      bool        `json:"active" yaml:"-" gorm:"default:true"`
	CreatedAt   time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time   `json:"updated_at" yaml:"-"`
}

// TableName overrides the table name
func (Template) TableName() string {
	return "reply_templates"
}

// Placeholders returns the distinct placeholder names referenced in text, sorted
func Placeholders(text string) []string {
	seen := map[string]struct{}{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		seen[m[1]] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReplacePlaceholders substitutes every {name} through lookup; the first unresolved name is returned
func ReplacePlaceholders(text string, lookup func(name string) (string, bool)) (string, string) {
	var missing string
	out := placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := lookup(name); ok {
			return v
		}
		if missing == "" {
			missing = name
		}
		return m
	})
	return out, missing
}

// Validate checks that the declared variables cover every placeholder in the text
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if !t.Category.Valid() {
		return fmt.Errorf("template %q has unknown category %q", t.Name, t.Category)
	}
	if t.Text == "" {
		return fmt.Errorf("template %q has empty text", t.Name)
	}
	declared := make(map[string]struct{}, len(t.Variables))
	for _, v := range t.Variables {
		declared[v] = struct{}{}
	}
	for _, p := range Placeholders(t.Text) {
		if _, ok := declared[p]; !ok {
			return fmt.Errorf("template %q uses placeholder {%s} missing from its variables", t.Name, p)
		}
	}
	return nil
}
