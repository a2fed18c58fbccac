// Package extraction turns free-form conversation replies into structured
// onboarding field values via the completion service.
package extraction

import (
	"strings"

	"github.com/loquahq/loqua/internal/config"
)

// Field is one entry of the onboarding field schema.
type Field struct {
	ID          string
	Label       string
	Required    bool
	Description string
}

// Keywords returns lower-cased tokens associated with the field, used to
// check that a generated prompt actually asks about it.
func (f Field) Keywords() []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(token string) {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			return
		}
		if _, ok := seen[token]; ok {
			return
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	add(f.ID)
	for _, word := range strings.Fields(f.Label) {
		add(word)
	}
	return out
}

// Schema is the ordered list of fields collected during onboarding.
type Schema struct {
	Fields []Field
}

// SchemaFromConfig builds a Schema from the config section, preserving order.
func SchemaFromConfig(cfg config.OnboardingConfig) Schema {
	fields := make([]Field, 0, len(cfg.Fields))
	for _, f := range cfg.Fields {
		if strings.TrimSpace(f.ID) == "" {
			continue
		}
		fields = append(fields, Field{
			ID:          strings.TrimSpace(f.ID),
			Label:       f.Label,
			Required:    f.Required,
			Description: f.Description,
		})
	}
	return Schema{Fields: fields}
}

// Get returns the field with the given id.
func (s Schema) Get(id string) (Field, bool) {
	for _, f := range s.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// NextMissing returns the first field, in declared order, whose value is
// absent from collected. A field already collected is never re-asked.
func (s Schema) NextMissing(collected map[string]string) (Field, bool) {
	for _, f := range s.Fields {
		if strings.TrimSpace(collected[f.ID]) == "" {
			return f, true
		}
	}
	return Field{}, false
}
