package extract

import (
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// Schema declares the structure a parsed response must have: required
// top-level keys and, for array fields, the keys every item must carry.
type Schema struct {
	Required []string
	Items    map[string][]string

	compiled *gojsonschema.Schema
}

// NewSchema compiles a Schema into a JSON Schema document.
func NewSchema(required []string, items map[string][]string) (*Schema, error) {
	s := &Schema{Required: required, Items: items}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(s.document()))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	s.compiled = compiled
	return s, nil
}

// MustSchema is like NewSchema but panics on error. Use it for
// package-level schema declarations.
func MustSchema(required []string, items map[string][]string) *Schema {
	s, err := NewSchema(required, items)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) document() map[string]any {
	props := map[string]any{}
	for field, keys := range s.Items {
		item := map[string]any{"type": "object"}
		if len(keys) > 0 {
			item["required"] = keys
		}
		props[field] = map[string]any{"type": "array", "items": item}
	}
	doc := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		doc["required"] = s.Required
	}
	return doc
}

// Validate checks a JSON document against the schema and returns the
// mismatches, sorted. An empty slice means the document is valid.
func (s *Schema) Validate(doc []byte) []string {
	res, err := s.compiled.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return []string{"validate: " + err.Error()}
	}
	if res.Valid() {
		return nil
	}
	var out []string
	for _, e := range res.Errors() {
		out = append(out, e.String())
	}
	sort.Strings(out)
	return out
}
