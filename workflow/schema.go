package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// ParsedOutputSchema decodes a query step's output_schema table into a
// *jsonschema.Schema, the static check `llmux validate` runs to catch a
// malformed output_schema at parse time rather than at the first run that
// hits the step.
func (s *Step) ParsedOutputSchema() (*jsonschema.Schema, error) {
	if len(s.OutputSchema) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(s.OutputSchema)
	if err != nil {
		return nil, newValidateError("encoding output_schema for validation", err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, newValidateError("decoding output_schema", err)
	}
	return &schema, nil
}

// PropertySchema is one property entry in an output_schema table's
// "properties" object.
type PropertySchema struct {
	Type string
}

// OutputSchema is a query step's declared output_schema narrowed to the
// type/required/property-type checks a structured-output validator
// performs against a step's actual output (spec §7 "OutputParseFailed
// (schema mismatch)"). This is deliberately not full JSON-Schema: no
// validator library for arbitrary JSON values exists anywhere in the
// retrieved corpus (jsonschema.Schema only decodes a schema definition,
// it does not check data against one), so the check is the same narrow
// type/required/property-type walk a structured-output parser performs
// by hand.
type OutputSchema struct {
	Type       string
	Required   []string
	Properties map[string]PropertySchema
}

// ParseOutputSchema decodes a step's output_schema table into the narrow
// runtime-check shape, or returns nil if the step declares none.
func (s *Step) ParseOutputSchema() *OutputSchema {
	if len(s.OutputSchema) == 0 {
		return nil
	}
	schema := &OutputSchema{Type: "object"}
	if t, ok := s.OutputSchema["type"].(string); ok && t != "" {
		schema.Type = t
	}
	if req, ok := s.OutputSchema["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				schema.Required = append(schema.Required, name)
			}
		}
	}
	if props, ok := s.OutputSchema["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]PropertySchema, len(props))
		for name, raw := range props {
			propTable, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			pt, _ := propTable["type"].(string)
			schema.Properties[name] = PropertySchema{Type: pt}
		}
	}
	return schema
}

// ExtractJSON locates a JSON value embedded in free-form model output,
// trying progressively looser strategies: a fenced ```json block, any
// fenced code block, the whole text parsed directly, then the first
// balanced {...} or [...] found anywhere in it. Mirrors a structured-
// output parser's extract-then-validate split.
func ExtractJSON(text string) (json.RawMessage, bool) {
	if raw, ok := extractFencedJSON(text, "json"); ok {
		return raw, true
	}
	if raw, ok := extractFencedJSON(text, ""); ok {
		return raw, true
	}
	if trimmed := strings.TrimSpace(text); trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), true
	}
	return findEmbeddedJSON(text)
}

func extractFencedJSON(text, lang string) (json.RawMessage, bool) {
	fence := "```" + lang
	start := strings.Index(text, fence)
	if start < 0 {
		return nil, false
	}
	rest := text[start+len(fence):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return nil, false
	}
	body := strings.TrimSpace(rest[:end])
	if body == "" || !json.Valid([]byte(body)) {
		return nil, false
	}
	return json.RawMessage(body), true
}

// findEmbeddedJSON scans for the first '{' or '[' and walks forward,
// string-escape aware, until the matching close bracket balances back to
// zero, the same way a hand-rolled extractor recovers JSON a model wrapped
// in prose instead of a code fence.
func findEmbeddedJSON(text string) (json.RawMessage, bool) {
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '{' && c != '[' {
			continue
		}
		if raw, ok := tryParseFrom(text, i); ok {
			return raw, true
		}
	}
	return nil, false
}

func tryParseFrom(text string, start int) (json.RawMessage, bool) {
	open := text[start]
	closeCh := byte('}')
	if open == '[' {
		closeCh = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if json.Valid([]byte(candidate)) {
					return json.RawMessage(candidate), true
				}
				return nil, false
			}
		}
	}
	return nil, false
}

// ValidateAgainstSchema checks value against schema's declared type,
// required fields, and per-property types, returning one message per
// mismatch (empty when value conforms).
func ValidateAgainstSchema(value json.RawMessage, schema *OutputSchema) []string {
	var v any
	if err := json.Unmarshal(value, &v); err != nil {
		return []string{fmt.Sprintf("invalid JSON: %v", err)}
	}

	if schema.Type != "" && jsonValueType(v) != schema.Type {
		return []string{fmt.Sprintf("expected type %q, got %q", schema.Type, jsonValueType(v))}
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}

	var errs []string
	for _, name := range schema.Required {
		if _, present := obj[name]; !present {
			errs = append(errs, fmt.Sprintf("missing required property %q", name))
		}
	}
	for name, prop := range schema.Properties {
		if prop.Type == "" {
			continue
		}
		val, present := obj[name]
		if !present {
			continue
		}
		if got := jsonValueType(val); got != prop.Type {
			errs = append(errs, fmt.Sprintf("property %q: expected type %q, got %q", name, prop.Type, got))
		}
	}
	return errs
}

func jsonValueType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}
