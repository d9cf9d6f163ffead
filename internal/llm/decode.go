package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrInvalidJSON     = errors.New("model output is not valid JSON")
	ErrSchemaViolation = errors.New("model output does not match schema")
)

// Schema is a compiled JSON Schema used to validate structured model output
type Schema struct {
	schema *gojsonschema.Schema
}

// MustSchema compiles a schema literal and panics when it is malformed.
// Schemas are package-level constants, so a bad one is a programming error.
func MustSchema(source string) *Schema {
	s, err := NewSchema(source)
	if err != nil {
		panic(err)
	}
	return s
}

func NewSchema(source string) (*Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{schema: compiled}, nil
}

// DecodeJSON extracts the JSON object from a model reply (tolerating code
// fences and surrounding prose), validates it against schema when one is
// given, and unmarshals it into out.
func DecodeJSON(text string, schema *Schema, out any) error {
	raw := ExtractJSON(text)
	if raw == "" {
		return ErrInvalidJSON
	}
	if !json.Valid([]byte(raw)) {
		return fmt.Errorf("%w: %.80q", ErrInvalidJSON, raw)
	}
	if schema != nil {
		result, err := schema.schema.Validate(gojsonschema.NewStringLoader(raw))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(msgs, "; "))
		}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

// ExtractJSON returns the first balanced {...} object in text, or ""
func ExtractJSON(text string) string {
	text = StripFences(text)
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// StripFences removes a surrounding markdown code fence, if any
func StripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}
