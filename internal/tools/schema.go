package tools

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Kind is the type of a schema node
type Kind string

const (
	KindObject  Kind = "object"
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindEnum    Kind = "enum"
)

// Schema describes a tool's input. Object properties keep declaration order
// so generated declarations are stable.
type Schema struct {
	Kind        Kind
	Description string
	Properties  []Property
	Items       *Schema
	Values      []string
	Optional    bool
}

// Property is one named field of an object schema
type Property struct {
	Name   string
	Schema Schema
}

func Object(props ...Property) Schema { return Schema{Kind: KindObject, Properties: props} }

func Prop(name string, s Schema) Property { return Property{Name: name, Schema: s} }

func String(desc string) Schema { return Schema{Kind: KindString, Description: desc} }

func Number(desc string) Schema { return Schema{Kind: KindNumber, Description: desc} }

func Integer(desc string) Schema { return Schema{Kind: KindInteger, Description: desc} }

func Boolean(desc string) Schema { return Schema{Kind: KindBoolean, Description: desc} }

func Array(items Schema, desc string) Schema {
	return Schema{Kind: KindArray, Items: &items, Description: desc}
}

func Enum(desc string, values ...string) Schema {
	return Schema{Kind: KindEnum, Description: desc, Values: values}
}

// Optional marks s as not required in its parent object
func Optional(s Schema) Schema {
	s.Optional = true
	return s
}

// FunctionDeclaration is the shape the model expects for callable tools
type FunctionDeclaration struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Parameters  *Declaration `json:"parameters,omitempty"`
}

// Declaration is a schema node with upper-case type names
type Declaration struct {
	Type        string                  `json:"type"`
	Description string                  `json:"description,omitempty"`
	Properties  map[string]*Declaration `json:"properties,omitempty"`
	Items       *Declaration            `json:"items,omitempty"`
	Enum        []string                `json:"enum,omitempty"`
	Required    []string                `json:"required,omitempty"`
}

// ToFunctionDeclaration converts a descriptor's input schema. Enums become
// STRING with an enum list and required is inferred from non-optional fields.
func ToFunctionDeclaration(d Descriptor) FunctionDeclaration {
	fd := FunctionDeclaration{Name: d.Name, Description: d.Description}
	if d.Schema.Kind != "" {
		fd.Parameters = declare(d.Schema)
	}
	return fd
}

func declare(s Schema) *Declaration {
	out := &Declaration{Description: s.Description}
	switch s.Kind {
	case KindEnum:
		out.Type = "STRING"
		out.Enum = append([]string(nil), s.Values...)
	case KindArray:
		out.Type = "ARRAY"
		if s.Items != nil {
			out.Items = declare(*s.Items)
		}
	case KindObject:
		out.Type = "OBJECT"
		out.Properties = make(map[string]*Declaration, len(s.Properties))
		for _, p := range s.Properties {
			out.Properties[p.Name] = declare(p.Schema)
			if !p.Schema.Optional {
				out.Required = append(out.Required, p.Name)
			}
		}
	default:
		out.Type = strings.ToUpper(string(s.Kind))
	}
	return out
}

// JSONSchema renders s as a draft-07 JSON Schema document
func (s Schema) JSONSchema() map[string]any {
	out := map[string]any{}
	if s.Description != "" {
		out["description"] = s.Description
	}
	switch s.Kind {
	case KindEnum:
		out["type"] = "string"
		values := make([]any, len(s.Values))
		for i, v := range s.Values {
			values[i] = v
		}
		out["enum"] = values
	case KindArray:
		out["type"] = "array"
		if s.Items != nil {
			out["items"] = s.Items.JSONSchema()
		}
	case KindObject:
		out["type"] = "object"
		props := make(map[string]any, len(s.Properties))
		var required []any
		for _, p := range s.Properties {
			props[p.Name] = p.Schema.JSONSchema()
			if !p.Schema.Optional {
				required = append(required, p.Name)
			}
		}
		out["properties"] = props
		if len(required) > 0 {
			out["required"] = required
		}
	default:
		out["type"] = string(s.Kind)
	}
	return out
}

// compile builds the argument validator for s. An empty schema accepts anything.
func (s Schema) compile() (*gojsonschema.Schema, error) {
	if s.Kind == "" {
		return nil, nil
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(s.JSONSchema()))
	if err != nil {
		return nil, fmt.Errorf("compile input schema: %w", err)
	}
	return compiled, nil
}

func validateArgs(schema *gojsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(msgs, "; "))
}
