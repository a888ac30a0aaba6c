// Package bridge discovers the remote server's capabilities each turn
// and exposes them as callable model tools.
//
// Declared schemas come from an external, untrusted server, so they are
// parsed into a validated intermediate representation before the
// model-calling layer sees them. Anything outside the closed property
// type set is defaulted to "unknown" rather than rejected, and a
// missing or non-object schema becomes the empty object schema; tool
// registration never fails on a malformed declaration.
package bridge

import (
	"github.com/google/jsonschema-go/jsonschema"
)

// PropType is the closed set of property types accepted from a
// declared capability schema.
type PropType string

const (
	TypeString  PropType = "string"
	TypeNumber  PropType = "number"
	TypeBoolean PropType = "boolean"
	TypeObject  PropType = "object"
	TypeArray   PropType = "array"
	TypeUnknown PropType = "unknown"
)

// Property describes one capability parameter.
type Property struct {
	Type        PropType
	Description string
}

// Schema is the validated parameter set of a capability.
// Properties and Required are always non-nil, possibly empty.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

// ParseSchema converts a declared JSON schema into the intermediate
// representation. Total: absent, nil, or non-object declarations yield
// the empty object schema instead of an error.
func ParseSchema(declared *jsonschema.Schema) Schema {
	out := Schema{
		Properties: make(map[string]Property),
		Required:   []string{},
	}

	if declared == nil || declared.Type != "object" {
		return out
	}

	for name, prop := range declared.Properties {
		p := Property{Type: TypeUnknown}
		if prop != nil {
			p.Description = prop.Description
			switch prop.Type {
			case "string":
				p.Type = TypeString
			case "number", "integer":
				p.Type = TypeNumber
			case "boolean":
				p.Type = TypeBoolean
			case "object":
				p.Type = TypeObject
			case "array":
				p.Type = TypeArray
			}
		}
		out.Properties[name] = p
	}

	// Only keep required names that actually exist as properties.
	for _, name := range declared.Required {
		if _, ok := out.Properties[name]; ok {
			out.Required = append(out.Required, name)
		}
	}

	return out
}

// JSONSchema reconstructs the object schema handed to the model-calling
// layer: always {type: object, properties: ..., required: [...]},
// never a pass-through of the raw declaration.
func (s Schema) JSONSchema() *jsonschema.Schema {
	props := make(map[string]*jsonschema.Schema, len(s.Properties))
	for name, p := range s.Properties {
		js := &jsonschema.Schema{Description: p.Description}
		switch p.Type {
		case TypeString:
			js.Type = "string"
		case TypeNumber:
			js.Type = "number"
		case TypeBoolean:
			js.Type = "boolean"
		case TypeObject:
			js.Type = "object"
		case TypeArray:
			js.Type = "array"
		case TypeUnknown:
			// No type constraint: accept anything for unknown properties.
		}
		props[name] = js
	}

	required := s.Required
	if required == nil {
		required = []string{}
	}

	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}
