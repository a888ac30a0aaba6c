package bridge

import (
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
)

func TestParseSchemaMissingOrMalformed(t *testing.T) {
	tests := []struct {
		name     string
		declared *jsonschema.Schema
	}{
		{"nil schema", nil},
		{"non-object type", &jsonschema.Schema{Type: "string"}},
		{"empty type", &jsonschema.Schema{}},
		{"array at top level", &jsonschema.Schema{Type: "array"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseSchema(tt.declared)
			if got.Properties == nil {
				t.Fatal("Properties is nil, want empty map")
			}
			if got.Required == nil {
				t.Fatal("Required is nil, want empty slice")
			}
			if len(got.Properties) != 0 || len(got.Required) != 0 {
				t.Errorf("got %d properties, %d required, want empty schema",
					len(got.Properties), len(got.Required))
			}
		})
	}
}

func TestParseSchemaPropertyTypes(t *testing.T) {
	declared := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"segment":   {Type: "string", Description: "Road segment ID"},
			"hours":     {Type: "integer"},
			"threshold": {Type: "number"},
			"active":    {Type: "boolean"},
			"filters":   {Type: "object"},
			"cameras":   {Type: "array"},
			"weird":     {Type: "null"},
			"untyped":   {},
			"nilprop":   nil,
		},
		Required: []string{"segment", "hours"},
	}

	got := ParseSchema(declared)

	want := map[string]PropType{
		"segment":   TypeString,
		"hours":     TypeNumber,
		"threshold": TypeNumber,
		"active":    TypeBoolean,
		"filters":   TypeObject,
		"cameras":   TypeArray,
		"weird":     TypeUnknown,
		"untyped":   TypeUnknown,
		"nilprop":   TypeUnknown,
	}
	if len(got.Properties) != len(want) {
		t.Fatalf("got %d properties, want %d", len(got.Properties), len(want))
	}
	for name, wantType := range want {
		p, ok := got.Properties[name]
		if !ok {
			t.Errorf("property %q missing", name)
			continue
		}
		if p.Type != wantType {
			t.Errorf("property %q type = %q, want %q", name, p.Type, wantType)
		}
	}
	if got.Properties["segment"].Description != "Road segment ID" {
		t.Errorf("description not preserved: %q", got.Properties["segment"].Description)
	}
	if len(got.Required) != 2 {
		t.Errorf("required = %v, want [segment hours]", got.Required)
	}
}

func TestParseSchemaDropsUnknownRequiredNames(t *testing.T) {
	declared := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"segment": {Type: "string"},
		},
		Required: []string{"segment", "ghost"},
	}

	got := ParseSchema(declared)
	if len(got.Required) != 1 || got.Required[0] != "segment" {
		t.Errorf("Required = %v, want [segment]", got.Required)
	}
}

func TestJSONSchemaAlwaysObject(t *testing.T) {
	js := ParseSchema(nil).JSONSchema()
	if js.Type != "object" {
		t.Errorf("Type = %q, want object", js.Type)
	}
	if js.Properties == nil {
		t.Error("Properties is nil, want empty map")
	}
	if js.Required == nil {
		t.Error("Required is nil, want empty slice")
	}
}

func TestJSONSchemaRoundTrip(t *testing.T) {
	s := Schema{
		Properties: map[string]Property{
			"segment": {Type: TypeString, Description: "Road segment ID"},
			"hours":   {Type: TypeNumber},
			"extra":   {Type: TypeUnknown},
		},
		Required: []string{"segment"},
	}

	js := s.JSONSchema()
	if js.Properties["segment"].Type != "string" {
		t.Errorf("segment type = %q, want string", js.Properties["segment"].Type)
	}
	if js.Properties["segment"].Description != "Road segment ID" {
		t.Errorf("segment description lost")
	}
	if js.Properties["hours"].Type != "number" {
		t.Errorf("hours type = %q, want number", js.Properties["hours"].Type)
	}
	// Unknown stays unconstrained so the model can still pass a value.
	if js.Properties["extra"].Type != "" {
		t.Errorf("extra type = %q, want unconstrained", js.Properties["extra"].Type)
	}
	if len(js.Required) != 1 || js.Required[0] != "segment" {
		t.Errorf("Required = %v, want [segment]", js.Required)
	}
}
