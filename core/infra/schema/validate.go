// Package schema compiles JSON Schemas and validates JSON or YAML documents against them.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Schema is a compiled JSON Schema.
type Schema struct {
	id       string
	compiled *jsonschema.Schema
}

// Compile compiles a JSON schema payload registered under id.
func Compile(id string, schema []byte) (*Schema, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema is empty")
	}
	resourceID := schemaID(id)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{id: resourceID, compiled: compiled}, nil
}

// MustCompile is Compile for embedded schemas; it panics on error.
func MustCompile(id string, schema []byte) *Schema {
	s, err := Compile(id, schema)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", id, err))
	}
	return s
}

// Validate checks value, which may be raw JSON bytes or a decoded Go value.
func (s *Schema) Validate(value any) error {
	payload, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("normalize payload: %w", err)
	}
	if err := s.compiled.Validate(payload); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// ValidateYAML decodes a YAML (or JSON) document and validates it.
func (s *Schema) ValidateYAML(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return s.Validate(doc)
}

// normalizeValue produces the plain JSON value tree the validator expects.
func normalizeValue(value any) (any, error) {
	var data []byte
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		data = encoded
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

func schemaID(id string) string {
	if id == "" {
		id = "schema"
	}
	return "inmemory://" + id
}
