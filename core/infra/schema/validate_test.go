package schema

import (
	"encoding/json"
	"testing"
)

const nameSchema = `{"type":"object","properties":{"name":{"type":"string"},"count":{"type":"integer","minimum":1}},"required":["name"]}`

func TestValidate(t *testing.T) {
	s := MustCompile("test", []byte(nameSchema))
	if err := s.Validate(map[string]any{"name": "ok"}); err != nil {
		t.Fatalf("expected valid document: %v", err)
	}
	if err := s.Validate(map[string]any{"nope": "bad"}); err == nil {
		t.Fatalf("expected schema validation error")
	}
	if err := s.Validate(json.RawMessage(`{"name":"raw","count":3}`)); err != nil {
		t.Fatalf("expected valid raw document: %v", err)
	}
}

func TestValidateYAML(t *testing.T) {
	s := MustCompile("yaml", []byte(nameSchema))
	if err := s.ValidateYAML([]byte("name: nightly\ncount: 2\n")); err != nil {
		t.Fatalf("expected valid yaml: %v", err)
	}
	if err := s.ValidateYAML([]byte("name: nightly\ncount: 0\n")); err == nil {
		t.Fatalf("expected minimum violation")
	}
	if err := s.ValidateYAML([]byte("name: [unclosed")); err == nil {
		t.Fatalf("expected yaml decode error")
	}
}

func TestNormalizeValue(t *testing.T) {
	val, err := normalizeValue(json.RawMessage(`{"k":"v"}`))
	if err != nil {
		t.Fatalf("normalize raw: %v", err)
	}
	m, ok := val.(map[string]any)
	if !ok || m["k"] != "v" {
		t.Fatalf("unexpected normalized value")
	}
	val, err = normalizeValue(map[string]any{"n": 3})
	if err != nil {
		t.Fatalf("normalize map: %v", err)
	}
	if n := val.(map[string]any)["n"]; n != float64(3) {
		t.Fatalf("expected float64 number, got %T", n)
	}
}

func TestCompileEmpty(t *testing.T) {
	if _, err := Compile("test", nil); err == nil {
		t.Fatalf("expected error for empty schema")
	}
	if _, err := Compile("test", []byte("{")); err == nil {
		t.Fatalf("expected error for malformed schema")
	}
}

func TestNormalizeValueInvalidJSON(t *testing.T) {
	if _, err := normalizeValue(json.RawMessage("{")); err == nil {
		t.Fatalf("expected error for invalid raw json")
	}
	if _, err := normalizeValue([]byte("{")); err == nil {
		t.Fatalf("expected error for invalid byte json")
	}
}

func TestSchemaIDDefault(t *testing.T) {
	if got := schemaID(""); got != "inmemory://schema" {
		t.Fatalf("unexpected schema id: %s", got)
	}
}
