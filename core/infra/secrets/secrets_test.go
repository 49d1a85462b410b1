package secrets

import (
	"errors"
	"testing"
)

func lookupFrom(m map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}

func TestResolve(t *testing.T) {
	env := map[string]string{
		"TOKEN": "secret://API_TOKEN",
		"MODE":  "release",
		"EMPTY": " secret://BLANK ",
	}
	out, values, err := Resolve(env, lookupFrom(map[string]string{"API_TOKEN": "s3cr3t", "BLANK": ""}))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out["TOKEN"] != "s3cr3t" || out["MODE"] != "release" || out["EMPTY"] != "" {
		t.Fatalf("unexpected resolved env %v", out)
	}
	if env["TOKEN"] != "secret://API_TOKEN" {
		t.Fatalf("input env was modified")
	}
	if len(values) != 1 || values[0] != "s3cr3t" {
		t.Fatalf("unexpected secret values %v", values)
	}
}

func TestResolveMissing(t *testing.T) {
	for _, ref := range []string{"secret://NOPE", "secret://"} {
		_, _, err := Resolve(map[string]string{"X": ref}, lookupFrom(nil))
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", ref, err)
		}
	}
	if out, vals, err := Resolve(nil, nil); err != nil || out != nil || vals != nil {
		t.Fatalf("nil env should pass through")
	}
}

func TestMask(t *testing.T) {
	payload := map[string]any{
		"stdout": "token=abc123 and abc123456",
		"nested": map[string]string{"v": "abc123"},
		"list":   []any{"ok", "xabc123x", 7},
		"names":  []string{"abc123456"},
	}
	masked, changed := Mask(payload, []string{"abc123", "abc123456"})
	if !changed {
		t.Fatalf("expected changes")
	}
	m := masked.(map[string]any)
	if m["stdout"] != "token=<redacted> and <redacted>" {
		t.Fatalf("unexpected stdout %q", m["stdout"])
	}
	if m["nested"].(map[string]string)["v"] != "<redacted>" {
		t.Fatalf("nested map not masked")
	}
	list := m["list"].([]any)
	if list[0] != "ok" || list[1] != "x<redacted>x" || list[2] != 7 {
		t.Fatalf("unexpected list %v", list)
	}
	if m["names"].([]string)[0] != "<redacted>" {
		t.Fatalf("string slice not masked")
	}
	if payload["stdout"] != "token=abc123 and abc123456" {
		t.Fatalf("input was modified")
	}

	if _, changed := Mask(map[string]any{"a": "plain"}, []string{"zzz"}); changed {
		t.Fatalf("expected no change")
	}
	if got := MaskString("pw=hunter2", nil); got != "pw=hunter2" {
		t.Fatalf("no secrets should leave text alone, got %q", got)
	}
	if !IsRef(" secret://x") || IsRef("plain") {
		t.Fatalf("unexpected IsRef results")
	}
}
