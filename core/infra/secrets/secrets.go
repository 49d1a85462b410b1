// Package secrets resolves "secret://NAME" references in step environments
// and masks resolved values in captured output.
package secrets

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	secretPrefix = "secret://"
	redacted     = "<redacted>"
)

// ErrNotFound is returned when a referenced secret has no value.
var ErrNotFound = errors.New("secret not found")

// LookupFunc returns the value for a secret name. os.LookupEnv satisfies it.
type LookupFunc func(name string) (string, bool)

// IsRef reports whether value is a secret reference.
func IsRef(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), secretPrefix)
}

// Resolve returns a copy of env with secret references replaced by their
// values, plus the resolved values for masking. env itself is not modified.
func Resolve(env map[string]string, lookup LookupFunc) (map[string]string, []string, error) {
	if len(env) == 0 {
		return env, nil, nil
	}
	out := make(map[string]string, len(env))
	var values []string
	for k, v := range env {
		if !IsRef(v) {
			out[k] = v
			continue
		}
		name := strings.TrimPrefix(strings.TrimSpace(v), secretPrefix)
		val, ok := "", false
		if name != "" && lookup != nil {
			val, ok = lookup(name)
		}
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q (env %s)", ErrNotFound, name, k)
		}
		out[k] = val
		if val != "" {
			values = append(values, val)
		}
	}
	return out, values, nil
}

// Mask returns a copy of value with every occurrence of a secret value in its
// strings replaced by "<redacted>", and whether anything was replaced.
func Mask(value any, secretValues []string) (any, bool) {
	if len(secretValues) == 0 {
		return value, false
	}
	// longest first so overlapping secrets are fully covered
	vals := append([]string(nil), secretValues...)
	sort.Slice(vals, func(i, j int) bool { return len(vals[i]) > len(vals[j]) })
	return mask(value, vals)
}

func mask(value any, vals []string) (any, bool) {
	switch v := value.(type) {
	case nil:
		return v, false
	case string:
		out := v
		for _, s := range vals {
			out = strings.ReplaceAll(out, s, redacted)
		}
		return out, out != v
	case map[string]any:
		changed := false
		out := make(map[string]any, len(v))
		for k, child := range v {
			red, childChanged := mask(child, vals)
			if childChanged {
				changed = true
			}
			out[k] = red
		}
		return out, changed
	case map[string]string:
		changed := false
		out := make(map[string]string, len(v))
		for k, child := range v {
			red, childChanged := mask(child, vals)
			if childChanged {
				changed = true
			}
			out[k] = red.(string)
		}
		return out, changed
	case []any:
		changed := false
		out := make([]any, len(v))
		for i, child := range v {
			red, childChanged := mask(child, vals)
			if childChanged {
				changed = true
			}
			out[i] = red
		}
		return out, changed
	case []string:
		changed := false
		out := make([]string, len(v))
		for i, child := range v {
			red, childChanged := mask(child, vals)
			if childChanged {
				changed = true
			}
			out[i] = red.(string)
		}
		return out, changed
	default:
		return v, false
	}
}

// MaskString is Mask for a single string.
func MaskString(s string, secretValues []string) string {
	out, _ := Mask(s, secretValues)
	return out.(string)
}
