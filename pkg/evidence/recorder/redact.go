package recorder

import (
	"encoding/json"
	"reflect"

	"mercator-hq/gatekeeper/internal/secretkey"
)

// Redacted replaces the value of every secret-named argument.
const Redacted = secretkey.Redacted

// Sanitize returns a deep copy of args in which every field whose name
// matches a secret marker is replaced by Redacted, at any depth. Nested
// maps and sequences are walked, including sequences of maps. Values that
// are neither scalars nor maps nor sequences are converted through JSON
// first so struct fields are covered too.
//
// Returns nil if args is nil.
func Sanitize(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	return sanitizeMap(args)
}

func sanitizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if secretkey.IsSensitive(k) {
			out[k] = Redacted
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return t
	case map[string]any:
		return sanitizeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = sanitizeValue(item)
		}
		return out
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return sanitizeMap(m)
	case []map[string]any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = sanitizeMap(item)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case error:
		return t.Error()
	}
	return sanitizeOther(v)
}

// sanitizeOther normalizes composite values the switch above does not know
// about. Anything that cannot be represented as JSON is dropped to its
// string form.
func sanitizeOther(v any) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array:
	default:
		if s, ok := v.(interface{ String() string }); ok {
			return s.String()
		}
		return rv.Interface()
	}

	data, err := json.Marshal(v)
	if err != nil {
		return Redacted
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return Redacted
	}
	return sanitizeValue(generic)
}
