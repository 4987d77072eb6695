// Package rpcdispatch is the static method-name table that routes an
// authenticated client's JSON-RPC request onto a Daemon State operation. Its
// argument extractors intentionally reproduce the original daemon's
// fine-grained "missing `x`" vs "missing or invalid `x`" wording: clients
// that inspect error text depend on it.
package rpcdispatch

import "fmt"

func asObject(params any) (map[string]any, bool) {
	m, ok := params.(map[string]any)
	return m, ok
}

// parseString requires key to be present and a string. If params isn't even
// an object, the message omits "or invalid" — the caller couldn't have been
// any more specific about what's wrong with a key in a thing that isn't a
// map at all.
func parseString(params any, key string) (string, error) {
	m, ok := asObject(params)
	if !ok {
		return "", fmt.Errorf("missing `%s`", key)
	}
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("missing or invalid `%s`", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("missing or invalid `%s`", key)
	}
	return s, nil
}

// parseOptionalString returns nil for every failure mode: non-object
// params, absent key, or wrong type. Never an error.
func parseOptionalString(params any, key string) *string {
	m, ok := asObject(params)
	if !ok {
		return nil
	}
	v, ok := m[key]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func parseOptionalU32(params any, key string) *uint32 {
	m, ok := asObject(params)
	if !ok {
		return nil
	}
	v, ok := m[key]
	if !ok {
		return nil
	}
	f, ok := v.(float64)
	if !ok || f < 0 || f > 4294967295 || f != float64(uint32(f)) {
		return nil
	}
	u := uint32(f)
	return &u
}

// parseOptionalStringArray returns nil (absent) if params isn't an object,
// the key is missing, or the value isn't an array; a non-string array
// element is silently dropped rather than failing the whole call.
func parseOptionalStringArray(params any, key string) []string {
	m, ok := asObject(params)
	if !ok {
		return nil
	}
	v, ok := m[key]
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// parseStringArray requires the key to resolve to an array (after the same
// silent element-level filtering as parseOptionalStringArray); any other
// failure mode is reported as "missing `key`", never "missing or invalid".
func parseStringArray(params any, key string) ([]string, error) {
	arr := parseOptionalStringArray(params, key)
	if arr == nil {
		return nil, fmt.Errorf("missing `%s`", key)
	}
	return arr, nil
}

func parseOptionalValue(params any, key string) any {
	m, ok := asObject(params)
	if !ok {
		return nil
	}
	v, ok := m[key]
	if !ok {
		return nil
	}
	return v
}

// parseAuthToken accepts either a bare string or {"token": "..."}.
func parseAuthToken(params any) string {
	switch v := params.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["token"].(string); ok {
			return s
		}
	}
	return ""
}
