package topology

import (
	"encoding/json"
	"strconv"
)

// Metadata is a flat map of identifying information for a client.
// Values are either strings or float64 numbers.
type Metadata map[string]any

// CleanMetadata converts arbitrary decoded input into Metadata.
// Only string and numeric values are kept; everything else (nested maps,
// slices, booleans, nil) is silently dropped. Non-map input yields an empty map.
func CleanMetadata(raw any) Metadata {
	cleaned := make(Metadata)

	switch m := raw.(type) {
	case Metadata:
		for k, v := range m {
			if s, ok := Scalar(v); ok {
				cleaned[k] = s
			}
		}
	case map[string]any:
		for k, v := range m {
			if s, ok := Scalar(v); ok {
				cleaned[k] = s
			}
		}
	case map[string]string:
		for k, v := range m {
			cleaned[k] = v
		}
	}

	return cleaned
}

// Scalar normalizes a metadata value. Strings stay strings and every numeric
// kind becomes a float64. The second return value is false for anything else.
func Scalar(v any) (any, bool) {
	switch n := v.(type) {
	case string:
		return n, true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil, false
		}
		return f, true
	}
	return nil, false
}

// Equal reports whether both maps hold the same keys with identical values.
// A string and a number never compare equal, even if they print the same.
func (m Metadata) Equal(other Metadata) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		ov, ok := other[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// String returns the value stored under key rendered as text.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	return FormatScalar(v)
}

// Strings renders every value as text, for regular expression matching.
func (m Metadata) Strings() map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = FormatScalar(v)
	}
	return out
}

// Clone returns a shallow copy. A nil map clones to an empty one.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// FormatScalar renders a metadata value: numbers use the shortest
// representation that round-trips ("5", "0.25").
func FormatScalar(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	if s, ok := Scalar(v); ok {
		return FormatScalar(s)
	}
	return ""
}
