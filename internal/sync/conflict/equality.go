package conflict

import (
	"encoding/json"

	"github.com/google/go-cmp/cmp"
)

// normalizeValue canonicalizes a value through a JSON round-trip so that
// comparisons are key-order-independent and numerically uniform (every
// number becomes a float64). Snapshots come from JSON on one side and Go
// code on the other; without this, 3 and 3.0 would look different.
func normalizeValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// valuesEqual performs canonical structural equality between two field values.
func valuesEqual(a, b interface{}) bool {
	return cmp.Equal(normalizeValue(a), normalizeValue(b))
}

// isEmptyValue reports whether a value carries no user data.
func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	default:
		return false
	}
}

// stringValue returns the value as a string for combine-merging.
// Non-string values combine as their JSON rendering.
func stringValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
