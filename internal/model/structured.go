// Package model holds the data types that flow through the converter
// pipeline: raw observations read from the receiver, the normalized
// records produced by parser handlers, and the structured payload value
// that carries opaque upstream fields end to end.
package model

// Value is a recursively-typed structured value mirroring a JSON
// document: object, array, string, number, bool, or nil. RawObservation
// and NormalizedRecord carry upstream payload fragments (receiver
// identifiers, category/geo sub-records) as Value so that fields the
// spec does not make contractual still survive the round trip.
type Value = map[string]interface{}

// CloneValue makes a shallow-safe deep copy of a structured value tree
// built out of the JSON-decodable kinds (map, slice, string, float64,
// bool, nil). It is used whenever a payload is merged key-by-key so the
// source map is never mutated through an alias.
func CloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = CloneValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = CloneValue(val)
		}
		return out
	default:
		return v
	}
}

// MergeOverlay merges incoming on top of base at the key level: keys
// present in incoming win, keys only in base are retained. Both maps
// are left untouched; a new map is returned.
func MergeOverlay(base, incoming Value) Value {
	out := make(Value, len(base)+len(incoming))
	for k, v := range base {
		out[k] = CloneValue(v)
	}
	for k, v := range incoming {
		out[k] = CloneValue(v)
	}
	return out
}
