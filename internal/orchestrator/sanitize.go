package orchestrator

import "math"

// sanitizeValue walks a decoded-JSON value tree and replaces NaN and
// ±Infinity floats with nil. encoding/json refuses to marshal them, and
// the transcript must never lose a whole tool result over one bad sample.
func sanitizeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = sanitizeValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = sanitizeValue(val)
		}
		return out
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	default:
		return v
	}
}
