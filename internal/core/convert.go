package core

import (
	"encoding/json"
	"fmt"
)

// ToGuestValue deep-converts a host value into the plain structured form
// guests work with: nil, bool, string, float64, []any, map[string]any.
// Structs and other composite types go through a JSON round trip, matching
// how values cross the JS boundary in native mode.
func ToGuestValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool, string, float64:
		return x
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = ToGuestValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = ToGuestValue(e)
		}
		return out
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return fmt.Sprint(v)
		}
		return out
	}
}
