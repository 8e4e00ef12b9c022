package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ToString converts scalar values to their string form. Maps and slices are
// rendered as JSON.
func ToString(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}

	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	case json.Number:
		return val.String(), nil
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return string(data), nil
	default:
		return fmt.Sprintf("%v", val), nil
	}
}

// ToFloat converts numbers, numeric strings and booleans to float64.
func ToFloat(v interface{}) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int8:
		return float64(val), nil
	case int16:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint:
		return float64(val), nil
	case uint8:
		return float64(val), nil
	case uint16:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case json.Number:
		return val.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: cannot parse %q as number", ErrTypeMismatch, val)
		}
		return f, nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: cannot convert %T to float", ErrTypeMismatch, v)
	}
}

// ToInt converts v to int, truncating fractional values.
func ToInt(v interface{}) (int, error) {
	f, err := ToFloat(v)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// ParseBool parses the literal forms "true"/"false" (any case, trimmed).
// Anything else is a type mismatch.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q is not a boolean", ErrTypeMismatch, s)
	}
}

// ToBool converts booleans, boolean strings and numbers (non-zero is true).
func ToBool(v interface{}) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		return ParseBool(val)
	case nil:
		return false, fmt.Errorf("%w: nil is not a boolean", ErrTypeMismatch)
	default:
		f, err := ToFloat(val)
		if err != nil {
			return false, err
		}
		return f != 0, nil
	}
}

// IsTruthy reports whether a value counts as true in a loose context:
// false, nil, zero numbers, empty strings and empty collections are false.
func IsTruthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case map[string]interface{}:
		return len(val) > 0
	case []interface{}:
		return len(val) > 0
	default:
		f, err := ToFloat(val)
		if err != nil {
			return true
		}
		return f != 0
	}
}

// ToMap returns v as a string-keyed map.
func ToMap(v interface{}) (map[string]interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		return val, nil
	case map[string]string:
		out := make(map[string]interface{}, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = item
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: cannot convert %T to map", ErrTypeMismatch, v)
	}
}
