package evaluation

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeConfig is the configuration blob attached to a node. Parameters are
// interpreted by the command backend selected through CommandType.
type NodeConfig struct {
	NodeID      string                 `json:"nodeId" yaml:"nodeId"`
	NodeType    NodeType               `json:"nodeType" yaml:"nodeType"`
	CommandType CommandType            `json:"commandType" yaml:"commandType"`
	Expression  string                 `json:"expression,omitempty" yaml:"expression,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
}

// Param returns a raw parameter value.
func (c NodeConfig) Param(key string) (interface{}, bool) {
	if c.Parameters == nil {
		return nil, false
	}
	v, ok := c.Parameters[key]
	return v, ok
}

// StringParam returns a parameter as a string, or def when absent.
func (c NodeConfig) StringParam(key, def string) string {
	v, ok := c.Param(key)
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

// BoolParam returns a parameter as a bool, or def when absent.
// Strings are parsed with strconv.ParseBool.
func (c NodeConfig) BoolParam(key string, def bool) (bool, error) {
	v, ok := c.Param(key)
	if !ok || v == nil {
		return def, nil
	}
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return def, fmt.Errorf("parameter %s: %q is not a boolean", key, val)
		}
		return b, nil
	default:
		return def, fmt.Errorf("parameter %s: expected boolean, got %T", key, v)
	}
}

// IntParam returns a parameter as an int, or def when absent.
func (c NodeConfig) IntParam(key string, def int) (int, error) {
	v, ok := c.Param(key)
	if !ok || v == nil {
		return def, nil
	}
	switch val := v.(type) {
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case float64:
		if val != float64(int(val)) {
			return def, fmt.Errorf("parameter %s: %v is not an integer", key, val)
		}
		return int(val), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return def, fmt.Errorf("parameter %s: %q is not an integer", key, val)
		}
		return i, nil
	default:
		return def, fmt.Errorf("parameter %s: expected integer, got %T", key, v)
	}
}

// StringMapParam returns a parameter holding a string map (e.g. headers).
func (c NodeConfig) StringMapParam(key string) (map[string]string, error) {
	v, ok := c.Param(key)
	if !ok || v == nil {
		return nil, nil
	}
	out := make(map[string]string)
	switch val := v.(type) {
	case map[string]string:
		for k, s := range val {
			out[k] = s
		}
	case map[string]interface{}:
		for k, s := range val {
			out[k] = fmt.Sprint(s)
		}
	default:
		return nil, fmt.Errorf("parameter %s: expected map, got %T", key, v)
	}
	return out, nil
}

// Clone returns a copy of the config with its own parameter map.
func (c NodeConfig) Clone() NodeConfig {
	out := c
	if c.Parameters != nil {
		out.Parameters = make(map[string]interface{}, len(c.Parameters))
		for k, v := range c.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}
