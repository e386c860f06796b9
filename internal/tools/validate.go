package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// validateArguments checks args against the declared parameters: required
// parameters must be present and non-null, declared parameters must carry
// the declared primitive type, and enum parameters must hold a listed value.
// Undeclared arguments are ignored.
func validateArguments(params []Parameter, args map[string]any) error {
	for _, p := range params {
		value, present := args[p.Name]
		if !present || value == nil {
			if p.Optional {
				continue
			}
			return &ArgumentError{Param: p.Name, Reason: "missing required argument"}
		}
		if p.Type != "" {
			if err := checkType(value, p.Type); err != nil {
				return &ArgumentError{Param: p.Name, Reason: err.Error()}
			}
		}
		if len(p.Enum) > 0 {
			s, _ := value.(string)
			if !slices.Contains(p.Enum, s) {
				return &ArgumentError{Param: p.Name, Reason: fmt.Sprintf("value %v is not one of %v", value, p.Enum)}
			}
		}
	}
	return nil
}

func checkType(value any, expected string) error {
	switch expected {
	case TypeString:
		if _, ok := value.(string); ok {
			return nil
		}
	case TypeNumber:
		if isNumber(value) {
			return nil
		}
	case TypeInteger:
		if isInteger(value) {
			return nil
		}
	case TypeBoolean:
		if _, ok := value.(bool); ok {
			return nil
		}
	case TypeObject:
		if _, ok := value.(map[string]any); ok {
			return nil
		}
	case TypeArray:
		if _, ok := value.([]any); ok {
			return nil
		}
	default:
		return fmt.Errorf("unsupported type %q", expected)
	}
	return fmt.Errorf("expected %s but got %T", expected, value)
}

func isNumber(value any) bool {
	switch v := value.(type) {
	case float32, float64:
		return true
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		_, err := v.Float64()
		return err == nil
	}
	return false
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return v == float32(math.Trunc(float64(v)))
	case float64:
		return v == math.Trunc(v) && !math.IsInf(v, 0)
	case json.Number:
		_, err := v.Int64()
		return err == nil
	}
	return false
}

// StringArg returns a string argument, or "" when absent.
func StringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// IntArg returns an integer argument, or def when absent or not numeric.
func IntArg(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}
