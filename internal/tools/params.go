package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/jkaninda/mcpkit/internal/toolerr"
)

// RequireString extracts a required string param. Empty strings are allowed;
// the tool decides what an empty value means.
func RequireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: missing required parameter %s", toolerr.ErrInvalidArgument, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: parameter %s must be a string, got %T", toolerr.ErrInvalidArgument, key, v)
	}
	return s, nil
}

// OptionalString extracts a string param, returning def when absent or empty.
func OptionalString(params map[string]any, key, def string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: parameter %s must be a string, got %T", toolerr.ErrInvalidArgument, key, v)
	}
	if s == "" {
		return def, nil
	}
	return s, nil
}

// OptionalInt extracts an integer param, returning def when absent.
// JSON numbers arrive as float64 and must be whole.
func OptionalInt(params map[string]any, key string, def int64) (int64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, fmt.Errorf("%w: parameter %s must be an integer, got %v", toolerr.ErrInvalidArgument, key, n)
		}
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: parameter %s must be an integer, got %q", toolerr.ErrInvalidArgument, key, n)
		}
		return i, nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: parameter %s must be an integer, got %q", toolerr.ErrInvalidArgument, key, n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%w: parameter %s must be an integer, got %T", toolerr.ErrInvalidArgument, key, v)
	}
}

// OptionalBool extracts a boolean param, returning def when absent.
func OptionalBool(params map[string]any, key string, def bool) (bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("%w: parameter %s must be a boolean, got %q", toolerr.ErrInvalidArgument, key, b)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("%w: parameter %s must be a boolean, got %T", toolerr.ErrInvalidArgument, key, v)
	}
}
