package command

import (
	"math"

	"github.com/steeplecast/steeplecast/internal/proto"
)

// Param extraction helpers. JSON numbers arrive as float64; the
// helpers accept the numeric types the wire can produce and fail
// with invalid_params naming the missing field.

func intParam(params map[string]any, field string) (int, error) {
	v, ok := params[field]
	if !ok {
		return 0, proto.NewError(proto.KindInvalidParams, "missing required param %q", field)
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, proto.NewError(proto.KindInvalidParams, "param %q must be an integer", field)
		}
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, proto.NewError(proto.KindInvalidParams, "param %q must be a number", field)
	}
}

func intParamDefault(params map[string]any, field string, def int) (int, error) {
	if _, ok := params[field]; !ok {
		return def, nil
	}
	return intParam(params, field)
}

func floatParam(params map[string]any, field string) (float64, error) {
	v, ok := params[field]
	if !ok {
		return 0, proto.NewError(proto.KindInvalidParams, "missing required param %q", field)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, proto.NewError(proto.KindInvalidParams, "param %q must be a number", field)
	}
}

func floatParamDefault(params map[string]any, field string, def float64) (float64, error) {
	if _, ok := params[field]; !ok {
		return def, nil
	}
	return floatParam(params, field)
}

func stringParam(params map[string]any, field string) (string, error) {
	v, ok := params[field]
	if !ok {
		return "", proto.NewError(proto.KindInvalidParams, "missing required param %q", field)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", proto.NewError(proto.KindInvalidParams, "param %q must be a non-empty string", field)
	}
	return s, nil
}

func boolParamDefault(params map[string]any, field string, def bool) (bool, error) {
	v, ok := params[field]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, proto.NewError(proto.KindInvalidParams, "param %q must be a boolean", field)
	}
	return b, nil
}
