package handlers

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
)

// ParamError names the argument that failed resolution or validation.
type ParamError struct {
	Field   string
	Message string
	Err     error
}

func (e *ParamError) Error() string {
	msg := fmt.Sprintf("param %q: %s", e.Field, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParamError) Unwrap() error { return e.Err }

// ResolveArgs renders args against ctx and validates them against schema.
// Opaque params pass through unrendered. Missing params take their default;
// a missing required param is an error. Values are coerced to the declared
// type. Args not named in the schema are rendered and kept.
func ResolveArgs(schema map[string]*parser.Param, args map[string]any, resolver *env.Resolver, ctx *env.Context) (map[string]any, error) {
	out := make(map[string]any, len(args)+len(schema))

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		raw := args[name]
		p := schema[name]
		if p != nil && p.Opaque {
			out[name] = raw
			continue
		}
		v, err := resolver.Walk(raw, ctx)
		if err != nil {
			return nil, &ParamError{Field: name, Message: "render", Err: err}
		}
		out[name] = v
	}

	declared := make([]string, 0, len(schema))
	for name := range schema {
		declared = append(declared, name)
	}
	sort.Strings(declared)

	for _, name := range declared {
		p := schema[name]
		if p == nil {
			continue
		}
		v, ok := out[name]
		if !ok {
			if p.Required {
				return nil, &ParamError{Field: name, Message: "required param is missing"}
			}
			if p.Default == nil {
				continue
			}
			v = p.Default
		}
		coerced, err := Coerce(v, p.Type)
		if err != nil {
			return nil, &ParamError{Field: name, Message: err.Error()}
		}
		out[name] = coerced
	}
	return out, nil
}

// Coerce converts v to the declared type. An empty type or "any" accepts
// everything.
func Coerce(v any, typ string) (any, error) {
	switch strings.ToLower(typ) {
	case "", "any":
		return v, nil
	case "string":
		switch t := v.(type) {
		case string:
			return t, nil
		case float64, bool:
			return env.Stringify(t), nil
		}
	case "number":
		switch t := v.(type) {
		case float64:
			return t, nil
		case int:
			return float64(t), nil
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return f, nil
			}
		}
	case "integer":
		switch t := v.(type) {
		case float64:
			if t == math.Trunc(t) {
				return t, nil
			}
		case int:
			return float64(t), nil
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
				return float64(n), nil
			}
		}
	case "boolean":
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
				return b, nil
			}
		}
	case "array":
		switch t := v.(type) {
		case []any:
			return t, nil
		case string:
			var out []any
			if json.Unmarshal([]byte(t), &out) == nil {
				return out, nil
			}
		}
	case "object":
		switch t := v.(type) {
		case map[string]any:
			return t, nil
		case string:
			var out map[string]any
			if json.Unmarshal([]byte(t), &out) == nil && out != nil {
				return out, nil
			}
		}
	default:
		return nil, fmt.Errorf("unknown type %q", typ)
	}
	return nil, fmt.Errorf("expected %s, got %s", typ, typeOf(v))
}

func typeOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64, int:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	if env.IsUndefined(v) {
		return "undefined"
	}
	return fmt.Sprintf("%T", v)
}
