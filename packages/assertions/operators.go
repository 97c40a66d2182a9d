package assertions

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/abdul-hamid-achik/hitscript/packages/builtin"
	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
)

// Operator is one of the fixed check operators. The set is closed: checks
// cannot define new ones.
type Operator int

const (
	OpEq Operator = iota
	OpNeq
	OpGt
	OpGte
	OpLt
	OpLte
	OpStartsWith
	OpEndsWith
	OpIncludes
	OpNotStartsWith
	OpNotEndsWith
	OpNotIncludes
	OpEmpty
	OpNotEmpty
	OpNull
	OpNotNull
	OpUndefined
	OpNotUndefined
	OpLength
	OpMatches
	OpType
)

type operatorDef struct {
	name  string
	arity int
	eval  func(args []any) (bool, error)
}

var operators = [...]operatorDef{
	OpEq:            {"eq", 2, func(a []any) (bool, error) { return looseEqual(a[0], a[1]), nil }},
	OpNeq:           {"neq", 2, func(a []any) (bool, error) { return !looseEqual(a[0], a[1]), nil }},
	OpGt:            {"gt", 2, ordering("gt", func(c int) bool { return c > 0 })},
	OpGte:           {"gte", 2, ordering("gte", func(c int) bool { return c >= 0 })},
	OpLt:            {"lt", 2, ordering("lt", func(c int) bool { return c < 0 })},
	OpLte:           {"lte", 2, ordering("lte", func(c int) bool { return c <= 0 })},
	OpStartsWith:    {"startsWith", 2, stringTest("startsWith", strings.HasPrefix, false)},
	OpEndsWith:      {"endsWith", 2, stringTest("endsWith", strings.HasSuffix, false)},
	OpIncludes:      {"includes", 2, stringTest("includes", strings.Contains, false)},
	OpNotStartsWith: {"notStartsWith", 2, stringTest("notStartsWith", strings.HasPrefix, true)},
	OpNotEndsWith:   {"notEndsWith", 2, stringTest("notEndsWith", strings.HasSuffix, true)},
	OpNotIncludes:   {"notIncludes", 2, stringTest("notIncludes", strings.Contains, true)},
	OpEmpty:         {"empty", 1, func(a []any) (bool, error) { return isEmpty(a[0]), nil }},
	OpNotEmpty:      {"notEmpty", 1, func(a []any) (bool, error) { return !isEmpty(a[0]), nil }},
	OpNull:          {"null", 1, func(a []any) (bool, error) { return isNullish(a[0]), nil }},
	OpNotNull:       {"notNull", 1, func(a []any) (bool, error) { return !isNullish(a[0]), nil }},
	OpUndefined:     {"undefined", 1, func(a []any) (bool, error) { return isNullish(a[0]), nil }},
	OpNotUndefined:  {"notUndefined", 1, func(a []any) (bool, error) { return !isNullish(a[0]), nil }},
	OpLength:        {"length", 3, evalLength},
	OpMatches:       {"matches", 2, evalMatches},
	OpType:          {"type", 2, evalType},
}

var operatorsByName = func() map[string]Operator {
	m := make(map[string]Operator, len(operators))
	for i, def := range operators {
		m[def.name] = Operator(i)
	}
	return m
}()

func ParseOperator(name string) (Operator, bool) {
	op, ok := operatorsByName[name]
	return op, ok
}

func (o Operator) String() string {
	if o < 0 || int(o) >= len(operators) {
		return fmt.Sprintf("Operator(%d)", int(o))
	}
	return operators[o].name
}

// Eval applies the operator to already resolved operands.
func (o Operator) Eval(args []any) (bool, error) {
	if o < 0 || int(o) >= len(operators) {
		return false, fmt.Errorf("unknown operator %d", int(o))
	}
	def := operators[o]
	if len(args) != def.arity {
		return false, fmt.Errorf("%s expects %d operand(s), got %d", def.name, def.arity, len(args))
	}
	return def.eval(args)
}

// Operators lists every operator name.
func Operators() []string {
	names := make([]string, len(operators))
	for i, def := range operators {
		names[i] = def.name
	}
	return names
}

// Register adds every operator to reg as a helper returning a boolean, so
// checks like {{eq body.id 7}} render to "true" or "false".
func Register(reg *builtin.Registry) {
	for i := range operators {
		op := Operator(i)
		reg.Register(op.String(), func(args []any) (any, error) {
			return op.Eval(args)
		})
	}
}

func isNullish(v any) bool {
	return v == nil || env.IsUndefined(v)
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	default:
		return isNullish(v)
	}
}

// keyCount is the number of keys of an object value.
func keyCount(v any) (int, bool) {
	switch x := v.(type) {
	case map[string]any:
		return len(x), true
	case env.HeaderMap:
		return len(x), true
	case map[string]string:
		return len(x), true
	}
	return 0, false
}

// looseEqual compares with loose coercion: numbers against numeric strings
// (a blank string is 0), booleans as 0/1, null equal to undefined, an array
// against a string by its comma-joined text, containers structurally.
func looseEqual(a, b any) bool {
	if isNullish(a) || isNullish(b) {
		return isNullish(a) && isNullish(b)
	}
	if arr, ok := a.([]any); ok {
		if s, ok := b.(string); ok {
			return env.Stringify(arr) == s
		}
	}
	if arr, ok := b.([]any); ok {
		if s, ok := a.(string); ok {
			return env.Stringify(arr) == s
		}
	}
	if ab, ok := a.(bool); ok {
		return looseEqual(boolNumber(ab), b)
	}
	if bb, ok := b.(bool); ok {
		return looseEqual(a, boolNumber(bb))
	}

	an, aNum := toFloat64(a)
	bn, bNum := toFloat64(b)
	switch {
	case aNum && bNum:
		return an == bn
	case aNum:
		if s, ok := b.(string); ok {
			n, ok := looseNumber(s)
			return ok && n == an
		}
		return false
	case bNum:
		if s, ok := a.(string); ok {
			n, ok := looseNumber(s)
			return ok && n == bn
		}
		return false
	}

	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	return reflect.DeepEqual(a, b)
}

// looseNumber is parseNumber, except that a blank string reads as 0.
func looseNumber(s string) (float64, bool) {
	if strings.TrimSpace(s) == "" {
		return 0, true
	}
	return parseNumber(s)
}

func boolNumber(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ordering builds gt/gte/lt/lte. Strings compare lexically, numbers
// numerically, and a number against a numeric string coerces the string.
func ordering(name string, accept func(int) bool) func([]any) (bool, error) {
	return func(args []any) (bool, error) {
		a, b := args[0], args[1]
		if err := requireScalar(name, 1, a); err != nil {
			return false, err
		}
		if err := requireScalar(name, 2, b); err != nil {
			return false, err
		}

		as, aStr := a.(string)
		bs, bStr := b.(string)
		if aStr && bStr {
			return accept(strings.Compare(as, bs)), nil
		}

		an, err := coerceNumber(name, 1, a)
		if err != nil {
			return false, err
		}
		bn, err := coerceNumber(name, 2, b)
		if err != nil {
			return false, err
		}
		switch {
		case an < bn:
			return accept(-1), nil
		case an > bn:
			return accept(1), nil
		default:
			return accept(0), nil
		}
	}
}

func stringTest(name string, test func(s, sub string) bool, negate bool) func([]any) (bool, error) {
	return func(args []any) (bool, error) {
		if err := requireScalar(name, 1, args[0]); err != nil {
			return false, err
		}
		if err := requireScalar(name, 2, args[1]); err != nil {
			return false, err
		}
		ok := test(env.Stringify(args[0]), env.Stringify(args[1]))
		return ok != negate, nil
	}
}

func requireScalar(op string, pos int, v any) error {
	switch v.(type) {
	case string:
		return nil
	}
	if _, ok := toFloat64(v); ok {
		return nil
	}
	return fmt.Errorf("%s: operand %d must be a string or number, got %s %s", op, pos, typeName(v), env.Stringify(v))
}

func coerceNumber(op string, pos int, v any) (float64, error) {
	if n, ok := toFloat64(v); ok {
		return n, nil
	}
	s, _ := v.(string)
	if n, ok := parseNumber(s); ok {
		return n, nil
	}
	return 0, fmt.Errorf("%s: operand %d %q is not numeric", op, pos, s)
}

func evalLength(args []any) (bool, error) {
	var n int
	switch x := args[0].(type) {
	case string:
		n = utf8.RuneCountInString(x)
	case []any:
		n = len(x)
	default:
		keys, ok := keyCount(args[0])
		if !ok {
			return false, fmt.Errorf("length: cannot take the length of %s", typeName(args[0]))
		}
		n = keys
	}

	op, ok := args[1].(string)
	if !ok {
		return false, fmt.Errorf("length: comparison must be one of == != > >= < <=, got %s", env.Stringify(args[1]))
	}
	want, err := coerceNumber("length", 3, args[2])
	if err != nil {
		return false, err
	}

	got := float64(n)
	switch op {
	case "==":
		return got == want, nil
	case "!=":
		return got != want, nil
	case ">":
		return got > want, nil
	case ">=":
		return got >= want, nil
	case "<":
		return got < want, nil
	case "<=":
		return got <= want, nil
	default:
		return false, fmt.Errorf("length: comparison must be one of == != > >= < <=, got %q", op)
	}
}

func evalMatches(args []any) (bool, error) {
	if err := requireScalar("matches", 1, args[0]); err != nil {
		return false, err
	}
	pattern, ok := args[1].(string)
	if !ok {
		return false, fmt.Errorf("matches: pattern must be a string")
	}
	pattern = strings.TrimSuffix(strings.TrimPrefix(pattern, "/"), "/")
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("matches: invalid pattern: %w", err)
	}
	return re.MatchString(env.Stringify(args[0])), nil
}

func evalType(args []any) (bool, error) {
	want, ok := args[1].(string)
	if !ok {
		return false, fmt.Errorf("type: expected type must be a string")
	}
	return typeName(args[0]) == want, nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any, env.HeaderMap, map[string]string:
		return "object"
	}
	if env.IsUndefined(v) {
		return "undefined"
	}
	return reflect.TypeOf(v).String()
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// parseNumber reads a numeric string, trying an integer parse before a float one.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return float64(i), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	return 0, false
}
