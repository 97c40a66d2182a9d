package assertions

import (
	"testing"

	"github.com/abdul-hamid-achik/hitscript/packages/builtin"
	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperators_Table(t *testing.T) {
	tests := []struct {
		name string
		op   Operator
		args []any
		want bool
	}{
		{"eq number and numeric string", OpEq, []any{42.0, "42"}, true},
		{"eq string and number", OpEq, []any{"1.50", 1.5}, true},
		{"eq bool and number", OpEq, []any{true, 1.0}, true},
		{"eq null and undefined", OpEq, []any{nil, env.Undefined}, true},
		{"eq null and empty string", OpEq, []any{nil, ""}, false},
		{"eq deep arrays", OpEq, []any{[]any{1.0, "a"}, []any{1.0, "a"}}, true},
		{"eq deep objects", OpEq, []any{map[string]any{"a": 1.0}, map[string]any{"a": 1.0}}, true},
		{"eq differing objects", OpEq, []any{map[string]any{"a": 1.0}, map[string]any{"a": 2.0}}, false},
		{"eq non-numeric string", OpEq, []any{1.0, "one"}, false},
		{"eq zero and blank string", OpEq, []any{0.0, ""}, true},
		{"eq blank string and false", OpEq, []any{" ", false}, true},
		{"eq one and blank string", OpEq, []any{1.0, ""}, false},
		{"eq array and joined string", OpEq, []any{[]any{"a", "b"}, "a,b"}, true},
		{"eq string and array", OpEq, []any{"1,2", []any{1.0, 2.0}}, true},
		{"neq", OpNeq, []any{"a", "b"}, true},
		{"gt coerces string", OpGt, []any{"10", 9.0}, true},
		{"gt numbers", OpGt, []any{1.0, 2.0}, false},
		{"gte equal", OpGte, []any{2.0, "2"}, true},
		{"lt strings lexical", OpLt, []any{"apple", "banana"}, true},
		{"lte", OpLte, []any{3.0, 3.0}, true},
		{"startsWith", OpStartsWith, []any{"hello", "he"}, true},
		{"endsWith number", OpEndsWith, []any{1234.0, "34"}, true},
		{"includes", OpIncludes, []any{"team-alpha", "alpha"}, true},
		{"notStartsWith", OpNotStartsWith, []any{"hello", "x"}, true},
		{"notEndsWith", OpNotEndsWith, []any{"hello", "lo"}, false},
		{"notIncludes", OpNotIncludes, []any{"hello", "z"}, true},
		{"empty null", OpEmpty, []any{nil}, true},
		{"empty undefined", OpEmpty, []any{env.Undefined}, true},
		{"empty string", OpEmpty, []any{""}, true},
		{"empty array", OpEmpty, []any{[]any{}}, true},
		{"empty zero is not empty", OpEmpty, []any{0.0}, false},
		{"notEmpty", OpNotEmpty, []any{[]any{1.0}}, true},
		{"null", OpNull, []any{nil}, true},
		{"null undefined", OpNull, []any{env.Undefined}, true},
		{"notNull", OpNotNull, []any{"x"}, true},
		{"undefined", OpUndefined, []any{env.Undefined}, true},
		{"undefined null", OpUndefined, []any{nil}, true},
		{"notUndefined", OpNotUndefined, []any{0.0}, true},
		{"length empty array", OpLength, []any{[]any{}, "==", 0.0}, true},
		{"length empty object", OpLength, []any{map[string]any{}, "==", 0.0}, true},
		{"length header map", OpLength, []any{env.HeaderMap{"A": "1", "B": "2"}, "==", 2.0}, true},
		{"length string map", OpLength, []any{map[string]string{"admin": "t"}, ">=", 1.0}, true},
		{"length empty string", OpLength, []any{"", ">=", 0.0}, true},
		{"length runes", OpLength, []any{"héllo", "==", 5.0}, true},
		{"length numeric string target", OpLength, []any{[]any{1.0, 2.0}, ">", "1"}, true},
		{"length not equal", OpLength, []any{[]any{1.0}, "!=", 1.0}, false},
		{"matches", OpMatches, []any{"abc-123", "/^[a-z]+-\\d+$/"}, true},
		{"type", OpType, []any{[]any{}, "array"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.op.Eval(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOperators_Errors(t *testing.T) {
	tests := []struct {
		name    string
		op      Operator
		args    []any
		message string
	}{
		{"gt on array", OpGt, []any{[]any{}, 1.0}, "gt: operand 1 must be a string or number, got array"},
		{"lt non-numeric string against number", OpLt, []any{"abc", 1.0}, `lt: operand 1 "abc" is not numeric`},
		{"includes on array", OpIncludes, []any{[]any{"a"}, "a"}, "includes: operand 1 must be a string or number"},
		{"startsWith null", OpStartsWith, []any{nil, "a"}, "got null"},
		{"length of number", OpLength, []any{5.0, "==", 1.0}, "cannot take the length of number"},
		{"length bad comparison", OpLength, []any{"abc", "~", 1.0}, "comparison must be one of"},
		{"arity", OpEq, []any{1.0}, "eq expects 2 operand(s), got 1"},
		{"bad regex", OpMatches, []any{"a", "("}, "invalid pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.op.Eval(tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestParseOperator(t *testing.T) {
	for _, name := range Operators() {
		op, ok := ParseOperator(name)
		require.True(t, ok, name)
		assert.Equal(t, name, op.String())
	}
	_, ok := ParseOperator("contains")
	assert.False(t, ok)
}

func newEvaluator() (*Evaluator, *env.Context) {
	reg := builtin.NewRegistry()
	Register(reg)
	resolver := env.NewResolver(reg)

	scope := env.NewScope(nil)
	scope.Vars["expected"] = "bar"
	scope.SetSession("admin", "tok")
	ctx := env.NewContext(scope).With(map[string]any{
		"status":  200.0,
		"headers": env.HeaderMap{"Content-Type": "application/json"},
		"body": map[string]any{
			"ok":     true,
			"echoed": map[string]any{"foo": "bar"},
			"tags":   []any{"a", "b"},
		},
	})
	return NewEvaluator(resolver), ctx
}

func TestEvaluateCheck(t *testing.T) {
	e, ctx := newEvaluator()

	tests := []struct {
		check string
		want  bool
	}{
		{"eq body.echoed.foo 'bar'", true},
		{"eq body.echoed.foo expected", true},
		{"eq status 200", true},
		{"eq body.ok true", true},
		{"startsWith headers.content-type 'application/'", true},
		{"length body.tags == 2", true},
		{"length headers == 1", true},
		{"length sessions >= 1", true},
		{"undefined body.missing", true},
		{"notUndefined body.missing", false},
		{"null body.missing", true},
		{"{{eq body.echoed.foo 'baz'}}", false},
		{"gte status 300", false},
	}

	for _, tt := range tests {
		t.Run(tt.check, func(t *testing.T) {
			d := e.EvaluateCheck("group", tt.check, ctx)
			assert.Empty(t, d.Error)
			assert.Equal(t, tt.want, d.Result)
			assert.Equal(t, "group", d.Name)
			assert.Equal(t, tt.check, d.Check)
		})
	}
}

func TestEvaluateCheck_ErrorsBecomeFailedDetails(t *testing.T) {
	e, ctx := newEvaluator()

	d := e.EvaluateCheck("shape", "gt body.tags 1", ctx)
	assert.False(t, d.Result)
	assert.Contains(t, d.Error, "must be a string or number")

	d = e.EvaluateCheck("shape", "eq nowhere 1", ctx)
	assert.False(t, d.Result)
	assert.Empty(t, d.Error, "unresolved helper operands are undefined, not errors")

	d = e.EvaluateCheck("shape", "frobnicate body", ctx)
	assert.False(t, d.Result)
	assert.Contains(t, d.Error, "unknown helper")
}

func TestEvaluateGroups(t *testing.T) {
	e, ctx := newEvaluator()
	groups := []*parser.ValidationGroup{
		{Name: "shape", Checks: []string{"eq body.ok true", "length body.tags > 5"}},
		{Name: "echo", Checks: []string{"eq body.echoed.foo 'bar'"}},
	}

	details := e.EvaluateGroups(groups, ctx)
	require.Len(t, details, 3)

	v := NewValidation()
	v.Add(details...)
	assert.False(t, v.Result)
	require.Len(t, v.Failed(), 1)
	assert.Equal(t, "length body.tags > 5", v.Failed()[0].Check)
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		spec   *parser.ResponseSpec
		want   bool
	}{
		{"default class accepts 204", 204, nil, true},
		{"default class rejects 404", 404, &parser.ResponseSpec{}, false},
		{"exact match", 201, &parser.ResponseSpec{Status: 201}, true},
		{"exact mismatch", 200, &parser.ResponseSpec{Status: 404}, false},
		{"exact wins over class", 404, &parser.ResponseSpec{Status: 404, StatusClass: "2xx"}, true},
		{"class", 302, &parser.ResponseSpec{StatusClass: "3XX"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CheckStatus(tt.status, tt.spec)
			assert.Equal(t, "status", d.Name)
			assert.Equal(t, tt.want, d.Result)
		})
	}

	d := CheckStatus(200, &parser.ResponseSpec{Status: 404})
	assert.Equal(t, "200", d.Rendered)
	assert.Equal(t, "expected status 404, got 200", d.Error)
}

func TestValidation_AllPass(t *testing.T) {
	v := NewValidation()
	assert.True(t, v.Result)
	v.Add(&Detail{Name: "a", Result: true})
	assert.True(t, v.Result)
	assert.Empty(t, v.Failed())
}
