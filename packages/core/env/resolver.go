package env

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/hitscript/packages/builtin"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
)

var (
	variablePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)
	barePattern     = regexp.MustCompile(`^\{\{([^}]+)\}\}$`)
)

// WarnFunc is a function type for handling warnings
type WarnFunc func(format string, args ...any)

// Context is what one evaluation sees: the scope plus per-evaluation extras
// such as the response body, headers and status during validation.
type Context struct {
	Scope  *Scope
	Extras map[string]any
}

func NewContext(scope *Scope) *Context {
	return &Context{Scope: scope}
}

// With returns a context over the same scope with extras layered in.
func (c *Context) With(extras map[string]any) *Context {
	merged := make(map[string]any, len(c.Extras)+len(extras))
	for k, v := range c.Extras {
		merged[k] = v
	}
	for k, v := range extras {
		merged[k] = v
	}
	return &Context{Scope: c.Scope, Extras: merged}
}

// TemplateError reports a placeholder that could not be evaluated.
type TemplateError struct {
	Template string
	Path     string
	Message  string
	Err      error
}

func (e *TemplateError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	if e.Path != "" {
		return fmt.Sprintf("template %q: %s %q", e.Template, msg, e.Path)
	}
	return fmt.Sprintf("template %q: %s", e.Template, msg)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// Resolver evaluates {{ }} placeholders against a Context. Helper calls go
// through the registry it was built with.
type Resolver struct {
	funcs    *builtin.Registry
	warnFunc WarnFunc
}

func NewResolver(funcs *builtin.Registry) *Resolver {
	if funcs == nil {
		funcs = builtin.NewRegistry()
	}
	return &Resolver{funcs: funcs}
}

func (r *Resolver) Funcs() *builtin.Registry {
	return r.funcs
}

// SetWarnFunc sets a function to be called when warnings occur (e.g., a path
// that shadows a helper name)
func (r *Resolver) SetWarnFunc(fn WarnFunc) {
	r.warnFunc = fn
}

func (r *Resolver) warn(format string, args ...any) {
	if r.warnFunc != nil {
		r.warnFunc(format, args...)
	}
}

// Render replaces every placeholder in tmpl with the stringified value of its
// expression.
func (r *Resolver) Render(tmpl string, ctx *Context) (string, error) {
	matches := variablePattern.FindAllStringSubmatchIndex(tmpl, -1)
	if len(matches) == 0 {
		return tmpl, nil
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(tmpl[last:m[0]])
		v, err := r.Eval(tmpl[m[2]:m[3]], ctx)
		if err != nil {
			return "", withTemplate(err, tmpl)
		}
		b.WriteString(Stringify(v))
		last = m[1]
	}
	b.WriteString(tmpl[last:])
	return b.String(), nil
}

// RenderValue is Render, except that a template consisting of exactly one
// {{path}} whose value is an object yields the object itself.
func (r *Resolver) RenderValue(tmpl string, ctx *Context) (any, error) {
	if m := barePattern.FindStringSubmatch(tmpl); m != nil {
		expr, err := parser.ParseExpression(m[1])
		if err == nil && expr.Kind == parser.ExprPath {
			if v, ok := r.Lookup(expr.Name, ctx); ok {
				switch obj := v.(type) {
				case map[string]any:
					return obj, nil
				case HeaderMap:
					return obj, nil
				}
			}
		}
	}
	return r.Render(tmpl, ctx)
}

// Value evaluates a template made of exactly one placeholder to the raw
// value of its expression. Any other template renders to a string.
func (r *Resolver) Value(tmpl string, ctx *Context) (any, error) {
	if m := barePattern.FindStringSubmatch(tmpl); m != nil {
		v, err := r.Eval(m[1], ctx)
		if err != nil {
			return nil, withTemplate(err, tmpl)
		}
		return v, nil
	}
	return r.Render(tmpl, ctx)
}

// Walk renders every string leaf and object key of a JSON-like value. Leaves
// go through RenderValue; other scalars come back unchanged.
func (r *Resolver) Walk(v any, ctx *Context) (any, error) {
	switch x := v.(type) {
	case string:
		return r.RenderValue(x, ctx)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			key, err := r.Render(k, ctx)
			if err != nil {
				return nil, err
			}
			rendered, err := r.Walk(val, ctx)
			if err != nil {
				return nil, err
			}
			out[key] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			rendered, err := r.Walk(val, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// Eval evaluates the inside of a single placeholder.
func (r *Resolver) Eval(raw string, ctx *Context) (any, error) {
	expr, err := parser.ParseExpression(raw)
	if err != nil {
		return nil, &TemplateError{Err: err}
	}

	switch expr.Kind {
	case parser.ExprLiteral:
		return expr.Literal, nil

	case parser.ExprEnv:
		if ctx != nil && ctx.Scope != nil {
			if v, ok := ctx.Scope.Env[expr.Name]; ok {
				return v, nil
			}
		}
		if v, ok := os.LookupEnv(expr.Name); ok {
			return v, nil
		}
		return nil, &TemplateError{Path: "$" + expr.Name, Message: "environment variable is not set"}

	case parser.ExprPath:
		if v, ok := r.Lookup(expr.Name, ctx); ok {
			if r.funcs.Has(expr.Name) {
				r.warn("variable %q shadows a helper of the same name", expr.Name)
			}
			return v, nil
		}
		if r.funcs.Has(expr.Name) {
			return r.call(expr.Name, nil)
		}
		return nil, &TemplateError{Path: expr.Name, Message: "unresolved path"}

	default:
		if !r.funcs.Has(expr.Name) {
			return nil, &TemplateError{Path: expr.Name, Message: "unknown helper"}
		}
		args := make([]any, len(expr.Args))
		for i, op := range expr.Args {
			if op.IsLiteral {
				args[i] = op.Literal
				continue
			}
			v, ok := r.Lookup(op.Path, ctx)
			if !ok {
				v = Undefined
			}
			args[i] = v
		}
		return r.call(expr.Name, args)
	}
}

func (r *Resolver) call(name string, args []any) (any, error) {
	v, err := r.funcs.Call(name, args)
	if err != nil {
		return nil, &TemplateError{Message: "helper " + name, Err: err}
	}
	return v, nil
}

// Lookup resolves a path. The first segment is looked up in the extras, then
// the variables, then the env and sessions roots.
func (r *Resolver) Lookup(path string, ctx *Context) (any, bool) {
	segments, err := SplitPath(path)
	if err != nil || ctx == nil {
		return nil, false
	}
	head, rest := segments[0], segments[1:]

	var root any
	found := false
	if v, ok := ctx.Extras[head]; ok {
		root, found = v, true
	} else if ctx.Scope != nil {
		if v, ok := ctx.Scope.Vars[head]; ok {
			root, found = v, true
		} else if head == "env" {
			root, found = ctx.Scope.Env, true
		} else if head == "sessions" {
			root, found = ctx.Scope.Sessions, true
		}
	}
	if !found {
		return nil, false
	}
	return WalkPath(root, rest)
}

func withTemplate(err error, tmpl string) error {
	if te, ok := err.(*TemplateError); ok && te.Template == "" {
		te.Template = tmpl
		return te
	}
	return err
}

// Stringify prints a value the way templates substitute it: strings as is,
// numbers in shortest form (exponent form from 1e21 and below 1e-6), null
// and undefined by name, arrays as their elements joined with commas,
// objects as compact JSON.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case undefined:
		return "undefined"
	case string:
		return x
	case float64:
		return formatNumber(x)
	case float32:
		return formatNumber(float64(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, len(x))
		for i, el := range x {
			if el == nil || IsUndefined(el) {
				continue
			}
			parts[i] = Stringify(el)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(x, ",")
	case map[string]any, HeaderMap, map[string]string:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(x); err != nil {
			return fmt.Sprint(x)
		}
		return strings.TrimSuffix(buf.String(), "\n")
	default:
		return fmt.Sprint(x)
	}
}

func formatNumber(f float64) string {
	abs := math.Abs(f)
	if abs != 0 && (abs >= 1e21 || abs < 1e-6) && !math.IsInf(f, 0) {
		out := strconv.FormatFloat(f, 'e', -1, 64)
		// 1e-07 -> 1e-7
		mant, exp, _ := strings.Cut(out, "e")
		sign := exp[:1]
		exp = strings.TrimLeft(exp[1:], "0")
		if exp == "" {
			exp = "0"
		}
		return mant + "e" + sign + exp
	}
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	if math.IsNaN(f) {
		return "NaN"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
