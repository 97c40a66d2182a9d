package runner

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/abdul-hamid-achik/hitscript/packages/handlers"
	"github.com/abdul-hamid-achik/hitscript/packages/logging"
)

// runLoop runs the nested steps once per item, each iteration in a fork
// binding the item and index. The fork is merged back after every
// iteration so the next one sees what the previous captured.
func (ru *run) runLoop(step *parser.Step, scope *env.Scope, f *frame) error {
	loop := step.Loop
	items, err := ru.loopItems(step, env.NewContext(scope))
	if err != nil {
		return withStructuralContext(err, f)
	}

	steps := loop.Steps
	inner := f
	if loop.ScriptPath != "" {
		if f.depth >= MaxIncludeDepth {
			return withStructuralContext(parser.Structuralf(step, "scripts nested deeper than %d", MaxIncludeDepth), f)
		}
		script, err := ru.load(f, loop.ScriptPath, step)
		if err != nil {
			return err
		}
		servers, err := ru.scriptServers(script, f, scope)
		if err != nil {
			return err
		}
		steps = script.Steps
		inner = &frame{script: script, servers: servers, stack: f.stack, depth: f.depth + 1}
	}

	bindings := []string{loop.Var}
	if loop.Index != "" {
		bindings = append(bindings, loop.Index)
	}

	logging.Debug("Runner", "loop %q: %d item(s)", step.Label(), len(items))
	for i, item := range items {
		b := map[string]any{loop.Var: item}
		if loop.Index != "" {
			b[loop.Index] = float64(i)
		}
		child := scope.Fork(b)

		idx := i
		iteration := &frame{
			script:  inner.script,
			servers: inner.servers,
			stack:   f.push(StackFrame{Kind: "loop", Name: step.Label(), Line: step.Line, Index: &idx}),
			depth:   inner.depth,
		}
		err := ru.runSteps(steps, child, iteration)
		scope.Merge(child, bindings...)
		if err != nil {
			return err
		}
	}
	return nil
}

// loopItems resolves the loop source: a literal array (templates inside it
// are rendered), a variable path, or a single {{placeholder}}.
func (ru *run) loopItems(step *parser.Step, ctx *env.Context) ([]any, error) {
	var (
		v   any
		err error
	)
	switch over := step.Loop.Over.(type) {
	case []any:
		v, err = ru.resolver.Walk(over, ctx)
		if err != nil {
			return nil, parser.Structuralf(step, "loop source: %v", err)
		}
	case string:
		src := strings.TrimSpace(over)
		if strings.Contains(src, "{{") {
			v, err = ru.resolver.Value(src, ctx)
			if err != nil {
				return nil, parser.Structuralf(step, "loop source: %v", err)
			}
		} else {
			var ok bool
			v, ok = ru.resolver.Lookup(src, ctx)
			if !ok {
				return nil, parser.Structuralf(step, "loop source %q is not set", src)
			}
		}
	default:
		return nil, parser.Structuralf(step, "loop source must be an array or a variable name")
	}

	switch items := v.(type) {
	case []any:
		return items, nil
	case []string:
		out := make([]any, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out, nil
	default:
		return nil, parser.Structuralf(step, "loop source %v does not resolve to an array", step.Loop.Over)
	}
}

// runInclude binds the target's params into a fork, runs its steps and
// merges the fork back without the params.
func (ru *run) runInclude(step *parser.Step, scope *env.Scope, f *frame) error {
	inc := step.Include
	if f.depth >= MaxIncludeDepth {
		return withStructuralContext(parser.Structuralf(step, "includes nested deeper than %d", MaxIncludeDepth), f)
	}

	target := inc.Script
	if target == nil {
		var err error
		if target, err = ru.load(f, inc.Path, step); err != nil {
			return err
		}
	}

	args, err := handlers.ResolveArgs(target.Params, inc.Params, ru.resolver, env.NewContext(scope))
	if err != nil {
		return withStructuralContext(parser.Structuralf(step, "include: %v", err), f)
	}

	bindings := make([]string, 0, len(args))
	for name := range args {
		bindings = append(bindings, name)
	}
	sort.Strings(bindings)

	child := scope.Fork(args)
	servers := f.servers
	if target.Init != nil {
		for _, name := range target.Init.Handlers {
			if _, ok := ru.handlers.Get(name); !ok {
				return &parser.StructuralError{File: target.Path, Message: fmt.Sprintf("handler %q is not registered", name)}
			}
		}
		if err := ru.seed(target.Init, child, &bindings); err != nil {
			return withStructuralContext(parser.Structuralf(step, "include: %v", err), f)
		}
		if servers, err = ru.scriptServers(target, f, scope); err != nil {
			return err
		}
	}

	inner := &frame{
		script:  target,
		servers: servers,
		stack:   f.push(StackFrame{Kind: "include", Name: step.Label(), Line: step.Line}),
		depth:   f.depth + 1,
	}

	logging.Debug("Runner", "include %q: params %v", step.Label(), bindings)
	err = ru.runSteps(target.Steps, child, inner)
	scope.Merge(child, bindings...)
	return err
}

// scriptServers returns the servers a nested script declares, or the
// caller's when it declares none.
func (ru *run) scriptServers(script *parser.Script, f *frame, scope *env.Scope) ([]*server, error) {
	if script.Init == nil || len(script.Init.Servers) == 0 {
		return f.servers, nil
	}
	return ru.resolveServers(script, script.Init.Servers, scope)
}

// load parses a script referenced relative to the current one. Each file
// is parsed once per run.
func (ru *run) load(f *frame, path string, step *parser.Step) (*parser.Script, error) {
	full := resolvePath(f.script, path)
	if abs, err := filepath.Abs(full); err == nil {
		full = abs
	}
	if script, ok := ru.scripts[full]; ok {
		return script, nil
	}

	script, err := parser.ParseFile(full)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		return nil, withStructuralContext(parser.Structuralf(step, "loading %q: %v", path, err), f)
	}
	ru.scripts[full] = script
	return script, nil
}
