package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/abdul-hamid-achik/hitscript/packages/assertions"
	"github.com/abdul-hamid-achik/hitscript/packages/builtin"
	"github.com/abdul-hamid-achik/hitscript/packages/capture"
	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/abdul-hamid-achik/hitscript/packages/handlers"
	"github.com/abdul-hamid-achik/hitscript/packages/http"
	"github.com/abdul-hamid-achik/hitscript/packages/logging"
)

const (
	// MaxIncludeDepth bounds nested includes and script loops.
	MaxIncludeDepth = 32
)

// Transport sends one rendered request.
type Transport interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

type Config struct {
	// ContinueOnFailure records a failed verdict and moves on instead of
	// stopping the run.
	ContinueOnFailure bool
	// ContinueOnError records a runtime error (capture, handler, template,
	// transport) and moves on. Structural errors always stop the run.
	ContinueOnError bool
	// Environment is the read-only environment templates see as env.*.
	Environment map[string]string
	// Vars override the script's init vars.
	Vars map[string]any
}

type Runner struct {
	config    *Config
	transport Transport
	handlers  *handlers.Registry
	helpers   map[string]builtin.Func
	observer  func(*StepResult)
}

type Option func(*Runner)

// WithTransport replaces the default HTTP client.
func WithTransport(t Transport) Option {
	return func(r *Runner) {
		r.transport = t
	}
}

// WithHandler registers a response handler scripts can name.
func WithHandler(name string, h *handlers.Handler) Option {
	return func(r *Runner) {
		r.handlers.Register(name, h)
	}
}

// WithHelper adds a template helper to every run's registry.
func WithHelper(name string, fn builtin.Func) Option {
	return func(r *Runner) {
		r.helpers[name] = fn
	}
}

// WithObserver is called with every result as it is recorded.
func WithObserver(fn func(*StepResult)) Option {
	return func(r *Runner) {
		r.observer = fn
	}
}

func NewRunner(cfg *Config, opts ...Option) *Runner {
	if cfg == nil {
		cfg = &Config{}
	}
	r := &Runner{
		config:   cfg,
		handlers: handlers.NewRegistry(),
		helpers:  make(map[string]builtin.Func),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.transport == nil {
		r.transport = http.NewClient()
	}
	return r
}

// Handlers exposes the registry so callers can inspect registered names.
func (r *Runner) Handlers() *handlers.Registry {
	return r.handlers
}

func (r *Runner) RunFile(ctx context.Context, path string) (*RunResult, error) {
	script, err := parser.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	return r.Run(ctx, script)
}

// Run executes script from the top. The result holds every step recorded
// before the run stopped; the error is why it stopped, if it did.
func (r *Runner) Run(ctx context.Context, script *parser.Script) (*RunResult, error) {
	start := time.Now()
	ru := r.newRun(ctx)
	result := &RunResult{Script: script.Name, File: script.Path}

	err := ru.runScript(script)

	result.Results = ru.results
	result.Duration = time.Since(start)
	result.Err = err
	result.tally()
	return result, err
}

// run is the state of one Run. Helper and operator registration happens
// here so no two runs share a registry.
type run struct {
	*Runner
	ctx       context.Context
	resolver  *env.Resolver
	extractor *capture.Extractor
	evaluator *assertions.Evaluator
	pipeline  *handlers.Pipeline
	scripts   map[string]*parser.Script
	results   []*StepResult
}

func (r *Runner) newRun(ctx context.Context) *run {
	reg := builtin.NewRegistry()
	assertions.Register(reg)
	for name, fn := range r.helpers {
		reg.Register(name, fn)
	}

	resolver := env.NewResolver(reg)
	resolver.SetWarnFunc(func(format string, args ...any) {
		logging.Warn("Template", format, args...)
	})

	return &run{
		Runner:    r,
		ctx:       ctx,
		resolver:  resolver,
		extractor: capture.NewExtractor(resolver),
		evaluator: assertions.NewEvaluator(resolver),
		pipeline:  handlers.NewPipeline(r.handlers, resolver),
		scripts:   make(map[string]*parser.Script),
	}
}

// frame is the lexical context steps run in: the script that declared them,
// the servers they may use and the enclosing loops and includes.
type frame struct {
	script  *parser.Script
	servers []*server
	stack   []StackFrame
	depth   int
}

type server struct {
	def     *parser.Server
	baseURL string
}

func (f *frame) server(name string) (*server, bool) {
	if len(f.servers) == 0 {
		return nil, false
	}
	if name == "" {
		return f.servers[0], true
	}
	for _, s := range f.servers {
		if s.def.Name == name {
			return s, true
		}
	}
	return nil, false
}

func (f *frame) push(sf StackFrame) []StackFrame {
	stack := make([]StackFrame, len(f.stack), len(f.stack)+1)
	copy(stack, f.stack)
	return append(stack, sf)
}

func (ru *run) runScript(script *parser.Script) error {
	scope := env.NewScope(ru.config.Environment)
	in := script.Init
	if in == nil {
		in = &parser.Init{}
	}

	for _, name := range in.Handlers {
		if _, ok := ru.handlers.Get(name); !ok {
			return &parser.StructuralError{File: script.Path, Message: fmt.Sprintf("handler %q is not registered", name)}
		}
	}

	servers, err := ru.resolveServers(script, in.Servers, scope)
	if err != nil {
		return err
	}
	if err := ru.seed(in, scope, nil); err != nil {
		return err
	}
	for k, v := range ru.config.Vars {
		scope.Set(k, v)
	}

	if err := ru.waitFor(in.WaitFor, scope); err != nil {
		return err
	}

	if in.Hooks != nil {
		if err := ru.runHooks("before", in.Hooks.Before, script.Dir(), scope); err != nil {
			return err
		}
		defer func() {
			if err := ru.runHooks("after", in.Hooks.After, script.Dir(), scope); err != nil {
				logging.Error("Runner", err, "after hooks failed")
			}
		}()
	}

	logging.Debug("Runner", "running %q: %d step(s), %d server(s)", script.Name, len(script.Steps), len(servers))
	return ru.runSteps(script.Steps, scope, &frame{script: script, servers: servers})
}

// resolveServers renders each base URL once against the environment.
func (ru *run) resolveServers(script *parser.Script, defs []*parser.Server, scope *env.Scope) ([]*server, error) {
	envOnly := env.NewContext(env.NewScope(scope.Env))
	servers := make([]*server, 0, len(defs))
	for _, def := range defs {
		base, err := ru.resolver.Render(def.URL, envOnly)
		if err != nil {
			return nil, &parser.StructuralError{File: script.Path, Message: fmt.Sprintf("server %q url: %v", def.Name, err)}
		}
		servers = append(servers, &server{def: def, baseURL: base})
	}
	return servers, nil
}

// seed renders init vars and sessions into scope. With a non-nil seeded,
// names already bound are left alone and the names written are appended.
func (ru *run) seed(in *parser.Init, scope *env.Scope, seeded *[]string) error {
	ctx := env.NewContext(scope)
	for name, raw := range in.Vars {
		if _, exists := scope.Vars[name]; exists && seeded != nil {
			continue
		}
		v, err := ru.resolver.Walk(raw, ctx)
		if err != nil {
			return fmt.Errorf("init var %q: %w", name, err)
		}
		scope.Set(name, v)
		if seeded != nil {
			*seeded = append(*seeded, name)
		}
	}
	for name, raw := range in.Sessions {
		if _, exists := scope.Sessions[name]; exists && seeded != nil {
			continue
		}
		token, err := ru.resolver.Render(raw, ctx)
		if err != nil {
			return fmt.Errorf("init session %q: %w", name, err)
		}
		scope.SetSession(name, token)
	}
	return nil
}

func (ru *run) runSteps(steps []*parser.Step, scope *env.Scope, f *frame) error {
	for _, step := range steps {
		if err := ru.runStep(step, scope, f); err != nil {
			return err
		}
	}
	return nil
}

func (ru *run) runStep(step *parser.Step, scope *env.Scope, f *frame) error {
	if step.Delay > 0 {
		logging.Trace("Runner", "step %q: waiting %s", step.Label(), step.Delay)
		if err := sleep(ru.ctx, step.Delay); err != nil {
			return err
		}
	}

	switch step.Kind() {
	case parser.StepLoop:
		return ru.runLoop(step, scope, f)
	case parser.StepInclude:
		return ru.runInclude(step, scope, f)
	default:
		return ru.runRequest(step, scope, f)
	}
}

// runRequest executes a leaf step and applies the continuation flags to
// its outcome.
func (ru *run) runRequest(step *parser.Step, scope *env.Scope, f *frame) error {
	res, err := ru.execute(step, scope, f)
	if err != nil {
		res.Status = 0
		res.Err = err
		res.Validation = assertions.NewValidation()
		res.Validation.Add(&assertions.Detail{Name: "runtime", Check: step.Label(), Error: err.Error()})
		ru.record(res, scope)

		if fatal(err) || ru.ctx.Err() != nil || !ru.config.ContinueOnError {
			logging.Error("Runner", err, "step %q failed", step.Label())
			return withStructuralContext(err, f)
		}
		logging.Warn("Runner", "step %q: continuing after error: %v", step.Label(), err)
		return nil
	}

	ru.record(res, scope)
	if !res.Validation.Result {
		verr := &ValidationError{Step: step.Label(), Details: res.Validation.Details}
		if !ru.config.ContinueOnFailure {
			return verr
		}
		logging.Warn("Runner", "%v", verr)
	}
	return nil
}

func (ru *run) record(res *StepResult, scope *env.Scope) {
	res.Vars = snapshotVars(scope.Vars)
	res.Sessions = snapshotSessions(scope.Sessions)
	res.DurationMs = res.Duration.Milliseconds()
	if res.Stack == nil {
		res.Stack = []StackFrame{}
	}
	ru.results = append(ru.results, res)
	if ru.observer != nil {
		ru.observer(res)
	}
}

func fatal(err error) bool {
	var se *parser.StructuralError
	return errors.As(err, &se)
}

// withStructuralContext fills in the file of a structural error raised
// while running steps of a loaded script.
func withStructuralContext(err error, f *frame) error {
	var se *parser.StructuralError
	if errors.As(err, &se) && se.File == "" && f.script != nil {
		se.File = f.script.Path
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func resolvePath(base *parser.Script, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base.Dir(), path)
}
