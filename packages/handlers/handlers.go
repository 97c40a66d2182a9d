package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/abdul-hamid-achik/hitscript/packages/http"
	"github.com/abdul-hamid-achik/hitscript/packages/logging"
)

// Func transforms a response. scope is a private copy of the caller's
// variables; see Pipeline.Run for what flows back.
type Func func(ctx context.Context, resp *http.Response, args map[string]any, scope *env.Scope, step *parser.Step) (*http.Response, error)

type Handler struct {
	Params map[string]*parser.Param
	Fn     Func
}

// HandlerError wraps a failure to resolve a handler's args or a failure
// returned by the handler itself.
type HandlerError struct {
	Handler string
	Field   string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %q: %v", e.Handler, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

type Registry struct {
	handlers map[string]*Handler
}

// NewRegistry returns a registry holding the built-in handlers.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]*Handler)}
	registerBuiltins(r)
	return r
}

func (r *Registry) Register(name string, h *Handler) {
	r.handlers[name] = h
}

func (r *Registry) Get(name string) (*Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pipeline runs a step's handlers in order.
type Pipeline struct {
	registry *Registry
	resolver *env.Resolver
}

func NewPipeline(registry *Registry, resolver *env.Resolver) *Pipeline {
	return &Pipeline{registry: registry, resolver: resolver}
}

// Run invokes each call against the response the previous one returned.
// After each handler, variables it introduced are copied into the caller's
// scope. Variables that existed before the call keep the caller's value even
// if the handler reassigned them; containers they hold are shared, so
// in-place edits are visible.
func (p *Pipeline) Run(ctx context.Context, calls []*parser.HandlerCall, resp *http.Response, evalCtx *env.Context, step *parser.Step) (*http.Response, error) {
	for _, call := range calls {
		h, ok := p.registry.Get(call.Name)
		if !ok {
			return resp, &HandlerError{Handler: call.Name, Err: fmt.Errorf("not registered")}
		}

		args, err := ResolveArgs(h.Params, call.Args, p.resolver, evalCtx)
		if err != nil {
			herr := &HandlerError{Handler: call.Name, Err: err}
			var pe *ParamError
			if errors.As(err, &pe) {
				herr.Field = pe.Field
			}
			return resp, herr
		}

		caller := evalCtx.Scope
		scoped := caller.Fork(nil)

		logging.Trace("Handlers", "running %s with %d arg(s)", call.Name, len(args))
		out, err := h.Fn(ctx, resp, args, scoped, step)
		if err != nil {
			return resp, &HandlerError{Handler: call.Name, Err: err}
		}

		for k, v := range scoped.Vars {
			if _, existed := caller.Vars[k]; !existed {
				caller.Vars[k] = v
			}
		}
		for k, v := range scoped.Sessions {
			caller.Sessions[k] = v
		}

		if out != nil {
			resp = out
		}
	}
	return resp, nil
}
