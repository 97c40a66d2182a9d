package runner

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitscript/packages/assertions"
	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/abdul-hamid-achik/hitscript/packages/http"
	"github.com/abdul-hamid-achik/hitscript/packages/logging"
)

// execute walks a request step from server resolution to validation. The
// returned result is never nil; on error it holds whatever was known.
func (ru *run) execute(step *parser.Step, scope *env.Scope, f *frame) (*StepResult, error) {
	rs := step.Request
	res := &StepResult{
		Name:   step.Label(),
		Method: rs.Method,
		Stack:  f.stack,
	}
	ctx := env.NewContext(scope)

	srv, err := ru.selectServer(step, f)
	if err != nil {
		return res, err
	}

	req, err := ru.buildRequest(step, srv, ctx, f)
	if err != nil {
		return res, err
	}
	res.URL = req.BuildURL()
	logging.Trace("Runner", "step %q: %s %s", res.Name, req.Method, res.URL)

	start := time.Now()
	resp, err := ru.transport.Do(ru.ctx, req)
	res.Duration = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("%s %s: %w", req.Method, res.URL, err)
	}
	setResponse(res, resp)
	logging.Debug("Runner", "step %q: %d in %s", res.Name, resp.StatusCode, res.Duration)

	respCtx := ctx.With(responseExtras(resp))
	spec := rs.Response

	if spec != nil && spec.Session != nil {
		name, err := ru.resolver.Render(spec.Session.Name, respCtx)
		if err != nil {
			return res, err
		}
		var transport *parser.SessionTransport
		if srv != nil {
			transport = srv.def.Session
		}
		token, err := ru.extractor.Session(spec.Session, transport, resp)
		if err != nil {
			return res, err
		}
		scope.SetSession(name, token)
	}

	if spec != nil && len(spec.Vars) > 0 {
		if err := ru.extractor.ExtractInto(spec.Vars, resp, respCtx); err != nil {
			return res, err
		}
	}

	if len(rs.Handlers) > 0 {
		resp, err = ru.pipeline.Run(ru.ctx, rs.Handlers, resp, respCtx, step)
		if err != nil {
			return res, err
		}
		setResponse(res, resp)
		respCtx = ctx.With(responseExtras(resp))
	}

	v := assertions.NewValidation()
	v.Add(assertions.CheckStatus(resp.StatusCode, spec))
	if spec != nil {
		v.Add(ru.evaluator.EvaluateGroups(spec.Validate, respCtx)...)
	}
	res.Validation = v
	return res, nil
}

func (ru *run) selectServer(step *parser.Step, f *frame) (*server, error) {
	rs := step.Request
	srv, ok := f.server(rs.Server)
	if rs.Server != "" && !ok {
		return nil, parser.Structuralf(step, "unknown server %q", rs.Server)
	}
	return srv, nil
}

func (ru *run) buildRequest(step *parser.Step, srv *server, ctx *env.Context, f *frame) (*http.Request, error) {
	rs := step.Request

	target, err := ru.resolveURL(step, srv, ctx)
	if err != nil {
		return nil, err
	}

	req := http.NewRequest(rs.Method, target)
	req.Timeout = rs.Timeout
	req.BaseDir = f.script.Dir()

	if srv != nil {
		for k, v := range srv.def.Headers {
			rendered, err := ru.resolver.Render(v, ctx)
			if err != nil {
				return nil, fmt.Errorf("server header %q: %w", k, err)
			}
			req.SetHeader(k, rendered)
		}
		if srv.def.Auth != nil {
			auth := &parser.AuthConfig{Type: srv.def.Auth.Type}
			for _, p := range srv.def.Auth.Params {
				rendered, err := ru.resolver.Render(p, ctx)
				if err != nil {
					return nil, fmt.Errorf("server auth: %w", err)
				}
				auth.Params = append(auth.Params, rendered)
			}
			req.Auth = auth
			req.ApplyAuth()
		}
	}

	for k, v := range rs.Headers {
		rendered, err := ru.resolver.Render(v, ctx)
		if err != nil {
			return nil, fmt.Errorf("header %q: %w", k, err)
		}
		req.SetHeader(k, rendered)
	}

	for k, v := range rs.Query {
		rendered, err := ru.resolver.Walk(v, ctx)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", k, err)
		}
		req.SetQueryParam(k, env.Stringify(rendered))
	}

	if rs.Session != "" {
		if err := ru.applySession(step, srv, req, ctx); err != nil {
			return nil, err
		}
	}

	body, hasBody, err := ru.resolveBody(rs, ctx)
	if err != nil {
		return nil, err
	}

	if len(rs.Files) > 0 {
		req.Files = make(map[string]string, len(rs.Files))
		for field, path := range rs.Files {
			rendered, err := ru.resolver.Render(path, ctx)
			if err != nil {
				return nil, fmt.Errorf("file %q: %w", field, err)
			}
			req.Files[field] = rendered
		}
		if fields, ok := body.(map[string]any); ok {
			req.Form = make(map[string]string, len(fields))
			for k, v := range fields {
				req.Form[k] = env.Stringify(v)
			}
		}
		return req, nil
	}

	if hasBody {
		if s, ok := body.(string); ok {
			req.SetBody([]byte(s))
		} else {
			encoded, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("encoding body: %w", err)
			}
			req.SetBody(encoded)
			if !req.HasHeader("Content-Type") {
				req.SetHeader("Content-Type", "application/json")
			}
		}
	}
	return req, nil
}

// resolveURL renders the step target. URL construction uses plain Render,
// never the bare-object substitution.
func (ru *run) resolveURL(step *parser.Step, srv *server, ctx *env.Context) (string, error) {
	rs := step.Request
	raw := rs.URI
	if raw == "" {
		raw = rs.Path
	}
	target, err := ru.resolver.Render(raw, ctx)
	if err != nil {
		return "", err
	}
	target = strings.TrimSpace(target)
	if isAbsoluteURL(target) {
		return target, nil
	}
	if srv == nil {
		return "", parser.Structuralf(step, "relative uri %q but the script declares no server", target)
	}
	return joinURL(srv.baseURL, target), nil
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	if strings.HasPrefix(path, "?") {
		return strings.TrimRight(base, "/") + path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// resolveBody returns the rendered body. body goes through Walk so a bare
// {{obj}} stays an object; bodyVar takes a variable as is.
func (ru *run) resolveBody(rs *parser.RequestStep, ctx *env.Context) (any, bool, error) {
	switch {
	case rs.BodyVar != "":
		v, ok := ru.resolver.Lookup(rs.BodyVar, ctx)
		if !ok {
			return nil, false, &env.TemplateError{Template: rs.BodyVar, Path: rs.BodyVar, Message: "bodyVar is not set"}
		}
		return v, true, nil
	case rs.HasBody:
		v, err := ru.resolver.Walk(rs.Body, ctx)
		if err != nil {
			return nil, false, fmt.Errorf("body: %w", err)
		}
		return v, true, nil
	}
	return nil, false, nil
}

// applySession attaches a captured session token. A name that is not
// captured is rendered as a template and retried before it counts as
// missing.
func (ru *run) applySession(step *parser.Step, srv *server, req *http.Request, ctx *env.Context) error {
	name := step.Request.Session
	token, ok := ctx.Scope.Session(name)
	if !ok {
		indirect, err := ru.resolver.Render(name, ctx)
		if err == nil && indirect != name {
			token, ok = ctx.Scope.Session(indirect)
		}
	}
	if !ok {
		return parser.Structuralf(step, "session %q has not been captured", name)
	}

	var transport *parser.SessionTransport
	if srv != nil {
		transport = srv.def.Session
	}
	if transport == nil || (transport.Cookie == "" && transport.Header == "") {
		req.SetHeader("Authorization", "Bearer "+token)
		return nil
	}
	if transport.Cookie != "" {
		cookie := transport.Cookie + "=" + token
		if existing, ok := req.Headers["Cookie"]; ok && existing != "" {
			cookie = existing + "; " + cookie
		}
		req.SetHeader("Cookie", cookie)
	}
	if transport.Header != "" {
		req.SetHeader(transport.Header, token)
	}
	return nil
}

func setResponse(res *StepResult, resp *http.Response) {
	res.Status = resp.StatusCode
	res.Headers = resp.Headers
	res.Body = resp.DecodedBody()
}

// responseExtras are the names checks and captures see for the response.
func responseExtras(resp *http.Response) map[string]any {
	headers := make(env.HeaderMap, len(resp.Headers))
	for k, v := range resp.Headers {
		headers[k] = v
	}
	body := resp.DecodedBody()
	if body == nil {
		body = env.Undefined
	}
	return map[string]any{
		"status":   float64(resp.StatusCode),
		"headers":  headers,
		"body":     body,
		"duration": float64(resp.DurationMs()),
	}
}
