package handlers

import (
	"context"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/abdul-hamid-achik/hitscript/packages/builtin"
	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/abdul-hamid-achik/hitscript/packages/db"
	"github.com/abdul-hamid-achik/hitscript/packages/http"
	"github.com/abdul-hamid-achik/hitscript/packages/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeline(reg *Registry) (*Pipeline, *env.Context) {
	resolver := env.NewResolver(builtin.NewRegistry())
	scope := env.NewScope(map[string]string{"SECRET": "s3"})
	scope.Set("count", 1.0)
	scope.Set("list", []any{"a"})
	scope.Set("obj", map[string]any{"k": "v"})
	return NewPipeline(reg, resolver), env.NewContext(scope)
}

func TestResolveArgs(t *testing.T) {
	resolver := env.NewResolver(builtin.NewRegistry())
	scope := env.NewScope(nil)
	scope.Set("n", 5.0)
	scope.Set("user", map[string]any{"id": "u1"})
	ctx := env.NewContext(scope)

	schema := map[string]*parser.Param{
		"limit":  {Type: "integer"},
		"user":   {Type: "object"},
		"raw":    {Opaque: true},
		"flag":   {Type: "boolean", Default: "true"},
		"label":  {Type: "string"},
		"absent": {},
	}
	args := map[string]any{
		"limit": "{{n}}",
		"user":  "{{user}}",
		"raw":   "{{not.rendered}}",
		"label": 3.0,
		"extra": "x-{{n}}",
	}

	out, err := ResolveArgs(schema, args, resolver, ctx)
	require.NoError(t, err)
	assert.Equal(t, 5.0, out["limit"])
	assert.Equal(t, map[string]any{"id": "u1"}, out["user"])
	assert.Equal(t, "{{not.rendered}}", out["raw"])
	assert.Equal(t, true, out["flag"])
	assert.Equal(t, "3", out["label"])
	assert.Equal(t, "x-5", out["extra"])
	assert.NotContains(t, out, "absent")
}

func TestResolveArgs_Errors(t *testing.T) {
	resolver := env.NewResolver(builtin.NewRegistry())
	ctx := env.NewContext(env.NewScope(nil))

	tests := []struct {
		name   string
		schema map[string]*parser.Param
		args   map[string]any
		field  string
		msg    string
	}{
		{"required", map[string]*parser.Param{"id": {Required: true}}, nil, "id", "required param is missing"},
		{"type mismatch", map[string]*parser.Param{"n": {Type: "number"}}, map[string]any{"n": "abc"}, "n", "expected number, got string"},
		{"fractional integer", map[string]*parser.Param{"n": {Type: "integer"}}, map[string]any{"n": 1.5}, "n", "expected integer"},
		{"bad template", nil, map[string]any{"x": "{{missing}}"}, "x", "render"},
		{"unknown type", map[string]*parser.Param{"x": {Type: "date"}}, map[string]any{"x": "now"}, "x", `unknown type "date"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveArgs(tt.schema, tt.args, resolver, ctx)
			require.Error(t, err)
			var pe *ParamError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.field, pe.Field)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		in   any
		typ  string
		want any
	}{
		{"42", "number", 42.0},
		{"7", "integer", 7.0},
		{"false", "boolean", false},
		{`[1, "a"]`, "array", []any{1.0, "a"}},
		{`{"a": 1}`, "object", map[string]any{"a": 1.0}},
		{true, "string", "true"},
		{nil, "any", nil},
	}
	for _, tt := range tests {
		got, err := Coerce(tt.in, tt.typ)
		require.NoError(t, err, "%v as %s", tt.in, tt.typ)
		assert.Equal(t, tt.want, got)
	}
}

func TestPipeline_ScopeMerge(t *testing.T) {
	reg := NewRegistry()
	reg.Register("mutate", &Handler{
		Fn: func(_ context.Context, resp *http.Response, _ map[string]any, scope *env.Scope, _ *parser.Step) (*http.Response, error) {
			scope.Set("fresh", "new")
			scope.Set("count", 99.0)
			scope.Vars["obj"].(map[string]any)["k"] = "changed"
			return resp, nil
		},
	})
	p, ctx := newPipeline(reg)

	resp := &http.Response{StatusCode: 200}
	out, err := p.Run(context.Background(), []*parser.HandlerCall{{Name: "mutate"}}, resp, ctx, nil)
	require.NoError(t, err)
	assert.Same(t, resp, out)

	vars := ctx.Scope.Vars
	assert.Equal(t, "new", vars["fresh"], "introduced keys flow back")
	assert.Equal(t, 1.0, vars["count"], "reassigned keys do not")
	assert.Equal(t, "changed", vars["obj"].(map[string]any)["k"], "in-place edits are shared")
}

func TestPipeline_ChainsResponses(t *testing.T) {
	reg := NewRegistry()
	reg.Register("upper", &Handler{
		Params: map[string]*parser.Param{"suffix": {Type: "string", Required: true}},
		Fn: func(_ context.Context, resp *http.Response, args map[string]any, _ *env.Scope, _ *parser.Step) (*http.Response, error) {
			out := *resp
			out.Body = append(append([]byte{}, resp.Body...), []byte(args["suffix"].(string))...)
			return &out, nil
		},
	})
	p, ctx := newPipeline(reg)

	calls := []*parser.HandlerCall{
		{Name: "upper", Args: map[string]any{"suffix": "-{{$SECRET}}"}},
		{Name: "upper", Args: map[string]any{"suffix": "!"}},
	}
	out, err := p.Run(context.Background(), calls, &http.Response{Body: []byte("body")}, ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "body-s3!", string(out.Body))
}

func TestPipeline_Errors(t *testing.T) {
	reg := NewRegistry()
	reg.Register("boom", &Handler{
		Fn: func(context.Context, *http.Response, map[string]any, *env.Scope, *parser.Step) (*http.Response, error) {
			return nil, errors.New("exploded")
		},
	})
	p, ctx := newPipeline(reg)
	resp := &http.Response{}

	_, err := p.Run(context.Background(), []*parser.HandlerCall{{Name: "ghost"}}, resp, ctx, nil)
	var herr *HandlerError
	require.True(t, errors.As(err, &herr))
	assert.Contains(t, err.Error(), "not registered")

	_, err = p.Run(context.Background(), []*parser.HandlerCall{{Name: "boom"}}, resp, ctx, nil)
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, `handler "boom": exploded`, err.Error())

	_, err = p.Run(context.Background(), []*parser.HandlerCall{{Name: "log", Args: map[string]any{"message": []any{}}}}, resp, ctx, nil)
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, "message", herr.Field)
}

func TestBuiltins(t *testing.T) {
	p, ctx := newPipeline(NewRegistry())
	resp := &http.Response{Body: []byte(`"{\"a\":1}"`)}

	calls := []*parser.HandlerCall{
		{Name: "set", Args: map[string]any{"token": "{{obj.k}}", "count": 5.0}},
		{Name: "log", Args: map[string]any{"message": "hello {{token}}", "level": "debug"}},
		{Name: "parseBody"},
	}
	step := &parser.Step{Name: "login"}
	out, err := p.Run(context.Background(), calls, resp, ctx, step)
	require.NoError(t, err)

	assert.Equal(t, "v", ctx.Scope.Vars["token"])
	assert.Equal(t, 1.0, ctx.Scope.Vars["count"])
	assert.Equal(t, map[string]any{"a": 1.0}, out.DecodedBody())
	assert.Equal(t, `"{\"a\":1}"`, string(resp.Body))
	assert.Contains(t, NewRegistry().Names(), "parseBody")
}

func TestSQLHandler(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "app.db")
	client, err := db.NewClient(dsn)
	require.NoError(t, err)
	_, err = client.Exec(context.Background(), `
		CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO users (name) VALUES ('alice'), ('bob');
	`)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	p, ctx := newPipeline(NewRegistry())
	ctx.Scope.Set("dsn", dsn)
	resp := &http.Response{StatusCode: 201}

	calls := []*parser.HandlerCall{
		{Name: "sql", Args: map[string]any{"dsn": "{{dsn}}", "query": "SELECT id, name FROM users ORDER BY id"}},
		{Name: "sql", Args: map[string]any{
			"dsn":   "{{dsn}}",
			"query": "SELECT name FROM users WHERE id = ?",
			"args":  []any{2.0},
			"var":   "user",
			"first": true,
		}},
	}
	out, err := p.Run(context.Background(), calls, resp, ctx, nil)
	require.NoError(t, err)
	assert.Same(t, resp, out)

	assert.Equal(t, []any{
		map[string]any{"id": 1.0, "name": "alice"},
		map[string]any{"id": 2.0, "name": "bob"},
	}, ctx.Scope.Vars["rows"])
	assert.Equal(t, map[string]any{"name": "bob"}, ctx.Scope.Vars["user"])

	_, err = p.Run(context.Background(), []*parser.HandlerCall{
		{Name: "sql", Args: map[string]any{"dsn": "{{dsn}}", "query": "SELECT * FROM missing"}},
	}, resp, ctx, nil)
	var herr *HandlerError
	require.True(t, errors.As(err, &herr))
	assert.Contains(t, err.Error(), "query failed")
}

func TestSnapshotHandler(t *testing.T) {
	file := filepath.Join(t.TempDir(), "snap.json")
	step := &parser.Step{Name: "get user"}
	resp := &http.Response{StatusCode: 200, Body: []byte(`{"id": 1, "name": "alice"}`)}
	calls := []*parser.HandlerCall{{Name: "snapshot", Args: map[string]any{"file": file}}}

	reg := NewRegistry()
	reg.Register("snapshot", NewSnapshotHandler(snapshot.NewStore(true)))
	p, ctx := newPipeline(reg)
	_, err := p.Run(context.Background(), calls, resp, ctx, step)
	require.NoError(t, err)

	p, ctx = newPipeline(NewRegistry())
	out, err := p.Run(context.Background(), calls, resp, ctx, step)
	require.NoError(t, err)
	assert.Same(t, resp, out)

	changed := &http.Response{StatusCode: 200, Body: []byte(`{"id": 1, "name": "bob"}`)}
	_, err = p.Run(context.Background(), calls, changed, ctx, step)
	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "snapshot", herr.Handler)
	assert.Contains(t, err.Error(), "get user: snapshot mismatch")

	named := []*parser.HandlerCall{{Name: "snapshot", Args: map[string]any{"file": file, "name": "other"}}}
	_, err = p.Run(context.Background(), named, resp, ctx, step)
	assert.ErrorContains(t, err, "other: snapshot does not exist")
}

func TestOAuth2Handler(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		calls.Add(1)
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "at-` + r.Form.Get("scope") + `", "expires_in": 600}`))
	}))
	defer srv.Close()

	p, ctx := newPipeline(NewRegistry())
	ctx.Scope.Set("tokenUrl", srv.URL)
	resp := &http.Response{StatusCode: 200}
	tokenCall := []*parser.HandlerCall{{Name: "oauth2", Args: map[string]any{
		"tokenUrl": "{{tokenUrl}}",
		"clientId": "cli",
		"scopes":   []any{"read"},
		"session":  "api",
	}}}

	_, err := p.Run(context.Background(), tokenCall, resp, ctx, nil)
	require.NoError(t, err)
	token, ok := ctx.Scope.Session("api")
	require.True(t, ok)
	assert.Equal(t, "at-read", token)

	_, err = p.Run(context.Background(), tokenCall, resp, ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "token is reused until it expires")

	_, err = p.Run(context.Background(), []*parser.HandlerCall{{Name: "oauth2", Args: map[string]any{
		"tokenUrl": srv.URL, "grant": "implicit",
	}}}, resp, ctx, nil)
	assert.ErrorContains(t, err, `unsupported grant type "implicit"`)
}

func TestSSEHandler(t *testing.T) {
	p, ctx := newPipeline(NewRegistry())
	resp := &http.Response{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "text/event-stream"},
		Body:       []byte("event: tick\ndata: {\"n\": 1}\n\nevent: tick\ndata: {\"n\": 2}\n\ndata: done\n\n"),
	}

	out, err := p.Run(context.Background(), []*parser.HandlerCall{{Name: "sse", Args: map[string]any{"max": 2.0}}}, resp, ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "application/json", out.Header("Content-Type"))
	assert.Equal(t, "text/event-stream", resp.Header("Content-Type"), "the original response is untouched")

	assert.Equal(t, []any{
		map[string]any{"type": "tick", "data": map[string]any{"n": 1.0}},
		map[string]any{"type": "tick", "data": map[string]any{"n": 2.0}},
	}, out.DecodedBody())
}

const usersContract = `openapi: 3.0.3
info:
  title: users
  version: "1.0"
paths:
  /users/{id}:
    get:
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: integer
      responses:
        "200":
          description: a user
          content:
            application/json:
              schema:
                type: object
                required: [id, name]
                properties:
                  id:
                    type: integer
                  name:
                    type: string
        "404":
          description: not found
`

func TestOpenAPIHandler(t *testing.T) {
	file := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(file, []byte(usersContract), 0o644))
	step := &parser.Step{Name: "get user", Request: &parser.RequestStep{Method: "get"}}
	call := func(args map[string]any) []*parser.HandlerCall {
		args["spec"] = file
		return []*parser.HandlerCall{{Name: "openapi", Args: args}}
	}

	p, ctx := newPipeline(NewRegistry())
	ok := &http.Response{StatusCode: 200, Headers: map[string]string{"Content-Type": "application/json; charset=utf-8"}, Body: []byte(`{"id": 1, "name": "alice"}`)}
	out, err := p.Run(context.Background(), call(map[string]any{"path": "/users/{id}"}), ok, ctx, step)
	require.NoError(t, err)
	assert.Same(t, ok, out)

	missing := &http.Response{StatusCode: 404}
	_, err = p.Run(context.Background(), call(map[string]any{"path": "/users/{id}"}), missing, ctx, step)
	require.NoError(t, err)

	bad := &http.Response{StatusCode: 200, Body: []byte(`{"id": "one"}`)}
	_, err = p.Run(context.Background(), call(map[string]any{"path": "/users/{id}"}), bad, ctx, step)
	assert.ErrorContains(t, err, "openapi: GET /users/{id} 200")

	_, err = p.Run(context.Background(), call(map[string]any{"path": "/users/{id}"}), &http.Response{StatusCode: 500}, ctx, step)
	assert.ErrorContains(t, err, "status 500 is not documented")

	_, err = p.Run(context.Background(), call(map[string]any{"path": "/users/{id}", "method": "delete"}), ok, ctx, step)
	assert.ErrorContains(t, err, "DELETE /users/{id} is not documented")

	_, err = p.Run(context.Background(), call(map[string]any{"path": "/orders"}), ok, ctx, step)
	assert.ErrorContains(t, err, "path /orders is not documented")
}
