package capture

import (
	"errors"
	"testing"

	"github.com/abdul-hamid-achik/hitscript/packages/builtin"
	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/abdul-hamid-achik/hitscript/packages/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: 200,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Etag":         `"v1"`,
		},
		SetCookies: []string{"sid=abc123; Path=/; HttpOnly", "csrftoken=xyz"},
		Body:       []byte(body),
	}
}

func newContext() *env.Context {
	scope := env.NewScope(nil)
	scope.Set("user", map[string]any{"id": 7.0, "roles": []any{"admin"}})
	return env.NewContext(scope)
}

func TestExtract(t *testing.T) {
	e := NewExtractor(env.NewResolver(builtin.NewRegistry()))
	resp := newResponse(`{"id": 42, "items": [{"name": "a"}, {"name": "b"}], "dotted.key": true, "raw": "\"[1,2]\"", "nil": null}`)

	tests := []struct {
		name    string
		capture *parser.Capture
		want    any
	}{
		{"implicit root", &parser.Capture{Source: parser.CaptureBody, Path: "id"}, 42.0},
		{"dollar root", &parser.Capture{Source: parser.CaptureBody, Path: "$.items[1].name"}, "b"},
		{"dot index", &parser.Capture{Source: parser.CaptureBody, Path: "items.0.name"}, "a"},
		{"quoted bracket key", &parser.Capture{Source: parser.CaptureBody, Path: `$["dotted.key"]`}, true},
		{"gjson query", &parser.Capture{Source: parser.CaptureBody, Path: "items.#.name"}, []any{"a", "b"}},
		{"json null", &parser.Capture{Source: parser.CaptureBody, Path: "nil"}, nil},
		{"missing path is undefined", &parser.Capture{Source: parser.CaptureBody, Path: "nope"}, env.Undefined},
		{"header ignores case", &parser.Capture{Source: parser.CaptureHeader, Path: "ETAG"}, `"v1"`},
		{"cookie", &parser.Capture{Source: parser.CaptureCookie, Path: "sid"}, "abc123"},
		{"second cookie", &parser.Capture{Source: parser.CaptureCookie, Path: "csrftoken"}, "xyz"},
		{"assign", &parser.Capture{Source: parser.CaptureAssign, Path: "user.roles[0]"}, "admin"},
		{"parse twice", &parser.Capture{Source: parser.CaptureBody, Path: "raw", Parse: 2}, []any{1.0, 2.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.capture.Name = "v"
			got, err := e.Extract(tt.capture, resp, newContext())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_WholeBodyIsUnchanged(t *testing.T) {
	e := NewExtractor(env.NewResolver(builtin.NewRegistry()))
	c := &parser.Capture{Name: "all", Source: parser.CaptureWholeBody}

	bodies := map[string]any{
		`{"a": [1, {"b": null}]}`: map[string]any{"a": []any{1.0, map[string]any{"b": nil}}},
		`[1, 2]`:                  []any{1.0, 2.0},
		`"str"`:                   "str",
		`plain text`:              "plain text",
		``:                        nil,
	}
	for raw, want := range bodies {
		got, err := e.Extract(c, newResponse(raw), newContext())
		require.NoError(t, err)
		assert.Equal(t, want, got, raw)
	}
}

func TestExtract_Errors(t *testing.T) {
	e := NewExtractor(env.NewResolver(builtin.NewRegistry()))
	resp := newResponse(`{"raw": "not json"}`)

	tests := []struct {
		name    string
		capture *parser.Capture
		message string
	}{
		{"missing header", &parser.Capture{Source: parser.CaptureHeader, Path: "X-Missing"}, `no header "X-Missing"`},
		{"missing cookie", &parser.Capture{Source: parser.CaptureCookie, Path: "session"}, `no cookie "session"`},
		{"missing assign target", &parser.Capture{Source: parser.CaptureAssign, Path: "ghost.id"}, `assign target "ghost.id" not found`},
		{"empty assign", &parser.Capture{Source: parser.CaptureAssign}, "no assign target"},
		{"invalid spec", &parser.Capture{Source: parser.CaptureInvalid}, "invalid capture spec"},
		{"bad parse", &parser.Capture{Source: parser.CaptureBody, Path: "raw", Parse: 1}, "pass 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.capture.Name = "v"
			_, err := e.Extract(tt.capture, resp, newContext())
			require.Error(t, err)
			var ee *ExtractionError
			require.True(t, errors.As(err, &ee))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestExtractInto_Ordered(t *testing.T) {
	e := NewExtractor(env.NewResolver(builtin.NewRegistry()))
	ctx := newContext()
	captures := []*parser.Capture{
		{Name: "id", Source: parser.CaptureBody, Path: "id"},
		{Name: "copy", Source: parser.CaptureAssign, Path: "id"},
	}

	require.NoError(t, e.ExtractInto(captures, newResponse(`{"id": "u-1"}`), ctx))
	assert.Equal(t, "u-1", ctx.Scope.Vars["id"])
	assert.Equal(t, "u-1", ctx.Scope.Vars["copy"])
}

func TestSession(t *testing.T) {
	e := NewExtractor(env.NewResolver(builtin.NewRegistry()))
	resp := newResponse(`{"token": "t-1", "n": 5}`)
	resp.Headers["X-Session"] = "h-1"

	tests := []struct {
		name      string
		sc        *parser.SessionCapture
		transport *parser.SessionTransport
		want      string
	}{
		{"explicit cookie", &parser.SessionCapture{Name: "s", Cookie: "sid"}, nil, "abc123"},
		{"explicit header", &parser.SessionCapture{Name: "s", Header: "x-session"}, nil, "h-1"},
		{"body path", &parser.SessionCapture{Name: "s", FromBody: true, Body: "token"}, nil, "t-1"},
		{"body number", &parser.SessionCapture{Name: "s", FromBody: true, Body: "n"}, nil, "5"},
		{"server cookie", &parser.SessionCapture{Name: "s"}, &parser.SessionTransport{Cookie: "sid"}, "abc123"},
		{"server header", &parser.SessionCapture{Name: "s"}, &parser.SessionTransport{Header: "X-Session"}, "h-1"},
		{"cookie missing falls back to header", &parser.SessionCapture{Name: "s"}, &parser.SessionTransport{Cookie: "nope", Header: "X-Session"}, "h-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Session(tt.sc, tt.transport, resp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := e.Session(&parser.SessionCapture{Name: "s"}, nil, resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no token source")

	_, err = e.Session(&parser.SessionCapture{Name: "s", FromBody: true, Body: "missing"}, nil, resp)
	require.Error(t, err)
}

func TestToGJSONPath(t *testing.T) {
	tests := map[string]string{
		"$":                 "",
		"$.a.b":             "a.b",
		"a[0].b":            "a.0.b",
		"[2]":               "2",
		`a['x.y']`:          `a.x\.y`,
		"a[*].id":           "a.#.id",
		"items.#(age>40).n": "items.#(age>40).n",
	}
	for in, want := range tests {
		assert.Equal(t, want, ToGJSONPath(in), in)
	}
}
