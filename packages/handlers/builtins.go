package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/abdul-hamid-achik/hitscript/packages/auth/oauth2"
	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/abdul-hamid-achik/hitscript/packages/http"
	"github.com/abdul-hamid-achik/hitscript/packages/logging"
	"github.com/abdul-hamid-achik/hitscript/packages/snapshot"
)

func registerBuiltins(r *Registry) {
	// set copies every arg into scope. Only names the caller has not bound
	// yet survive the call.
	r.Register("set", &Handler{
		Fn: func(_ context.Context, resp *http.Response, args map[string]any, scope *env.Scope, _ *parser.Step) (*http.Response, error) {
			for k, v := range args {
				scope.Set(k, v)
			}
			return resp, nil
		},
	})

	r.Register("log", &Handler{
		Params: map[string]*parser.Param{
			"message": {Required: true, Type: "string"},
			"level":   {Default: "info", Type: "string"},
		},
		Fn: func(_ context.Context, resp *http.Response, args map[string]any, _ *env.Scope, step *parser.Step) (*http.Response, error) {
			msg := args["message"].(string)
			label := ""
			if step != nil {
				label = step.Label()
			}
			switch logging.ParseLevel(args["level"].(string)) {
			case logging.LevelTrace:
				logging.Trace("Script", "%s: %s", label, msg)
			case logging.LevelDebug:
				logging.Debug("Script", "%s: %s", label, msg)
			case logging.LevelWarn:
				logging.Warn("Script", "%s: %s", label, msg)
			case logging.LevelError:
				logging.Error("Script", nil, "%s: %s", label, msg)
			default:
				logging.Info("Script", "%s: %s", label, msg)
			}
			return resp, nil
		},
	})

	// parseBody unwraps a body that is a JSON string holding JSON.
	r.Register("parseBody", &Handler{
		Params: map[string]*parser.Param{
			"times": {Default: 1.0, Type: "integer"},
		},
		Fn: func(_ context.Context, resp *http.Response, args map[string]any, _ *env.Scope, _ *parser.Step) (*http.Response, error) {
			body := resp.Body
			for i := 0; i < int(args["times"].(float64)); i++ {
				var s string
				if err := json.Unmarshal(body, &s); err != nil {
					break
				}
				if !json.Valid([]byte(s)) {
					return nil, fmt.Errorf("pass %d: decoded string is not JSON", i+1)
				}
				body = []byte(s)
			}
			out := *resp
			out.Body = body
			return &out, nil
		},
	})

	r.Register("sql", sqlHandler())
	r.Register("snapshot", NewSnapshotHandler(snapshot.NewStore(false)))
	r.Register("oauth2", oauth2Handler(oauth2.NewTokenCache()))
	r.Register("sse", sseHandler())
	r.Register("openapi", openapiHandler())
}
