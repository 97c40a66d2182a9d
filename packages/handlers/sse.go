package handlers

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/abdul-hamid-achik/hitscript/packages/http"
	"github.com/abdul-hamid-achik/hitscript/packages/sse"
)

// sseHandler replaces a text/event-stream body with a JSON list of its
// events, so checks and captures can address body.0.data.
func sseHandler() *Handler {
	return &Handler{
		Params: map[string]*parser.Param{
			"max": {Default: 0.0, Type: "integer"},
		},
		Fn: func(_ context.Context, resp *http.Response, args map[string]any, _ *env.Scope, _ *parser.Step) (*http.Response, error) {
			events, err := sse.Parse(bytes.NewReader(resp.Body), int(args["max"].(float64)))
			if err != nil {
				return nil, err
			}
			body, err := json.Marshal(events)
			if err != nil {
				return nil, err
			}

			out := *resp
			out.Body = body
			out.Headers = make(map[string]string, len(resp.Headers))
			for k, v := range resp.Headers {
				out.Headers[k] = v
			}
			out.Headers["Content-Type"] = "application/json"
			return &out, nil
		},
	}
}
