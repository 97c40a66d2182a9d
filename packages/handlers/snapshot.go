package handlers

import (
	"context"
	"fmt"

	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/abdul-hamid-achik/hitscript/packages/http"
	"github.com/abdul-hamid-achik/hitscript/packages/logging"
	"github.com/abdul-hamid-achik/hitscript/packages/snapshot"
)

// NewSnapshotHandler compares the decoded response body with the snapshot
// stored under the call's name, or the step label. A mismatch fails the
// step as a runtime error.
func NewSnapshotHandler(store *snapshot.Store) *Handler {
	return &Handler{
		Params: map[string]*parser.Param{
			"file": {Default: snapshot.DefaultFile, Type: "string"},
			"name": {Default: "", Type: "string"},
		},
		Fn: func(_ context.Context, resp *http.Response, args map[string]any, _ *env.Scope, step *parser.Step) (*http.Response, error) {
			name := args["name"].(string)
			if name == "" && step != nil {
				name = step.Label()
			}
			body := resp.DecodedBody()
			key := snapshot.Key(name, body)

			res, err := store.Compare(args["file"].(string), key, body)
			if err != nil {
				return nil, err
			}
			if !res.Passed {
				return nil, fmt.Errorf("%s: %s", key, res.Message)
			}
			if res.Message != "" {
				logging.Info("Handlers", "snapshot %s: %s", key, res.Message)
			}
			return resp, nil
		},
	}
}
