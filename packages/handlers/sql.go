package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/abdul-hamid-achik/hitscript/packages/db"
	"github.com/abdul-hamid-achik/hitscript/packages/http"
	"github.com/abdul-hamid-achik/hitscript/packages/logging"
)

// sqlHandler runs a query against a SQLite database after the response
// arrives and stores the rows in a variable, so checks can compare what the
// API answered with what it wrote.
func sqlHandler() *Handler {
	return &Handler{
		Params: map[string]*parser.Param{
			"dsn":   {Required: true, Type: "string"},
			"query": {Required: true, Type: "string"},
			"args":  {Type: "array"},
			"var":   {Default: "rows", Type: "string"},
			"first": {Default: false, Type: "boolean"},
		},
		Fn: func(ctx context.Context, resp *http.Response, args map[string]any, scope *env.Scope, _ *parser.Step) (*http.Response, error) {
			client, err := db.NewClient(args["dsn"].(string))
			if err != nil {
				return nil, err
			}
			defer client.Close()

			var queryArgs []any
			if a, ok := args["args"].([]any); ok {
				queryArgs = a
			}

			query := args["query"].(string)
			result, err := client.Query(ctx, query, queryArgs...)
			if err != nil {
				return nil, err
			}
			logging.Debug("Handlers", "sql: %d row(s) from %q", len(result.Rows), query)

			rows := make([]any, len(result.Rows))
			for i, row := range result.Rows {
				rows[i] = sqlRow(row)
			}

			name := args["var"].(string)
			if args["first"].(bool) {
				if len(rows) == 0 {
					scope.Set(name, nil)
				} else {
					scope.Set(name, rows[0])
				}
				return resp, nil
			}
			scope.Set(name, rows)
			return resp, nil
		},
	}
}

// sqlRow converts driver values into the value space checks work on.
func sqlRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for col, v := range row {
		switch x := v.(type) {
		case int64:
			out[col] = float64(x)
		case float64, string, bool, nil:
			out[col] = x
		case time.Time:
			out[col] = x.Format(time.RFC3339Nano)
		default:
			out[col] = fmt.Sprint(x)
		}
	}
	return out
}
