package handlers

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"sync"

	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/abdul-hamid-achik/hitscript/packages/http"
	"github.com/abdul-hamid-achik/hitscript/packages/logging"
	"github.com/getkin/kin-openapi/openapi3"
)

// contracts caches loaded OpenAPI documents by file path.
type contracts struct {
	mu   sync.Mutex
	docs map[string]*openapi3.T
}

func (c *contracts) load(ctx context.Context, file string) (*openapi3.T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if doc, ok := c.docs[file]; ok {
		return doc, nil
	}

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true
	doc, err := loader.LoadFromFile(file)
	if err != nil {
		return nil, fmt.Errorf("loading OpenAPI document %s: %w", file, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document %s: %w", file, err)
	}
	c.docs[file] = doc
	logging.Debug("Handlers", "loaded OpenAPI document %s", file)
	return doc, nil
}

// openapiHandler checks the response against the operation declared for
// path and method in an OpenAPI document: the status must be documented
// and a JSON body must match the declared schema.
func openapiHandler() *Handler {
	cache := &contracts{docs: make(map[string]*openapi3.T)}
	return &Handler{
		Params: map[string]*parser.Param{
			"spec":   {Required: true, Type: "string", Description: "OpenAPI document file"},
			"path":   {Required: true, Type: "string", Description: "path template as written in the document, e.g. /users/{id}"},
			"method": {Default: "", Type: "string"},
		},
		Fn: func(ctx context.Context, resp *http.Response, args map[string]any, _ *env.Scope, step *parser.Step) (*http.Response, error) {
			doc, err := cache.load(ctx, args["spec"].(string))
			if err != nil {
				return nil, err
			}

			path := args["path"].(string)
			method := strings.ToUpper(args["method"].(string))
			if method == "" && step != nil && step.Request != nil {
				method = strings.ToUpper(step.Request.Method)
			}
			if method == "" {
				method = "GET"
			}

			item := doc.Paths.Find(path)
			if item == nil {
				return nil, fmt.Errorf("openapi: path %s is not documented", path)
			}
			op := item.GetOperation(method)
			if op == nil {
				return nil, fmt.Errorf("openapi: %s %s is not documented", method, path)
			}

			ref := op.Responses.Status(resp.StatusCode)
			if ref == nil {
				ref = op.Responses.Default()
			}
			if ref == nil || ref.Value == nil {
				return nil, fmt.Errorf("openapi: status %d is not documented for %s %s", resp.StatusCode, method, path)
			}

			mediaType := "application/json"
			if ct := resp.ContentType(); ct != "" {
				if parsed, _, err := mime.ParseMediaType(ct); err == nil {
					mediaType = parsed
				}
			}
			media := ref.Value.Content.Get(mediaType)
			if media == nil || media.Schema == nil || media.Schema.Value == nil {
				return resp, nil
			}
			if !strings.Contains(mediaType, "json") {
				return resp, nil
			}

			body, err := resp.BodyJSON()
			if err != nil {
				return nil, fmt.Errorf("openapi: %s %s: body is not JSON: %w", method, path, err)
			}
			if err := media.Schema.Value.VisitJSON(body); err != nil {
				return nil, fmt.Errorf("openapi: %s %s %d: %w", method, path, resp.StatusCode, err)
			}
			return resp, nil
		},
	}
}
