package handlers

import (
	"context"

	"github.com/abdul-hamid-achik/hitscript/packages/auth/oauth2"
	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/abdul-hamid-achik/hitscript/packages/http"
	"github.com/abdul-hamid-achik/hitscript/packages/logging"
)

// oauth2Handler fetches an access token and stores it as a session, so
// later requests can name that session. Tokens are reused until they expire.
func oauth2Handler(cache *oauth2.TokenCache) *Handler {
	return &Handler{
		Params: map[string]*parser.Param{
			"tokenUrl":     {Required: true, Type: "string"},
			"clientId":     {Default: "", Type: "string"},
			"clientSecret": {Default: "", Type: "string"},
			"grant":        {Default: string(oauth2.ClientCredentials), Type: "string"},
			"username":     {Default: "", Type: "string"},
			"password":     {Default: "", Type: "string"},
			"scopes":       {Type: "array"},
			"session":      {Default: "oauth2", Type: "string"},
		},
		Fn: func(ctx context.Context, resp *http.Response, args map[string]any, scope *env.Scope, _ *parser.Step) (*http.Response, error) {
			cfg := &oauth2.Config{
				TokenURL:     args["tokenUrl"].(string),
				ClientID:     args["clientId"].(string),
				ClientSecret: args["clientSecret"].(string),
				GrantType:    oauth2.GrantType(args["grant"].(string)),
				Username:     args["username"].(string),
				Password:     args["password"].(string),
			}
			if scopes, ok := args["scopes"].([]any); ok {
				for _, s := range scopes {
					cfg.Scopes = append(cfg.Scopes, env.Stringify(s))
				}
			}
			if err := cfg.Validate(); err != nil {
				return nil, err
			}

			token, err := oauth2.NewProvider(cfg, nil, cache).GetToken(ctx)
			if err != nil {
				return nil, err
			}
			name := args["session"].(string)
			scope.SetSession(name, token.AccessToken)
			logging.Debug("Handlers", "oauth2: session %q set from %s", name, cfg.TokenURL)
			return resp, nil
		},
	}
}
