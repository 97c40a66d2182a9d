// Package oauth2 fetches OAuth2 access tokens for scripts.
package oauth2

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitscript/packages/http"
	"github.com/abdul-hamid-achik/hitscript/packages/logging"
)

// GrantType represents the OAuth2 grant type
type GrantType string

const (
	ClientCredentials GrantType = "client_credentials"
	Password          GrantType = "password"
	RefreshToken      GrantType = "refresh_token"
)

type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Username     string // password grant
	Password     string // password grant
	GrantType    GrantType
}

// Validate reports configs no token endpoint could accept.
func (c *Config) Validate() error {
	if c.TokenURL == "" {
		return fmt.Errorf("token url is required")
	}
	switch c.GrantType {
	case "", ClientCredentials:
	case Password:
		if c.Username == "" {
			return fmt.Errorf("password grant requires a username")
		}
	default:
		return fmt.Errorf("unsupported grant type %q", c.GrantType)
	}
	return nil
}

// Token represents an OAuth2 access token
type Token struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"-"`
}

// IsExpired reports whether the token expires within the next 30 seconds.
func (t *Token) IsExpired() bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(30 * time.Second).After(t.ExpiresAt)
}

// Provider fetches tokens for one config and caches them until they expire.
type Provider struct {
	config *Config
	client *http.Client
	cache  *TokenCache
}

func NewProvider(config *Config, client *http.Client, cache *TokenCache) *Provider {
	if client == nil {
		client = http.NewClient()
	}
	if cache == nil {
		cache = NewTokenCache()
	}
	return &Provider{config: config, client: client, cache: cache}
}

// GetToken returns a cached token while it is valid, else fetches one.
func (p *Provider) GetToken(ctx context.Context) (*Token, error) {
	key := p.cacheKey()
	cached, ok := p.cache.Valid(key)
	if ok {
		return cached, nil
	}
	if cached != nil && cached.RefreshToken != "" {
		refreshed, err := p.RefreshAccessToken(ctx, cached.RefreshToken)
		if err == nil {
			p.cache.Store(key, refreshed)
			return refreshed, nil
		}
		logging.Debug("OAuth2", "refresh failed, requesting a new token: %v", err)
	}

	token, err := p.fetchToken(ctx)
	if err != nil {
		return nil, err
	}
	p.cache.Store(key, token)
	return token, nil
}

func (p *Provider) cacheKey() string {
	return fmt.Sprintf("%s:%s:%s:%s", p.config.TokenURL, p.config.ClientID, p.config.Username, strings.Join(p.config.Scopes, ","))
}

func (p *Provider) fetchToken(ctx context.Context) (*Token, error) {
	data := url.Values{}
	switch p.config.GrantType {
	case Password:
		data.Set("grant_type", string(Password))
		data.Set("username", p.config.Username)
		data.Set("password", p.config.Password)
	default:
		data.Set("grant_type", string(ClientCredentials))
	}
	if len(p.config.Scopes) > 0 {
		data.Set("scope", strings.Join(p.config.Scopes, " "))
	}
	return p.doTokenRequest(ctx, data)
}

// RefreshAccessToken exchanges a refresh token for a new access token.
func (p *Provider) RefreshAccessToken(ctx context.Context, refreshToken string) (*Token, error) {
	data := url.Values{}
	data.Set("grant_type", string(RefreshToken))
	data.Set("refresh_token", refreshToken)
	return p.doTokenRequest(ctx, data)
}

func (p *Provider) doTokenRequest(ctx context.Context, data url.Values) (*Token, error) {
	req := http.NewRequest("POST", p.config.TokenURL)
	req.SetHeader("Content-Type", "application/x-www-form-urlencoded")
	req.SetBody([]byte(data.Encode()))
	if p.config.ClientID != "" && p.config.ClientSecret != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(p.config.ClientID + ":" + p.config.ClientSecret))
		req.SetHeader("Authorization", "Basic "+auth)
	}

	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	if resp.StatusCode != 200 {
		var errResp struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(resp.Body, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("token request failed: %s - %s", errResp.Error, errResp.ErrorDescription)
		}
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, resp.BodyString())
	}

	var token Token
	if err := json.Unmarshal(resp.Body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}
	if token.ExpiresIn > 0 {
		token.ExpiresAt = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	return &token, nil
}
