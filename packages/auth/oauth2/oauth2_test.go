package oauth2

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		user, pass, _ := r.BasicAuth()
		if user != "cli" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client", "error_description": "bad credentials"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + r.Form.Get("grant_type"),
			"token_type":   "Bearer",
			"expires_in":   3600,
			"scope":        r.Form.Get("scope"),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProvider_ClientCredentialsIsCached(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, &calls)
	p := NewProvider(&Config{TokenURL: srv.URL, ClientID: "cli", ClientSecret: "secret", Scopes: []string{"read", "write"}}, nil, nil)

	tok, err := p.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-client_credentials", tok.AccessToken)
	assert.Equal(t, "read write", tok.Scope)
	assert.False(t, tok.IsExpired())

	_, err = p.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestProvider_PasswordGrant(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, &calls)
	p := NewProvider(&Config{TokenURL: srv.URL, ClientID: "cli", ClientSecret: "secret", GrantType: Password, Username: "u", Password: "p"}, nil, nil)

	tok, err := p.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-password", tok.AccessToken)
}

func TestProvider_ErrorResponse(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, &calls)
	p := NewProvider(&Config{TokenURL: srv.URL, ClientID: "cli", ClientSecret: "wrong"}, nil, nil)

	_, err := p.GetToken(context.Background())
	assert.ErrorContains(t, err, "invalid_client - bad credentials")
}

func TestToken_IsExpired(t *testing.T) {
	assert.False(t, (&Token{}).IsExpired())
	assert.True(t, (&Token{ExpiresAt: time.Now().Add(10 * time.Second)}).IsExpired())
	assert.False(t, (&Token{ExpiresAt: time.Now().Add(time.Hour)}).IsExpired())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, (&Config{TokenURL: "http://x"}).Validate())
	assert.ErrorContains(t, (&Config{}).Validate(), "token url")
	assert.ErrorContains(t, (&Config{TokenURL: "http://x", GrantType: Password}).Validate(), "username")
	assert.ErrorContains(t, (&Config{TokenURL: "http://x", GrantType: "implicit"}).Validate(), "unsupported")
}

func TestTokenCache_EvictsExpired(t *testing.T) {
	c := NewTokenCache()
	c.Store("live", &Token{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)})
	c.Store("stale", &Token{AccessToken: "b", ExpiresAt: time.Now().Add(10 * time.Second)})
	c.Store("forever", &Token{AccessToken: "c"})

	tok, ok := c.Valid("live")
	require.True(t, ok)
	assert.Equal(t, "a", tok.AccessToken)

	_, ok = c.Valid("stale")
	assert.False(t, ok)
	_, ok = c.Valid("forever")
	assert.True(t, ok)
	_, ok = c.Valid("missing")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestProvider_RefreshesExpiredToken(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, &calls)
	cache := NewTokenCache()
	p := NewProvider(&Config{TokenURL: srv.URL, ClientID: "cli", ClientSecret: "secret"}, nil, cache)
	cache.Store(p.cacheKey(), &Token{AccessToken: "old", RefreshToken: "r1", ExpiresAt: time.Now().Add(-time.Minute)})

	tok, err := p.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-refresh_token", tok.AccessToken)
	assert.Equal(t, int32(1), calls.Load())
}
