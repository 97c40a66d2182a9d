package oauth2

import "sync"

// TokenCache holds fetched tokens across steps and scripts so a loop does
// not hit the token endpoint on every iteration.
type TokenCache struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

func NewTokenCache() *TokenCache {
	return &TokenCache{tokens: make(map[string]*Token)}
}

// Valid returns the token stored under key and whether it is still usable.
// An expired token is evicted but still returned so its refresh token can
// be spent.
func (c *TokenCache) Valid(key string) (*Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	token, ok := c.tokens[key]
	if !ok {
		return nil, false
	}
	if token.IsExpired() {
		delete(c.tokens, key)
		return token, false
	}
	return token, true
}

func (c *TokenCache) Store(key string, token *Token) {
	c.mu.Lock()
	c.tokens[key] = token
	c.mu.Unlock()
}

func (c *TokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}
