package registry

import "sync"

// authCache stores bearer tokens obtained via exchangeToken, keyed by
// registry host (bearerRepositoryClient passes the host as the key), so
// repeated requests against the same registry don't repeat the auth
// round trip. It follows the same RWMutex-guarded map discipline
// as descriptorCache.
type authCache struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func newAuthCache() *authCache {
	return &authCache{tokens: make(map[string]string)}
}

func (c *authCache) Get(scope string) (string, bool) {
	c.mu.RLock()
	tok, ok := c.tokens[scope]
	c.mu.RUnlock()
	return tok, ok
}

func (c *authCache) Set(scope, token string) {
	c.mu.Lock()
	c.tokens[scope] = token
	c.mu.Unlock()
}

func (c *authCache) Invalidate(scope string) {
	c.mu.Lock()
	delete(c.tokens, scope)
	c.mu.Unlock()
}
