package mpesa

import (
	"sync"
	"time"
)

// TokenCache holds one provider auth token and its expiry. It is owned by the
// client that receives it, not a package-level variable, so its lifetime is
// explicit and tests can swap it out.
type TokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

// tokenReuseFraction keeps a margin before the provider-side expiry: a cached
// token is reused until ~97% of its lifetime has elapsed.
const tokenReuseFraction = 0.97

// NewTokenCache creates an empty cache.
func NewTokenCache() *TokenCache {
	return &TokenCache{now: time.Now}
}

// Get returns the cached token if still within the reuse window.
func (c *TokenCache) Get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || !c.now().Before(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

// Put stores a freshly issued token with its advertised lifetime.
func (c *TokenCache) Put(token string, lifetime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = c.now().Add(time.Duration(float64(lifetime) * tokenReuseFraction))
}
