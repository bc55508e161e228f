// Package tokens holds the API tokens that authenticate dashboard users and
// the scopes granted to each of them.
package tokens

import (
	"errors"
	"sync"
)

var (
	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrTokenStoreNotReady signals that tokens were never loaded, usually
	// because the database was unreachable during startup.
	ErrTokenStoreNotReady = errors.New("token store not ready")
)

// Scope is the set of permission names granted to a token, e.g.
// "clients:read".
type Scope map[string]bool

// Has reports whether name is granted.
func (s Scope) Has(name string) bool {
	return s[name]
}

// Entry describes a single token.
type Entry struct {
	// Owner identifies the actor whose records the token may access.
	Owner     string
	RateLimit int
	Scope     Scope
}

// Cache is an in-memory snapshot of all tokens.
type Cache struct {
	mu    sync.RWMutex
	items map[string]Entry
}

func NewCache() *Cache {
	return &Cache{}
}

// Replace swaps the whole snapshot. The map is copied.
func (c *Cache) Replace(m map[string]Entry) {
	items := make(map[string]Entry, len(m))
	for k, v := range m {
		items[k] = v
	}
	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
}

// Ready reports whether the cache has been filled at least once.
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items != nil
}

// Lookup returns the entry for token.
func (c *Cache) Lookup(token string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.items == nil {
		return Entry{}, ErrTokenStoreNotReady
	}
	e, ok := c.items[token]
	if !ok {
		return Entry{}, ErrInvalidAPIKey
	}
	return e, nil
}

// RateLimit returns the per-interval request limit of token. Unknown tokens
// report 0, which disables token based limiting.
func (c *Cache) RateLimit(token string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items[token].RateLimit
}
