package app

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientdash/internal/tokens"
	u "clientdash/internal/utils"
	"clientdash/internal/web"
)

type memStore struct {
	sync.RWMutex
	m map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string][]byte)}
}

func (s *memStore) Get(key string) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()
	val, ok := s.m[key]
	if !ok {
		return nil, nil
	}
	return val, nil
}

func (s *memStore) Set(key string, val []byte, exp time.Duration) error {
	s.Lock()
	s.m[key] = val
	s.Unlock()
	return nil
}

func (s *memStore) Delete(key string) error {
	s.Lock()
	delete(s.m, key)
	s.Unlock()
	return nil
}

func (s *memStore) Reset() error {
	s.Lock()
	s.m = make(map[string][]byte)
	s.Unlock()
	return nil
}

func (s *memStore) Close() error { return nil }

func limiterConfig(userLimit int) u.Config {
	cfg := u.DefaultConfig()
	cfg.RateLimiter.EnableUserLimiter = true
	cfg.RateLimiter.UserLimit = userLimit
	cfg.RateLimiter.Interval = time.Hour
	return cfg
}

func tokenCache(entries map[string]tokens.Entry) *tokens.Cache {
	c := tokens.NewCache()
	c.Replace(entries)
	return c
}

func limitedRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "test-agent")
	req.RemoteAddr = "1.2.3.4:5678"
	if token != "" {
		req.Header.Set("X-API-Key", token)
	}
	return req
}

func TestUserRateLimitMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(userRateLimitMiddleware(limiterConfig(2), newMemStore()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 2; i++ {
		resp, err := app.Test(limitedRequest(""), -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode, "request %d", i+1)
	}

	resp, err := app.Test(limitedRequest(""), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}

func TestUserRateLimitMiddleware_Disabled(t *testing.T) {
	app := fiber.New()
	app.Use(userRateLimitMiddleware(limiterConfig(0), newMemStore()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 5; i++ {
		resp, err := app.Test(limitedRequest(""), -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
}

func TestTokenRateLimitMiddleware(t *testing.T) {
	cfg := limiterConfig(0)
	cache := tokenCache(map[string]tokens.Entry{"test-token": {Owner: "alice", RateLimit: 2}})

	app := fiber.New()
	app.Use(authMiddleware(cfg, cache, nil))
	app.Use(newTokenLimiter(cache, newMemStore(), time.Hour).Handler())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 2; i++ {
		resp, err := app.Test(limitedRequest("test-token"), -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode, "request %d", i+1)
	}

	resp, err := app.Test(limitedRequest("test-token"), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}

func TestTokenWithoutLimitIsNotThrottled(t *testing.T) {
	cfg := limiterConfig(0)
	cache := tokenCache(map[string]tokens.Entry{"free": {Owner: "alice"}})

	app := fiber.New()
	app.Use(authMiddleware(cfg, cache, nil))
	app.Use(newTokenLimiter(cache, newMemStore(), time.Hour).Handler())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 5; i++ {
		resp, err := app.Test(limitedRequest("free"), -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
}

func TestTokenBasedLimitOverridesUserBasedLimit(t *testing.T) {
	cfg := limiterConfig(2)
	// A high token limit so only the user limiter could block.
	cache := tokenCache(map[string]tokens.Entry{"test-token": {Owner: "alice", RateLimit: 100}})
	store := newMemStore()

	app := fiber.New()
	app.Use(authMiddleware(cfg, cache, nil))
	app.Use(newTokenLimiter(cache, store, time.Hour).Handler())
	app.Use(userRateLimitMiddleware(cfg, store))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 2; i++ {
		resp, err := app.Test(limitedRequest(""), -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
	resp, err := app.Test(limitedRequest(""), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	resp, err = app.Test(limitedRequest("test-token"), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestKeyPresent(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"header": keyPresent(c, "header:X-API-Key"),
			"query":  keyPresent(c, "query:key"),
			"cookie": keyPresent(c, "cookie:key"),
			"broken": keyPresent(c, "nonsense"),
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/?key=abc", nil)
	req.Header.Set("X-API-Key", "abc")
	resp, err := app.Test(req)
	require.NoError(t, err)

	var got map[string]bool
	require.NoError(t, decodeJSON(resp, &got))
	assert.Equal(t, map[string]bool{"header": true, "query": true, "cookie": false, "broken": false}, got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "key", Value: "abc"})
	resp, err = app.Test(req)
	require.NoError(t, err)
	got = nil
	require.NoError(t, decodeJSON(resp, &got))
	assert.Equal(t, map[string]bool{"header": false, "query": false, "cookie": true, "broken": false}, got)
}

func TestKeyPresent_Form(t *testing.T) {
	app := fiber.New()
	app.Post("/", func(c *fiber.Ctx) error {
		if keyPresent(c, "form:key") {
			return c.SendString("yes")
		}
		return c.SendString("no")
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("key=abc"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
	resp, err := app.Test(req)
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "yes", string(b))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("other=abc"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
	resp, err = app.Test(req)
	require.NoError(t, err)
	b, _ = io.ReadAll(resp.Body)
	assert.Equal(t, "no", string(b))
}

func TestAuthMiddleware_CookieLookup(t *testing.T) {
	cfg := limiterConfig(0)
	cfg.Auth.KeyLookup = "cookie:clientdash_key"
	cache := tokenCache(map[string]tokens.Entry{"k1": {Owner: "alice"}})

	app := fiber.New()
	app.Use(authMiddleware(cfg, cache, nil))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(web.Actor(c)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "clientdash_key", Value: "k1"})
	resp, err := app.Test(req)
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "alice", string(b))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "clientdash_key", Value: "nope"})
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
