package app

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/session"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"
	"github.com/rs/xid"

	"clientdash/internal/tokens"
	u "clientdash/internal/utils"
	"clientdash/internal/web"
)

const (
	apiKeyLocal = "api_key"
	// sessionKeyField holds the API key a browser authenticated with.
	sessionKeyField = "api_key"
)

// NewRedisStorage connects a gofiber storage to the given redis database. If
// redis cannot be reached the in-memory storage is returned instead.
func NewRedisStorage(addr string, db int, purpose string) (store fiber.Storage) {
	store = memoryStorage.New()
	if addr == "" {
		u.Warn("No redis configured, using memory storage", "purpose", purpose)
		return store
	}
	defer func() {
		if r := recover(); r != nil {
			u.Error("Redis storage init panicked, falling back to memory", "purpose", purpose, "panic", r)
		}
	}()
	store = redisStorage.New(redisStorage.Config{
		Addrs:    []string{addr},
		Database: db,
	})
	u.Info("Using Redis storage", "purpose", purpose, "addr", addr, "db", db)
	return store
}

func tooManyRequests(c *fiber.Ctx) error {
	return fiber.NewError(fiber.StatusTooManyRequests, "Too Many Requests")
}

// tokenLimiter applies the rate limit stored with each token. One limiter is
// built per distinct limit and reused.
type tokenLimiter struct {
	cache    *tokens.Cache
	store    fiber.Storage
	interval time.Duration

	mu       sync.RWMutex
	handlers map[int]fiber.Handler
}

func newTokenLimiter(cache *tokens.Cache, store fiber.Storage, interval time.Duration) *tokenLimiter {
	return &tokenLimiter{
		cache:    cache,
		store:    store,
		interval: interval,
		handlers: make(map[int]fiber.Handler),
	}
}

func (t *tokenLimiter) forLimit(limit int) fiber.Handler {
	t.mu.RLock()
	h, ok := t.handlers[limit]
	t.mu.RUnlock()
	if ok {
		return h
	}

	h = limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        t.interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           t.store,
		KeyGenerator: func(c *fiber.Ctx) string {
			token, _ := c.Locals(apiKeyLocal).(string)
			return "token:" + token
		},
		LimitReached: func(c *fiber.Ctx) error {
			u.Warn("Rate limit exceeded", "actor", web.Actor(c), "path", c.Path())
			return tooManyRequests(c)
		},
	})

	t.mu.Lock()
	t.handlers[limit] = h
	t.mu.Unlock()
	return h
}

func (t *tokenLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, _ := c.Locals(apiKeyLocal).(string)
		if token == "" {
			return c.Next()
		}
		limit := t.cache.RateLimit(token)
		if limit <= 0 {
			return c.Next()
		}
		return t.forLimit(limit)(c)
	}
}

func userKey(c *fiber.Ctx) string {
	sum := sha256.Sum256([]byte(c.IP() + c.Get(fiber.HeaderUserAgent)))
	return "user:" + hex.EncodeToString(sum[:])
}

// userRateLimitMiddleware limits anonymous visitors by address and user
// agent. Authenticated requests are limited per token instead.
func userRateLimitMiddleware(cfg u.Config, store fiber.Storage) fiber.Handler {
	if cfg.RateLimiter.UserLimit <= 0 {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}
	userLimiter := limiter.New(limiter.Config{
		Max:               cfg.RateLimiter.UserLimit,
		Expiration:        cfg.RateLimiter.Interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           store,
		KeyGenerator:      userKey,
		LimitReached: func(c *fiber.Ctx) error {
			u.Warn("Rate limit exceeded", "user", userKey(c), "path", c.Path())
			return tooManyRequests(c)
		},
	})
	return func(c *fiber.Ctx) error {
		if token, ok := c.Locals(apiKeyLocal).(string); ok && token != "" {
			return c.Next()
		}
		return userLimiter(c)
	}
}

// keyPresent reports whether the request carries a key at lookup, which has
// the keyauth "source:name" form.
func keyPresent(c *fiber.Ctx, lookup string) bool {
	source, name, ok := strings.Cut(lookup, ":")
	if !ok {
		return false
	}
	switch source {
	case "header":
		return c.Get(name) != ""
	case "cookie":
		return c.Cookies(name) != ""
	case "query":
		return c.Query(name) != ""
	case "form":
		return c.FormValue(name) != ""
	case "param":
		return c.Params(name) != ""
	}
	return false
}

// rememberKey stores key in the visitor's session so that follow-up page
// loads, which only carry cookies, stay authenticated.
func rememberKey(c *fiber.Ctx, sessions *session.Store, key string) {
	sess, err := sessions.Get(c)
	if err != nil {
		u.Warn("Failed to load session", "error", err)
		return
	}
	if stored, _ := sess.Get(sessionKeyField).(string); stored == key {
		return
	}
	sess.Set(sessionKeyField, key)
	if err := sess.Save(); err != nil {
		u.Warn("Failed to save session", "error", err)
	}
}

// authMiddleware resolves the API key to its owner and scopes. Requests
// without a key pass through anonymously.
func authMiddleware(cfg u.Config, cache *tokens.Cache, sessions *session.Store) fiber.Handler {
	lookup := cfg.Auth.KeyLookup
	if lookup == "" {
		lookup = "header:X-API-Key"
	}
	return keyauth.New(keyauth.Config{
		KeyLookup:  lookup,
		ContextKey: apiKeyLocal,
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			entry, err := cache.Lookup(key)
			if err != nil {
				return false, err
			}
			web.SetActor(c, entry.Owner, entry.Scope)
			if sessions != nil {
				rememberKey(c, sessions, key)
			}
			return true, nil
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || !keyPresent(c, lookup)
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if errors.Is(err, tokens.ErrTokenStoreNotReady) {
				return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
			}
			if err == nil || errors.Is(err, keyauth.ErrMissingOrMalformedAPIKey) {
				err = tokens.ErrInvalidAPIKey
			}
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		},
	})
}

// sessionAuthMiddleware restores the actor of a browser that authenticated
// earlier in its session. The key is looked up on every request so revoked
// tokens stop working at the next reload.
func sessionAuthMiddleware(sessions *session.Store, cache *tokens.Cache) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if web.Actor(c) != "" || c.Method() == fiber.MethodOptions {
			return c.Next()
		}
		sess, err := sessions.Get(c)
		if err != nil {
			u.Warn("Failed to load session", "error", err)
			return c.Next()
		}
		key, _ := sess.Get(sessionKeyField).(string)
		if key == "" {
			return c.Next()
		}
		entry, err := cache.Lookup(key)
		if err != nil {
			if errors.Is(err, tokens.ErrInvalidAPIKey) {
				sess.Delete(sessionKeyField)
				if err := sess.Save(); err != nil {
					u.Warn("Failed to save session", "error", err)
				}
			}
			return c.Next()
		}
		c.Locals(apiKeyLocal, key)
		web.SetActor(c, entry.Owner, entry.Scope)
		return c.Next()
	}
}

// RegisterMiddleware attaches global middleware to the app
func RegisterMiddleware(app *fiber.App, cfg u.Config, cache *tokens.Cache, limitStore fiber.Storage, sessions *session.Store) {
	app.Use(cors.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint:  "/ops/livez",
		ReadinessEndpoint: "/ops/readyz",
		ReadinessProbe: func(c *fiber.Ctx) bool {
			return cache.Ready()
		},
	}))

	app.Use(authMiddleware(cfg, cache, sessions))
	app.Use(sessionAuthMiddleware(sessions, cache))

	app.Use(newTokenLimiter(cache, limitStore, cfg.RateLimiter.Interval).Handler())

	if cfg.RateLimiter.EnableUserLimiter || cfg.RateLimiter.UserLimit > 0 {
		app.Use(userRateLimitMiddleware(cfg, limitStore))
	}

	app.Use(func(c *fiber.Ctx) error {
		requestID := c.GetRespHeader(fiber.HeaderXRequestID)
		u.Info("Incoming request", "method", c.Method(), "path", c.Path(), "request_id", requestID, "htmx", web.IsHTMX(c))
		return c.Next()
	})
}
