package web

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	u "clientdash/internal/utils"
)

// MsgNoPermission is flashed when a visitor lacks the scope of a page.
const MsgNoPermission = "You don't have permission to view this page"

// RequireMethods rejects requests whose method is not listed with 405.
func RequireMethods(methods ...string) fiber.Handler {
	allow := strings.Join(methods, ", ")
	return func(c *fiber.Ctx) error {
		for _, m := range methods {
			if c.Method() == m {
				return c.Next()
			}
		}
		c.Set(fiber.HeaderAllow, allow)
		return fiber.ErrMethodNotAllowed
	}
}

// ScopeGuard describes the scopes a route needs.
type ScopeGuard struct {
	Scopes []string
	// RequireAll demands every scope instead of any one of them.
	RequireAll bool
	// RedirectTo is where visitors without permission are sent. When empty
	// they get a 403 instead.
	RedirectTo string
}

func (g ScopeGuard) allows(granted map[string]bool) bool {
	if len(g.Scopes) == 0 {
		return true
	}
	for _, s := range g.Scopes {
		ok := granted[s]
		if g.RequireAll && !ok {
			return false
		}
		if !g.RequireAll && ok {
			return true
		}
	}
	return g.RequireAll
}

// RequireScopes lets the request through only when the actor holds the
// scopes of g.
func RequireScopes(f *Flasher, g ScopeGuard) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if Actor(c) != "" && g.allows(ActorScope(c)) {
			return c.Next()
		}
		u.Warn("Missing scope", "path", c.Path(), "actor", Actor(c), "scopes", g.Scopes)
		if g.RedirectTo == "" {
			return fiber.NewError(fiber.StatusForbidden, MsgNoPermission)
		}
		if err := f.Error(c, MsgNoPermission); err != nil {
			u.Warn("Failed to queue flash message", "error", err)
		}
		return Redirect(c, g.RedirectTo)
	}
}
