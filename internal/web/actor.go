package web

import (
	"github.com/gofiber/fiber/v2"

	"clientdash/internal/tokens"
)

const (
	actorKey = "actor"
	scopeKey = "scope"
)

// SetActor records the authenticated owner and its scopes on the request.
func SetActor(c *fiber.Ctx, owner string, scope tokens.Scope) {
	c.Locals(actorKey, owner)
	c.Locals(scopeKey, scope)
}

// Actor returns the authenticated owner, or "" for anonymous requests.
func Actor(c *fiber.Ctx) string {
	owner, _ := c.Locals(actorKey).(string)
	return owner
}

// ActorScope returns the scopes of the authenticated owner.
func ActorScope(c *fiber.Ctx) tokens.Scope {
	scope, _ := c.Locals(scopeKey).(tokens.Scope)
	return scope
}
