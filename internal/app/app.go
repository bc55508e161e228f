package app

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/session"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	"github.com/gofiber/template/html/v2"

	"clientdash/internal/handlers"
	"clientdash/internal/tokens"
	u "clientdash/internal/utils"
	"clientdash/internal/views"
	"clientdash/internal/web"
)

const (
	ScopeClientsRead  = "clients:read"
	ScopeClientsWrite = "clients:write"
)

// Deps are the collaborators the HTTP layer is built from. Nil storages fall
// back to in-memory ones and a nil Views uses the embedded templates.
type Deps struct {
	Config           u.Config
	Tokens           *tokens.Cache
	Clients          handlers.ClientService
	SessionStorage   fiber.Storage
	RateLimitStorage fiber.Storage
	Views            fs.FS
}

// SetupApp creates and configures a new Fiber app instance
func SetupApp(deps Deps) *fiber.App {
	cfg := deps.Config
	if deps.Views == nil {
		deps.Views = views.FS(false, "")
	}
	if deps.SessionStorage == nil {
		deps.SessionStorage = memoryStorage.New()
	}
	if deps.RateLimitStorage == nil {
		deps.RateLimitStorage = memoryStorage.New()
	}
	if deps.Tokens == nil {
		deps.Tokens = tokens.NewCache()
	}

	engine := html.NewFileSystem(http.FS(deps.Views), ".html")
	engine.Reload(cfg.Views.Reload)

	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		Views:                 engine,
		ViewsLayout:           "layouts/main",
		ErrorHandler:          errorHandler,
	})

	sessions := session.New(session.Config{
		Storage:        deps.SessionStorage,
		Expiration:     cfg.Session.Expiration,
		KeyLookup:      "cookie:" + cfg.Session.CookieName,
		CookieHTTPOnly: true,
		CookieSecure:   cfg.Session.CookieSecure,
		CookieSameSite: "Lax",
	})
	flash := web.NewFlasher(sessions)

	RegisterMiddleware(app, cfg, deps.Tokens, deps.RateLimitStorage, sessions)
	RegisterRoutes(app, deps.Clients, flash)

	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

// RegisterRoutes mounts all route handlers to the app
func RegisterRoutes(app *fiber.App, svc handlers.ClientService, flash *web.Flasher) {
	h := handlers.NewClientHandlers(svc, flash)

	canRead := web.ScopeGuard{Scopes: []string{ScopeClientsRead}, RedirectTo: handlers.DashboardPath}
	canWrite := web.ScopeGuard{Scopes: []string{ScopeClientsWrite}, RedirectTo: handlers.DashboardPath}
	// The dashboard is the redirect target itself.
	canList := web.ScopeGuard{Scopes: []string{ScopeClientsRead}}

	dash := app.Group("/dashboard", requireActor)
	dash.Get("/clients", web.RequireScopes(flash, canList), h.Dashboard)
	dash.All("/clients/:id",
		web.RequireMethods(fiber.MethodGet),
		web.RequireScopes(flash, canRead),
		h.Detail)
	dash.All("/clients/:id/delete",
		web.RequireMethods(fiber.MethodDelete),
		web.RequireScopes(flash, canWrite),
		h.Delete)

	app.Get("/ops/monitor", monitor.New())
}

func requireActor(c *fiber.Ctx) error {
	if web.Actor(c) == "" {
		return fiber.ErrUnauthorized
	}
	return c.Next()
}

// errorHandler renders failures as an HTML page for browsers and as JSON for
// everything else.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	} else {
		u.Error("Unhandled error", "path", c.Path(), "error", err)
	}

	u.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

	if c.Accepts(fiber.MIMETextHTML, fiber.MIMEApplicationJSON) == fiber.MIMETextHTML {
		rerr := c.Status(code).Render("errors/error", fiber.Map{
			"Title":   msg,
			"Code":    code,
			"Message": msg,
		})
		if rerr == nil {
			return nil
		}
		u.Error("Rendering error page failed", "error", rerr)
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": msg,
		},
	})
}
