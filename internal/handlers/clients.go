package handlers

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"clientdash/internal/clients"
	u "clientdash/internal/utils"
	"clientdash/internal/web"
)

const (
	// DashboardPath is the clients overview every client page returns to.
	DashboardPath = "/dashboard/clients/"

	PageDashboard = "pages/clients/dashboard"
	PageDetail    = "pages/clients/detail/dashboard"

	MsgClientMissing = "This client does not exist"
)

// ClientService is what the handlers need from the clients package.
type ClientService interface {
	ValidateClient(ctx context.Context, owner, id string) (clients.Client, error)
	DeleteClient(ctx context.Context, owner, id string) error
	ListClients(ctx context.Context, owner string) ([]clients.Client, error)
}

// ClientHandlers serves the client pages of the dashboard.
type ClientHandlers struct {
	Svc   ClientService
	Flash *web.Flasher
}

func NewClientHandlers(svc ClientService, flash *web.Flasher) *ClientHandlers {
	return &ClientHandlers{Svc: svc, Flash: flash}
}

func (h *ClientHandlers) flash(c *fiber.Ctx, level web.Level, text string) {
	if err := h.Flash.Add(c, level, text); err != nil {
		u.Warn("Failed to queue flash message", "error", err, "path", c.Path())
	}
}

// Dashboard lists the clients of the current actor.
func (h *ClientHandlers) Dashboard(c *fiber.Ctx) error {
	list, err := h.Svc.ListClients(c.UserContext(), web.Actor(c))
	if err != nil {
		u.Error("Listing clients failed", "error", err, "actor", web.Actor(c))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to load clients")
	}
	return web.Render(c, h.Flash, PageDashboard, fiber.Map{
		"Title":   "Clients",
		"clients": list,
	})
}

// Detail renders a single client, or sends the visitor back to the dashboard
// when the client cannot be shown.
func (h *ClientHandlers) Detail(c *fiber.Ctx) error {
	client, err := h.Svc.ValidateClient(c.UserContext(), web.Actor(c), c.Params("id"))
	if err != nil {
		h.flash(c, web.LevelError, MsgClientMissing)
		return c.Redirect(DashboardPath, fiber.StatusFound)
	}
	return web.Render(c, h.Flash, PageDetail, fiber.Map{
		"Title":  client.Name,
		"client": client,
	})
}

// Delete removes a client and returns to the dashboard with the outcome as a
// flash message.
func (h *ClientHandlers) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.Svc.DeleteClient(c.UserContext(), web.Actor(c), id); err != nil {
		h.flash(c, web.LevelError, fmt.Sprintf("Failed to delete the client %s: %s", id, clients.Reason(err)))
	} else {
		h.flash(c, web.LevelSuccess, fmt.Sprintf("Successfully deleted client #%s", id))
	}
	return web.Redirect(c, DashboardPath)
}
