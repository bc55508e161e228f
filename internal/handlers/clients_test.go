package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	"github.com/gofiber/template/html/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientdash/internal/clients"
	"clientdash/internal/tokens"
	"clientdash/internal/views"
	"clientdash/internal/web"
)

type fakeService struct {
	clients   map[string]clients.Client
	deleteErr error
	deleted   []string
}

func (f *fakeService) ValidateClient(_ context.Context, owner, id string) (clients.Client, error) {
	c, ok := f.clients[id]
	if !ok || c.Owner != owner {
		return clients.Client{}, clients.ErrClientNotFound
	}
	return c, nil
}

func (f *fakeService) DeleteClient(_ context.Context, owner, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeService) ListClients(_ context.Context, owner string) ([]clients.Client, error) {
	var out []clients.Client
	for _, c := range f.clients {
		if c.Owner == owner {
			out = append(out, c)
		}
	}
	return out, nil
}

func newTestApp(svc ClientService) *fiber.App {
	engine := html.NewFileSystem(http.FS(views.FS(false, "")), ".html")
	app := fiber.New(fiber.Config{Views: engine, ViewsLayout: "layouts/main"})
	flash := web.NewFlasher(session.New(session.Config{Storage: memoryStorage.New()}))
	h := NewClientHandlers(svc, flash)

	app.Use(func(c *fiber.Ctx) error {
		web.SetActor(c, "alice", tokens.Scope{"clients:read": true, "clients:write": true})
		return c.Next()
	})
	app.Get("/dashboard/clients", h.Dashboard)
	app.Get("/dashboard/clients/:id", h.Detail)
	app.Delete("/dashboard/clients/:id/delete", h.Delete)
	return app
}

func sampleService() *fakeService {
	return &fakeService{clients: map[string]clients.Client{
		"7": {ID: 7, Owner: "alice", Name: "Ada Lovelace", Email: "ada@example.com", CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		"9": {ID: 9, Owner: "bob", Name: "Someone Else"},
	}}
}

// follow issues a GET to location carrying the cookies of prev.
func follow(t *testing.T, app *fiber.App, prev *http.Response, location string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, location, nil)
	for _, c := range prev.Cookies() {
		req.AddCookie(c)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestDetail_RendersClient(t *testing.T) {
	app := newTestApp(sampleService())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/dashboard/clients/7", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	b, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(b), `<h1 class="client-name">Ada Lovelace</h1>`)
	assert.Contains(t, string(b), "2024-03-01")
}

func TestDetail_UnknownClientRedirects(t *testing.T) {
	app := newTestApp(sampleService())

	for _, id := range []string{"404", "9", "abc"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/dashboard/clients/"+id, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusFound, resp.StatusCode, id)
		assert.Equal(t, DashboardPath, resp.Header.Get(fiber.HeaderLocation))

		page := follow(t, app, resp, DashboardPath)
		assert.Contains(t, page, MsgClientMissing, id)
	}
}

func TestDashboard_ListsOwnClients(t *testing.T) {
	app := newTestApp(sampleService())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, DashboardPath, nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	b, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(b), "Ada Lovelace")
	assert.NotContains(t, string(b), "Someone Else")
}

func TestDelete_Success(t *testing.T) {
	svc := sampleService()
	app := newTestApp(svc)

	resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/dashboard/clients/7/delete", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, DashboardPath, resp.Header.Get(fiber.HeaderLocation))
	assert.Equal(t, []string{"7"}, svc.deleted)

	page := follow(t, app, resp, DashboardPath)
	assert.Contains(t, page, "Successfully deleted client #7")
}

func TestDelete_Failures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not found", clients.ErrClientNotFound, "Failed to delete the client 7: Client not found"},
		{"foreign owner", clients.ErrNoPermission, "Failed to delete the client 7: You do not have permission to delete this client"},
		{"in use", clients.ErrClientInUse, "Failed to delete the client 7: This client is still used by other records"},
		{"unexpected", errors.New("boom"), "Failed to delete the client 7: Something went wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := sampleService()
			svc.deleteErr = tt.err
			app := newTestApp(svc)

			resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/dashboard/clients/7/delete", nil))
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusFound, resp.StatusCode)

			page := follow(t, app, resp, DashboardPath)
			assert.Contains(t, page, tt.want)
			assert.Contains(t, page, "message-error")
		})
	}
}

func TestDelete_HTMXRedirect(t *testing.T) {
	app := newTestApp(sampleService())

	req := httptest.NewRequest(http.MethodDelete, "/dashboard/clients/7/delete", nil)
	req.Header.Set(web.HeaderHXRequest, "true")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, DashboardPath, resp.Header.Get(web.HeaderHXRedirect))

	page := follow(t, app, resp, DashboardPath)
	assert.Contains(t, page, "Successfully deleted client #7")
}
