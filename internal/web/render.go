package web

import (
	"github.com/gofiber/fiber/v2"

	u "clientdash/internal/utils"
)

// Render renders the page name, adding the pending flash messages to bind
// under "Messages".
func Render(c *fiber.Ctx, f *Flasher, name string, bind fiber.Map) error {
	if bind == nil {
		bind = fiber.Map{}
	}
	msgs, err := f.Pop(c)
	if err != nil {
		u.Warn("Failed to read flash messages", "error", err)
	}
	bind["Messages"] = msgs
	bind["Actor"] = Actor(c)
	return c.Render(name, bind)
}
