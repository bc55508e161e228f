package web

import "github.com/gofiber/fiber/v2"

const (
	HeaderHXRequest  = "HX-Request"
	HeaderHXRedirect = "HX-Redirect"
)

// IsHTMX reports whether the request was issued by htmx.
func IsHTMX(c *fiber.Ctx) bool {
	return c.Get(HeaderHXRequest) == "true"
}

// Redirect sends the visitor to location. htmx swaps responses in place, so
// for htmx requests the target travels in the HX-Redirect header of a 301
// response and the client performs a full navigation.
func Redirect(c *fiber.Ctx, location string) error {
	if IsHTMX(c) {
		c.Set(HeaderHXRedirect, location)
		return c.SendStatus(fiber.StatusMovedPermanently)
	}
	return c.Redirect(location, fiber.StatusFound)
}
