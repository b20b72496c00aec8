package middleware

import (
	"crypto/subtle"
	"strings"

	"helios_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// AdminToken gates a route group behind a bearer token. An empty configured
// token disables the routes entirely rather than leaving them open.
func AdminToken(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return apperr.Forbidden("admin endpoints disabled")
		}

		presented := c.Get("Authorization")
		presented = strings.TrimPrefix(presented, "Bearer ")
		if presented == "" {
			presented = c.Get("X-Admin-Token")
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			return apperr.Unauthorized("invalid admin token")
		}
		return c.Next()
	}
}
