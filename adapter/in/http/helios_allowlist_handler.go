package http

import (
	"helios_server/core/service/allowlist"

	"github.com/gofiber/fiber/v2"
)

// AllowlistHandler serves the versioned allowlist snapshot.
type AllowlistHandler struct {
	allowlistService *allowlist.Service
}

// NewAllowlistHandler creates a new allowlist handler.
func NewAllowlistHandler(allowlistService *allowlist.Service) *AllowlistHandler {
	return &AllowlistHandler{allowlistService: allowlistService}
}

// Register registers allowlist routes.
func (h *AllowlistHandler) Register(router fiber.Router) {
	router.Get("/allowlist", h.GetAllowlist)
}

// GetAllowlist returns the current snapshot. The caller's etag is taken from
// the ifNoneMatch query parameter or the If-None-Match header; when it still
// matches only {not_modified, etag} is returned.
func (h *AllowlistHandler) GetAllowlist(c *fiber.Ctx) error {
	ifNoneMatch := c.Query("ifNoneMatch")
	if ifNoneMatch == "" {
		ifNoneMatch = c.Get("If-None-Match")
	}

	view, err := h.allowlistService.Snapshot(c.Context(), ifNoneMatch)
	if err != nil {
		return err
	}

	c.Set("ETag", view.ETag)
	if view.NotModified {
		return c.JSON(fiber.Map{
			"not_modified": true,
			"etag":         view.ETag,
		})
	}
	return c.JSON(view)
}
