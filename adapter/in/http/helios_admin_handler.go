package http

import (
	"helios_server/core/service/ingest"

	"github.com/gofiber/fiber/v2"
)

// AdminHandler exposes operator actions. Routes are registered behind the
// admin token middleware.
type AdminHandler struct {
	sweeper *ingest.Sweeper
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(sweeper *ingest.Sweeper) *AdminHandler {
	return &AdminHandler{sweeper: sweeper}
}

// Register registers admin routes on an already-gated group.
func (h *AdminHandler) Register(router fiber.Router) {
	router.Post("/sweep", h.TriggerSweep)
}

// TriggerSweep runs a mail sweep synchronously and returns its report.
func (h *AdminHandler) TriggerSweep(c *fiber.Ctx) error {
	if h.sweeper == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "Sweep not available")
	}

	report, err := h.sweeper.Sweep(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(report)
}
