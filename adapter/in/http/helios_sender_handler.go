package http

import (
	"strconv"

	"helios_server/core/domain"
	"helios_server/core/service/triage"
	"helios_server/pkg/apperr"
	"helios_server/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// SenderHandler handles the unknown-sender review workflow.
type SenderHandler struct {
	triageService *triage.Service
}

// NewSenderHandler creates a new sender handler.
func NewSenderHandler(triageService *triage.Service) *SenderHandler {
	return &SenderHandler{triageService: triageService}
}

// Register registers unknown-sender routes.
func (h *SenderHandler) Register(router fiber.Router) {
	senders := router.Group("/unknown-senders")
	senders.Get("/", h.ListSenders)
	senders.Post("/", h.RecordSender)
	senders.Get("/:id", h.GetSender)
	senders.Post("/:id/resolve", h.ResolveSender)
}

// ListSenders returns unknown senders, filtered by resolved and status.
func (h *SenderHandler) ListSenders(c *fiber.Ctx) error {
	page := response.GetPagination(c, 50, 200)

	filter := &domain.UnknownSenderFilter{
		Status: c.Query("status"),
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	if raw := c.Query("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			return apperr.InvalidInput("resolved", "must be true or false")
		}
		filter.Resolved = &resolved
	}

	senders, total, err := h.triageService.List(c.Context(), filter)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"senders": senders,
		"total":   total,
		"limit":   page.Limit,
		"offset":  page.Offset,
	})
}

// GetSender returns a single unknown sender.
func (h *SenderHandler) GetSender(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.InvalidInput("id", "must be a UUID")
	}

	sender, err := h.triageService.Get(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(sender)
}

// RecordSenderRequest represents a manual unknown-sender report.
type RecordSenderRequest struct {
	Email     string `json:"email"`
	MessageID string `json:"message_id"`
	Subject   string `json:"subject,omitempty"`
}

// RecordSender records a sender observation, bumping hits on repeats.
func (h *SenderHandler) RecordSender(c *fiber.Ctx) error {
	var req RecordSenderRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if req.Email == "" {
		return apperr.MissingField("email")
	}
	if req.MessageID == "" {
		return apperr.MissingField("message_id")
	}

	sender, err := h.triageService.Record(c.Context(), req.Email, req.MessageID, req.Subject)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(sender)
}

// ResolveSender applies a triage decision to an unknown sender.
func (h *SenderHandler) ResolveSender(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.InvalidInput("id", "must be a UUID")
	}

	var req domain.ResolveRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	sender, err := h.triageService.Resolve(c.Context(), id, &req)
	if err != nil {
		return err
	}
	return c.JSON(sender)
}
