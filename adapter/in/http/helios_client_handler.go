package http

import (
	"strings"

	"helios_server/core/domain"
	"helios_server/core/service/contact"
	"helios_server/pkg/apperr"
	"helios_server/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// ClientHandler handles client CRUD and attendee lookup requests.
type ClientHandler struct {
	contactService *contact.Service
}

// NewClientHandler creates a new client handler.
func NewClientHandler(contactService *contact.Service) *ClientHandler {
	return &ClientHandler{contactService: contactService}
}

// Register registers client routes.
func (h *ClientHandler) Register(router fiber.Router) {
	clients := router.Group("/clients")
	clients.Get("/", h.ListClients)
	clients.Post("/", h.CreateClient)
	clients.Get("/:id", h.GetClient)
	clients.Patch("/:id", h.UpdateClient)
	clients.Delete("/:id", h.DeleteClient)

	router.Get("/contacts/lookup-by-attendees", h.LookupByAttendees)
}

func parseClientID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, apperr.InvalidInput("id", "must be a UUID")
	}
	return id, nil
}

// ListClients returns clients matching the query filters.
func (h *ClientHandler) ListClients(c *fiber.Ctx) error {
	page := response.GetPagination(c, 50, 100)

	filter := &domain.ClientFilter{
		Search:          c.Query("search"),
		Tag:             c.Query("tag"),
		IncludeInactive: c.QueryBool("include_inactive", false),
		Limit:           page.Limit,
		Offset:          page.Offset,
	}

	clients, total, err := h.contactService.List(c.Context(), filter)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"clients": clients,
		"total":   total,
		"limit":   page.Limit,
		"offset":  page.Offset,
	})
}

// GetClient returns a single client.
func (h *ClientHandler) GetClient(c *fiber.Ctx) error {
	id, err := parseClientID(c)
	if err != nil {
		return err
	}

	client, err := h.contactService.Get(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(client)
}

// CreateClient registers a new client.
func (h *ClientHandler) CreateClient(c *fiber.Ctx) error {
	var req domain.ClientInput
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	client, err := h.contactService.Create(c.Context(), &req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(client)
}

// UpdateClient applies a partial update.
func (h *ClientHandler) UpdateClient(c *fiber.Ctx) error {
	id, err := parseClientID(c)
	if err != nil {
		return err
	}

	var req domain.ClientInput
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	client, err := h.contactService.Update(c.Context(), id, &req)
	if err != nil {
		return err
	}
	return c.JSON(client)
}

// DeleteClient soft-deletes a client.
func (h *ClientHandler) DeleteClient(c *fiber.Ctx) error {
	id, err := parseClientID(c)
	if err != nil {
		return err
	}

	if err := h.contactService.Delete(c.Context(), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// LookupByAttendees scores attendee emails against the allowlist. Emails come
// comma-separated in the emails query parameter.
func (h *ClientHandler) LookupByAttendees(c *fiber.Ctx) error {
	raw := c.Query("emails")
	if raw == "" {
		return apperr.MissingField("emails")
	}

	var emails []string
	for _, e := range strings.Split(raw, ",") {
		if e = strings.TrimSpace(e); e != "" {
			emails = append(emails, e)
		}
	}

	matches, err := h.contactService.LookupByAttendees(c.Context(), emails)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"matches": matches,
		"total":   len(matches),
	})
}
