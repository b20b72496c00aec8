package http

import (
	"time"

	"helios_server/core/domain"
	"helios_server/core/port/out"
	"helios_server/core/service/ingest"
	"helios_server/pkg/apperr"
	"helios_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// IngestHandler exposes the email ingestion entry point and task listings.
type IngestHandler struct {
	ingestService *ingest.Service
	tasks         out.EmailTaskRepository
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(ingestService *ingest.Service, tasks out.EmailTaskRepository) *IngestHandler {
	return &IngestHandler{ingestService: ingestService, tasks: tasks}
}

// Register registers ingestion routes.
func (h *IngestHandler) Register(router fiber.Router) {
	router.Post("/tasks/from-email", h.TaskFromEmail)
	router.Get("/email-tasks/latest", h.LatestTasks)
}

// TaskFromEmailRequest is the ingestion payload. Timestamps are epoch
// milliseconds.
type TaskFromEmailRequest struct {
	MessageID   string `json:"message_id"`
	Sender      string `json:"sender"`
	Subject     string `json:"subject,omitempty"`
	Content     string `json:"content,omitempty"`
	GmailLink   string `json:"gmail_link,omitempty"`
	ThreadID    string `json:"thread_id,omitempty"`
	ReceivedTS  *int64 `json:"received_ts,omitempty"`
	StartTS     *int64 `json:"start_ts,omitempty"`
	DueTS       *int64 `json:"due_ts,omitempty"`
	SourceLabel string `json:"source_label,omitempty"`
	DryRun      bool   `json:"dry_run,omitempty"`
	Priority    string `json:"priority,omitempty"`
	ClientHint  string `json:"client_hint,omitempty"`
}

func msToTime(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

// TaskFromEmail runs one message through the ingestion pipeline. Rejections
// and duplicates still return 200; the outcome is carried in reason.
func (h *IngestHandler) TaskFromEmail(c *fiber.Ctx) error {
	var req TaskFromEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	inbound := &domain.InboundEmail{
		MessageID:   req.MessageID,
		Sender:      req.Sender,
		Subject:     req.Subject,
		Content:     req.Content,
		GmailLink:   req.GmailLink,
		ThreadID:    req.ThreadID,
		SourceLabel: req.SourceLabel,
		Priority:    req.Priority,
		ClientHint:  req.ClientHint,
		ReceivedAt:  msToTime(req.ReceivedTS),
		StartAt:     msToTime(req.StartTS),
		DueAt:       msToTime(req.DueTS),
		DryRun:      req.DryRun,
	}

	result, err := h.ingestService.Ingest(c.Context(), inbound)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// LatestTasks returns recent email tasks ordered by
// coalesce(received_at, created_at) descending.
func (h *IngestHandler) LatestTasks(c *fiber.Ctx) error {
	page := response.GetPagination(c, 20, 200)

	filter := &domain.EmailTaskFilter{
		Sender:      c.Query("sender"),
		SourceLabel: c.Query("source_label"),
		Limit:       page.Limit,
		Offset:      page.Offset,
	}

	tasks, total, err := h.tasks.ListLatest(c.Context(), filter)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"tasks":  tasks,
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}
