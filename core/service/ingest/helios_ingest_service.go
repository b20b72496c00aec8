// Package ingest turns qualifying inbound email into tasks, at most once per
// message identifier.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"helios_server/core/domain"
	"helios_server/core/port/out"
	"helios_server/core/service/allowlist"
	"helios_server/core/service/contact"
	"helios_server/core/service/triage"
	"helios_server/pkg/apperr"
	"helios_server/pkg/logger"
)

// Thread modes
const (
	ThreadModePerEmail  = "per_email"
	ThreadModePerThread = "per_thread"
)

const maxFieldLen = 500

// Service orchestrates dedupe, allowlist check and task creation.
type Service struct {
	allow    *allowlist.Service
	contacts *contact.Service
	triage   *triage.Service
	tasks    out.EmailTaskRepository

	threadMode string
	log        *logger.Logger
}

// NewService creates an ingestion service.
func NewService(
	allow *allowlist.Service,
	contacts *contact.Service,
	tri *triage.Service,
	tasks out.EmailTaskRepository,
	threadMode string,
) *Service {
	if threadMode != ThreadModePerThread {
		threadMode = ThreadModePerEmail
	}
	return &Service{
		allow:      allow,
		contacts:   contacts,
		triage:     tri,
		tasks:      tasks,
		threadMode: threadMode,
		log:        logger.WithField("component", "ingest"),
	}
}

// Validate checks the ingestion payload invariants.
func Validate(email *domain.InboundEmail) error {
	if len(strings.TrimSpace(email.MessageID)) < 5 {
		return apperr.InvalidInput("message_id", "must be at least 5 characters")
	}
	if !strings.Contains(email.Sender, "@") {
		return apperr.InvalidInput("sender", "must contain '@'")
	}
	switch email.Priority {
	case "", domain.PriorityLow, domain.PriorityNormal, domain.PriorityHigh:
	default:
		return apperr.InvalidInput("priority", "must be low, normal or high")
	}
	return nil
}

// Ingest processes one message. Rejections are not errors: the outcome is
// always carried in the result's reason.
func (s *Service) Ingest(ctx context.Context, email *domain.InboundEmail) (*domain.IngestResult, error) {
	if err := Validate(email); err != nil {
		return nil, err
	}

	// Dedupe against the ledger before any other work.
	if prior, err := s.tasks.GetProcessed(ctx, email.MessageID); err != nil {
		return nil, err
	} else if prior != nil {
		return &domain.IngestResult{
			HeliosTaskID: prior.HeliosTaskID,
			Processed:    false,
			Reason:       domain.ProcessedDuplicate,
		}, nil
	}

	allowed, err := s.allow.Allowed(ctx, email.Sender)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return s.reject(ctx, email)
	}

	if email.DryRun {
		return &domain.IngestResult{Processed: false, Reason: domain.ProcessedDryRun}, nil
	}

	if s.threadMode == ThreadModePerThread && email.ThreadID != "" {
		if res, handled, err := s.annotateThread(ctx, email); err != nil {
			return nil, err
		} else if handled {
			return res, nil
		}
	}

	return s.create(ctx, email)
}

// reject records the unknown sender and a rejected ledger row. A ledger race
// on the unique message id collapses to duplicate.
func (s *Service) reject(ctx context.Context, email *domain.InboundEmail) (*domain.IngestResult, error) {
	if _, err := s.triage.Record(ctx, email.Sender, email.MessageID, email.Subject); err != nil {
		return nil, err
	}

	err := s.tasks.RecordProcessed(ctx, &domain.ProcessedEmail{
		MessageID:   email.MessageID,
		Status:      domain.ProcessedRejected,
		ReceivedAt:  email.ReceivedAt,
		ProcessedAt: time.Now().UTC(),
	})
	if err != nil {
		if apperr.IsConflict(err) {
			return &domain.IngestResult{Processed: false, Reason: domain.ProcessedDuplicate}, nil
		}
		return nil, err
	}

	s.log.WithField("message_id", email.MessageID).
		WithField("sender", allowlist.NormalizeEmail(email.Sender)).
		Info("sender rejected by allowlist")
	return &domain.IngestResult{Processed: false, Reason: domain.ProcessedRejected}, nil
}

// annotateThread reopens the task already tracking this thread instead of
// creating a new one. The ledger still records this message id.
func (s *Service) annotateThread(ctx context.Context, email *domain.InboundEmail) (*domain.IngestResult, bool, error) {
	existing, err := s.tasks.GetThreadTask(ctx, email.ThreadID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, nil
	}

	note := threadNote(email)
	receivedAt := time.Now().UTC()
	if email.ReceivedAt != nil {
		receivedAt = *email.ReceivedAt
	}

	ledger := &domain.ProcessedEmail{
		MessageID:    email.MessageID,
		HeliosTaskID: &existing.TaskID,
		Status:       domain.ProcessedCreated,
		ReceivedAt:   email.ReceivedAt,
		ProcessedAt:  time.Now().UTC(),
	}
	if err := s.tasks.AnnotateThreadTask(ctx, email.ThreadID, existing.TaskID, note, receivedAt, ledger); err != nil {
		if apperr.IsConflict(err) {
			return &domain.IngestResult{
				HeliosTaskID: &existing.TaskID,
				Processed:    false,
				Reason:       domain.ProcessedDuplicate,
			}, true, nil
		}
		return nil, false, err
	}

	return &domain.IngestResult{
		HeliosTaskID: &existing.TaskID,
		Processed:    true,
		Reason:       domain.ProcessedCreated,
	}, true, nil
}

func threadNote(email *domain.InboundEmail) string {
	note := fmt.Sprintf("New email: %s\n%s", email.Subject, truncate(email.Content, 280))
	if email.GmailLink != "" {
		note += "\n" + email.GmailLink
	}
	return note
}

// create inserts the task, optional meta and ledger row in one transaction.
func (s *Service) create(ctx context.Context, email *domain.InboundEmail) (*domain.IngestResult, error) {
	task := &domain.EmailTask{
		ID:          email.MessageID,
		Sender:      allowlist.NormalizeEmail(email.Sender),
		Subject:     truncate(email.Subject, maxFieldLen),
		Snippet:     truncate(email.Content, maxFieldLen),
		Body:        email.Content,
		GmailLink:   email.GmailLink,
		ThreadID:    email.ThreadID,
		SourceLabel: email.SourceLabel,
		Priority:    email.Priority,
		ClientHint:  email.ClientHint,
		ReceivedAt:  email.ReceivedAt,
		CreatedAt:   time.Now().UTC(),
	}
	if task.Priority == "" {
		task.Priority = domain.PriorityNormal
	}

	if client, err := s.contacts.ResolveClient(ctx, email.Sender); err != nil {
		return nil, err
	} else if client != nil {
		task.ClientID = &client.ID
	}

	var meta *domain.TaskMeta
	if email.StartAt != nil || email.DueAt != nil {
		meta = &domain.TaskMeta{
			TaskID:   task.ID,
			TaskType: domain.TaskTypeFlexible,
			StartAt:  email.StartAt,
			DueAt:    email.DueAt,
			Source:   "email",
		}
		if email.StartAt != nil {
			meta.TaskType = domain.TaskTypeFixedDate
			meta.FixedDate = email.StartAt
		}
	}

	ledger := &domain.ProcessedEmail{
		MessageID:    task.ID,
		HeliosTaskID: &task.ID,
		Status:       domain.ProcessedCreated,
		ReceivedAt:   email.ReceivedAt,
		ProcessedAt:  time.Now().UTC(),
	}

	if err := s.tasks.CreateTask(ctx, task, meta, ledger); err != nil {
		// Concurrent worker won the ledger insert.
		if apperr.IsConflict(err) {
			res := &domain.IngestResult{Processed: false, Reason: domain.ProcessedDuplicate}
			if prior, perr := s.tasks.GetProcessed(ctx, email.MessageID); perr == nil && prior != nil {
				res.HeliosTaskID = prior.HeliosTaskID
			}
			return res, nil
		}
		return nil, err
	}

	return &domain.IngestResult{
		HeliosTaskID: &task.ID,
		Processed:    true,
		Reason:       domain.ProcessedCreated,
	}, nil
}

// truncate keeps the first n runes, never splitting a multi-byte character.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
