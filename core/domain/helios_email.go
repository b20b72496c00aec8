package domain

import (
	"time"

	"github.com/google/uuid"
)

// Task priorities
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// ProcessedEmail statuses
const (
	ProcessedCreated   = "created"
	ProcessedDuplicate = "duplicate"
	ProcessedRejected  = "rejected_allowlist"
	ProcessedDryRun    = "dry_run"
)

// Task types carried by TaskMeta
const (
	TaskTypeFixedDate = "fixed_date"
	TaskTypeFlexible  = "flexible"
)

// EmailTask is a task materialized from an ingested email. ID is the stable
// message identifier from the mail source.
type EmailTask struct {
	ID          string     `json:"id"`
	ClientID    *uuid.UUID `json:"client_id,omitempty"`
	Sender      string     `json:"sender"`
	Subject     string     `json:"subject"`
	Snippet     string     `json:"snippet,omitempty"`
	Body        string     `json:"body,omitempty"`
	GmailLink   string     `json:"gmail_link,omitempty"`
	ThreadID    string     `json:"thread_id,omitempty"`
	SourceLabel string     `json:"source_label,omitempty"`
	Priority    string     `json:"priority"`
	ClientHint  string     `json:"client_hint,omitempty"`
	ReceivedAt  *time.Time `json:"received_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TaskMeta holds scheduling annotations keyed by task id.
type TaskMeta struct {
	TaskID            string     `json:"task_id"`
	TaskType          string     `json:"task_type"`
	DeadlineType      string     `json:"deadline_type,omitempty"`
	FixedDate         *time.Time `json:"fixed_date,omitempty"`
	CalendarBlocked   bool       `json:"calendar_blocked"`
	RecurrencePattern string     `json:"recurrence_pattern,omitempty"`
	ClientCode        string     `json:"client_code,omitempty"`
	StartAt           *time.Time `json:"start_at,omitempty"`
	DueAt             *time.Time `json:"due_at,omitempty"`
	Source            string     `json:"source,omitempty"`
}

// ProcessedEmail is the idempotency ledger, unique on MessageID.
type ProcessedEmail struct {
	MessageID    string     `json:"message_id"`
	HeliosTaskID *string    `json:"helios_task_id,omitempty"`
	Status       string     `json:"status"`
	ReceivedAt   *time.Time `json:"received_at,omitempty"`
	ProcessedAt  time.Time  `json:"processed_at"`
}

// ThreadTask maps a mail thread to the task that tracks it, used by
// per_thread ingestion mode.
type ThreadTask struct {
	ThreadID    string    `json:"thread_id"`
	TaskID      string    `json:"task_id"`
	LastEmailAt time.Time `json:"last_email_at"`
}

// EmailTaskFilter narrows task listings.
type EmailTaskFilter struct {
	Sender      string
	SourceLabel string
	Limit       int
	Offset      int
}

// InboundEmail is a message pulled from the mail source or posted to the
// ingestion endpoint, normalized to what the pipeline needs.
type InboundEmail struct {
	MessageID   string     `json:"message_id"`
	Sender      string     `json:"sender"`
	Subject     string     `json:"subject"`
	Content     string     `json:"content,omitempty"`
	GmailLink   string     `json:"gmail_link,omitempty"`
	ThreadID    string     `json:"thread_id,omitempty"`
	SourceLabel string     `json:"source_label,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	ClientHint  string     `json:"client_hint,omitempty"`
	ReceivedAt  *time.Time `json:"received_at,omitempty"`
	StartAt     *time.Time `json:"start_at,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	DryRun      bool       `json:"dry_run,omitempty"`
}

// IngestResult is the per-message outcome of the pipeline.
type IngestResult struct {
	HeliosTaskID *string `json:"helios_task_id,omitempty"`
	Processed    bool    `json:"processed"`
	Reason       string  `json:"reason"`
}

// SweepReport aggregates a label sweep.
type SweepReport struct {
	Labels    []string  `json:"labels"`
	Scanned   int       `json:"scanned"`
	Created   int       `json:"created"`
	Duplicate int       `json:"duplicate"`
	Rejected  int       `json:"rejected"`
	Failed    int       `json:"failed"`
	StartedAt time.Time `json:"started_at"`
	Elapsed   string    `json:"elapsed"`
}
