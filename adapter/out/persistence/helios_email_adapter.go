package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"helios_server/core/domain"
	"helios_server/core/port/out"
	"helios_server/pkg/apperr"
)

// EmailAdapter implements out.EmailTaskRepository using PostgreSQL.
type EmailAdapter struct {
	db *sqlx.DB
}

// NewEmailAdapter creates a new EmailAdapter.
func NewEmailAdapter(db *sqlx.DB) *EmailAdapter {
	return &EmailAdapter{db: db}
}

// emailTaskRow represents the database row for email tasks.
type emailTaskRow struct {
	ID          string         `db:"id"`
	ClientID    uuid.NullUUID  `db:"client_id"`
	Sender      string         `db:"sender"`
	Subject     string         `db:"subject"`
	Snippet     sql.NullString `db:"snippet"`
	Body        sql.NullString `db:"body"`
	GmailLink   sql.NullString `db:"gmail_link"`
	ThreadID    sql.NullString `db:"thread_id"`
	SourceLabel sql.NullString `db:"source_label"`
	Priority    string         `db:"priority"`
	ClientHint  sql.NullString `db:"client_hint"`
	ReceivedAt  sql.NullTime   `db:"received_at"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r *emailTaskRow) toDomain() *domain.EmailTask {
	task := &domain.EmailTask{
		ID:        r.ID,
		Sender:    r.Sender,
		Subject:   r.Subject,
		Priority:  r.Priority,
		CreatedAt: r.CreatedAt,
	}
	if r.ClientID.Valid {
		id := r.ClientID.UUID
		task.ClientID = &id
	}
	if r.Snippet.Valid {
		task.Snippet = r.Snippet.String
	}
	if r.Body.Valid {
		task.Body = r.Body.String
	}
	if r.GmailLink.Valid {
		task.GmailLink = r.GmailLink.String
	}
	if r.ThreadID.Valid {
		task.ThreadID = r.ThreadID.String
	}
	if r.SourceLabel.Valid {
		task.SourceLabel = r.SourceLabel.String
	}
	if r.ClientHint.Valid {
		task.ClientHint = r.ClientHint.String
	}
	if r.ReceivedAt.Valid {
		t := r.ReceivedAt.Time
		task.ReceivedAt = &t
	}
	return task
}

// taskMetaRow represents the database row for task meta.
type taskMetaRow struct {
	TaskID            string         `db:"task_id"`
	TaskType          string         `db:"task_type"`
	DeadlineType      sql.NullString `db:"deadline_type"`
	FixedDate         sql.NullTime   `db:"fixed_date"`
	CalendarBlocked   bool           `db:"calendar_blocked"`
	RecurrencePattern sql.NullString `db:"recurrence_pattern"`
	ClientCode        sql.NullString `db:"client_code"`
	StartAt           sql.NullTime   `db:"start_at"`
	DueAt             sql.NullTime   `db:"due_at"`
	Source            sql.NullString `db:"source"`
}

func (r *taskMetaRow) toDomain() *domain.TaskMeta {
	meta := &domain.TaskMeta{
		TaskID:          r.TaskID,
		TaskType:        r.TaskType,
		CalendarBlocked: r.CalendarBlocked,
	}
	if r.DeadlineType.Valid {
		meta.DeadlineType = r.DeadlineType.String
	}
	if r.FixedDate.Valid {
		t := r.FixedDate.Time
		meta.FixedDate = &t
	}
	if r.RecurrencePattern.Valid {
		meta.RecurrencePattern = r.RecurrencePattern.String
	}
	if r.ClientCode.Valid {
		meta.ClientCode = r.ClientCode.String
	}
	if r.StartAt.Valid {
		t := r.StartAt.Time
		meta.StartAt = &t
	}
	if r.DueAt.Valid {
		t := r.DueAt.Time
		meta.DueAt = &t
	}
	if r.Source.Valid {
		meta.Source = r.Source.String
	}
	return meta
}

// processedRow represents the database row for the idempotency ledger.
type processedRow struct {
	MessageID    string         `db:"message_id"`
	HeliosTaskID sql.NullString `db:"helios_task_id"`
	Status       string         `db:"status"`
	ReceivedAt   sql.NullTime   `db:"received_at"`
	ProcessedAt  time.Time      `db:"processed_at"`
}

func (r *processedRow) toDomain() *domain.ProcessedEmail {
	p := &domain.ProcessedEmail{
		MessageID:   r.MessageID,
		Status:      r.Status,
		ProcessedAt: r.ProcessedAt,
	}
	if r.HeliosTaskID.Valid {
		id := r.HeliosTaskID.String
		p.HeliosTaskID = &id
	}
	if r.ReceivedAt.Valid {
		t := r.ReceivedAt.Time
		p.ReceivedAt = &t
	}
	return p
}

// GetProcessed returns the ledger row for a message id, nil when absent.
func (a *EmailAdapter) GetProcessed(ctx context.Context, messageID string) (*domain.ProcessedEmail, error) {
	var row processedRow
	err := a.db.QueryRowxContext(ctx,
		`SELECT * FROM processed_emails WHERE message_id = $1`, messageID).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.DatabaseError("get processed email", err)
	}
	return row.toDomain(), nil
}

// RecordProcessed writes a ledger row. A duplicate message id surfaces as
// conflict.
func (a *EmailAdapter) RecordProcessed(ctx context.Context, p *domain.ProcessedEmail) error {
	return recordProcessed(ctx, a.db, p)
}

func recordProcessed(ctx context.Context, q sqlx.ExtContext, p *domain.ProcessedEmail) error {
	query := `
		INSERT INTO processed_emails (message_id, helios_task_id, status, received_at, processed_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	var taskID interface{}
	if p.HeliosTaskID != nil {
		taskID = *p.HeliosTaskID
	}
	var receivedAt interface{}
	if p.ReceivedAt != nil {
		receivedAt = *p.ReceivedAt
	}

	_, err := q.ExecContext(ctx, query, p.MessageID, taskID, p.Status, receivedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("message already processed: " + p.MessageID)
		}
		return apperr.DatabaseError("record processed email", err)
	}
	return nil
}

// CreateTask inserts the task, optional meta and ledger row in one
// transaction, seeding the thread mapping when the task belongs to a
// thread. A duplicate ledger or task id rolls everything back as conflict.
func (a *EmailAdapter) CreateTask(ctx context.Context, task *domain.EmailTask, meta *domain.TaskMeta, ledger *domain.ProcessedEmail) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.DatabaseError("begin", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO email_tasks (
			id, client_id, sender, subject, snippet, body, gmail_link,
			thread_id, source_label, priority, client_hint, received_at
		) VALUES (
			$1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''),
			NULLIF($8, ''), NULLIF($9, ''), $10, NULLIF($11, ''), $12
		)
		RETURNING created_at
	`
	var clientID uuid.NullUUID
	if task.ClientID != nil {
		clientID = uuid.NullUUID{UUID: *task.ClientID, Valid: true}
	}
	var receivedAt interface{}
	if task.ReceivedAt != nil {
		receivedAt = *task.ReceivedAt
	}

	err = tx.QueryRowxContext(ctx, query,
		task.ID, clientID, task.Sender, task.Subject, task.Snippet, task.Body,
		task.GmailLink, task.ThreadID, task.SourceLabel, task.Priority,
		task.ClientHint, receivedAt,
	).Scan(&task.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("task already exists: " + task.ID)
		}
		return apperr.DatabaseError("create task", err)
	}

	if meta != nil {
		if err := upsertTaskMeta(ctx, tx, meta); err != nil {
			return err
		}
	}
	if ledger != nil {
		if err := recordProcessed(ctx, tx, ledger); err != nil {
			return err
		}
	}
	if task.ThreadID != "" {
		lastEmailAt := task.CreatedAt
		if task.ReceivedAt != nil {
			lastEmailAt = *task.ReceivedAt
		}
		if err := upsertThreadTask(ctx, tx, task.ThreadID, task.ID, lastEmailAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.DatabaseError("commit", err)
	}
	return nil
}

// GetTask returns a task by id, nil when absent.
func (a *EmailAdapter) GetTask(ctx context.Context, id string) (*domain.EmailTask, error) {
	var row emailTaskRow
	err := a.db.QueryRowxContext(ctx,
		`SELECT * FROM email_tasks WHERE id = $1`, id).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.DatabaseError("get task", err)
	}
	return row.toDomain(), nil
}

// ListLatest returns tasks newest first, ordered by received time falling
// back to creation time.
func (a *EmailAdapter) ListLatest(ctx context.Context, filter *domain.EmailTaskFilter) ([]*domain.EmailTask, int, error) {
	if filter == nil {
		filter = &domain.EmailTaskFilter{}
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 20
	}

	baseQuery := `FROM email_tasks WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Sender != "" {
		baseQuery += fmt.Sprintf(` AND sender = $%d`, argIdx)
		args = append(args, filter.Sender)
		argIdx++
	}
	if filter.SourceLabel != "" {
		baseQuery += fmt.Sprintf(` AND source_label = $%d`, argIdx)
		args = append(args, filter.SourceLabel)
		argIdx++
	}

	var total int
	countQuery := `SELECT COUNT(*) ` + baseQuery
	if err := a.db.QueryRowxContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperr.DatabaseError("count tasks", err)
	}

	selectQuery := fmt.Sprintf(
		`SELECT * %s ORDER BY COALESCE(received_at, created_at) DESC LIMIT $%d OFFSET $%d`,
		baseQuery, argIdx, argIdx+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := a.db.QueryxContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, apperr.DatabaseError("list tasks", err)
	}
	defer rows.Close()

	var tasks []*domain.EmailTask
	for rows.Next() {
		var row emailTaskRow
		if err := rows.StructScan(&row); err != nil {
			return nil, 0, apperr.DatabaseError("scan task", err)
		}
		tasks = append(tasks, row.toDomain())
	}
	return tasks, total, nil
}

// GetTaskMeta returns the scheduling meta for a task, nil when absent.
func (a *EmailAdapter) GetTaskMeta(ctx context.Context, taskID string) (*domain.TaskMeta, error) {
	var row taskMetaRow
	err := a.db.QueryRowxContext(ctx,
		`SELECT * FROM task_meta WHERE task_id = $1`, taskID).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.DatabaseError("get task meta", err)
	}
	return row.toDomain(), nil
}

// UpsertTaskMeta writes or replaces the scheduling meta for a task.
func (a *EmailAdapter) UpsertTaskMeta(ctx context.Context, meta *domain.TaskMeta) error {
	return upsertTaskMeta(ctx, a.db, meta)
}

func upsertTaskMeta(ctx context.Context, q sqlx.ExtContext, meta *domain.TaskMeta) error {
	query := `
		INSERT INTO task_meta (
			task_id, task_type, deadline_type, fixed_date, calendar_blocked,
			recurrence_pattern, client_code, start_at, due_at, source
		) VALUES (
			$1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, NULLIF($10, '')
		)
		ON CONFLICT (task_id) DO UPDATE SET
			task_type = EXCLUDED.task_type,
			deadline_type = EXCLUDED.deadline_type,
			fixed_date = EXCLUDED.fixed_date,
			calendar_blocked = EXCLUDED.calendar_blocked,
			recurrence_pattern = EXCLUDED.recurrence_pattern,
			client_code = EXCLUDED.client_code,
			start_at = EXCLUDED.start_at,
			due_at = EXCLUDED.due_at,
			source = EXCLUDED.source
	`
	var fixedDate, startAt, dueAt interface{}
	if meta.FixedDate != nil {
		fixedDate = *meta.FixedDate
	}
	if meta.StartAt != nil {
		startAt = *meta.StartAt
	}
	if meta.DueAt != nil {
		dueAt = *meta.DueAt
	}

	_, err := q.ExecContext(ctx, query,
		meta.TaskID, meta.TaskType, meta.DeadlineType, fixedDate,
		meta.CalendarBlocked, meta.RecurrencePattern, meta.ClientCode,
		startAt, dueAt, meta.Source)
	if err != nil {
		return apperr.DatabaseError("upsert task meta", err)
	}
	return nil
}

// GetThreadTask returns the thread-to-task mapping, nil when absent.
func (a *EmailAdapter) GetThreadTask(ctx context.Context, threadID string) (*domain.ThreadTask, error) {
	var row struct {
		ThreadID    string    `db:"thread_id"`
		TaskID      string    `db:"task_id"`
		LastEmailAt time.Time `db:"last_email_at"`
	}
	err := a.db.QueryRowxContext(ctx,
		`SELECT * FROM thread_tasks WHERE thread_id = $1`, threadID).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.DatabaseError("get thread task", err)
	}
	return &domain.ThreadTask{
		ThreadID:    row.ThreadID,
		TaskID:      row.TaskID,
		LastEmailAt: row.LastEmailAt,
	}, nil
}

// AnnotateThreadTask appends a follow-up note to the thread's task, advances
// the thread mapping and writes the ledger row, all in one transaction.
func (a *EmailAdapter) AnnotateThreadTask(ctx context.Context, threadID, taskID, note string, lastEmailAt time.Time, ledger *domain.ProcessedEmail) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.DatabaseError("begin", err)
	}
	defer tx.Rollback()

	if note != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE email_tasks
			SET body = CASE WHEN COALESCE(body, '') = '' THEN $2 ELSE body || E'\n\n' || $2 END
			WHERE id = $1
		`, taskID, note)
		if err != nil {
			return apperr.DatabaseError("annotate task", err)
		}
	}

	if err := upsertThreadTask(ctx, tx, threadID, taskID, lastEmailAt); err != nil {
		return err
	}

	if ledger != nil {
		if err := recordProcessed(ctx, tx, ledger); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.DatabaseError("commit", err)
	}
	return nil
}

func upsertThreadTask(ctx context.Context, q sqlx.ExtContext, threadID, taskID string, lastEmailAt time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO thread_tasks (thread_id, task_id, last_email_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (thread_id) DO UPDATE SET
			task_id = EXCLUDED.task_id,
			last_email_at = GREATEST(thread_tasks.last_email_at, EXCLUDED.last_email_at)
	`, threadID, taskID, lastEmailAt)
	if err != nil {
		return apperr.DatabaseError("upsert thread task", err)
	}
	return nil
}

// Ensure EmailAdapter implements out.EmailTaskRepository
var _ out.EmailTaskRepository = (*EmailAdapter)(nil)
