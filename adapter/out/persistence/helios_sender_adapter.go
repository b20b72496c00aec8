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

// SenderAdapter implements out.UnknownSenderRepository using PostgreSQL.
type SenderAdapter struct {
	db *sqlx.DB
}

// NewSenderAdapter creates a new SenderAdapter.
func NewSenderAdapter(db *sqlx.DB) *SenderAdapter {
	return &SenderAdapter{db: db}
}

// senderRow represents the database row for unknown senders.
type senderRow struct {
	ID          uuid.UUID      `db:"id"`
	Email       string         `db:"email"`
	Domain      string         `db:"domain"`
	MessageID   string         `db:"message_id"`
	LastSubject sql.NullString `db:"last_subject"`
	Hits        int            `db:"hits"`
	FirstSeen   time.Time      `db:"first_seen"`
	LastSeen    time.Time      `db:"last_seen"`
	Status      string         `db:"status"`
	Resolved    bool           `db:"resolved"`
	ClientID    uuid.NullUUID  `db:"client_id"`
}

func (r *senderRow) toDomain() *domain.UnknownSender {
	s := &domain.UnknownSender{
		ID:        r.ID,
		Email:     r.Email,
		Domain:    r.Domain,
		MessageID: r.MessageID,
		Hits:      r.Hits,
		FirstSeen: r.FirstSeen,
		LastSeen:  r.LastSeen,
		Status:    r.Status,
		Resolved:  r.Resolved,
	}
	if r.LastSubject.Valid {
		s.LastSubject = r.LastSubject.String
	}
	if r.ClientID.Valid {
		id := r.ClientID.UUID
		s.ClientID = &id
	}
	return s
}

// Upsert inserts a row for (email, message_id) or bumps hits and refreshes
// last_seen and last_subject on repeat observations. Terminal statuses are
// never overwritten.
func (a *SenderAdapter) Upsert(ctx context.Context, s *domain.UnknownSender, matchedClient *uuid.UUID) (*domain.UnknownSender, error) {
	status := domain.SenderStatusPending
	var clientID uuid.NullUUID
	if matchedClient != nil {
		status = domain.SenderStatusMatched
		clientID = uuid.NullUUID{UUID: *matchedClient, Valid: true}
	}

	query := `
		INSERT INTO unknown_senders (
			id, email, domain, message_id, last_subject, hits,
			first_seen, last_seen, status, resolved, client_id
		) VALUES (
			$1, $2, $3, $4, NULLIF($5, ''), 1, NOW(), NOW(), $6, false, $7
		)
		ON CONFLICT (email, message_id) DO UPDATE SET
			hits = unknown_senders.hits + 1,
			last_seen = NOW(),
			last_subject = COALESCE(NULLIF(EXCLUDED.last_subject, ''), unknown_senders.last_subject),
			status = CASE
				WHEN unknown_senders.resolved THEN unknown_senders.status
				WHEN EXCLUDED.status = 'matched' THEN 'matched'
				ELSE unknown_senders.status
			END,
			client_id = COALESCE(EXCLUDED.client_id, unknown_senders.client_id)
		RETURNING *
	`

	var row senderRow
	err := a.db.QueryRowxContext(ctx, query,
		s.ID, s.Email, s.Domain, s.MessageID, s.LastSubject, status, clientID,
	).StructScan(&row)
	if err != nil {
		return nil, apperr.DatabaseError("upsert unknown sender", err)
	}
	return row.toDomain(), nil
}

// GetByID returns an unknown sender, nil when absent.
func (a *SenderAdapter) GetByID(ctx context.Context, id uuid.UUID) (*domain.UnknownSender, error) {
	var row senderRow
	err := a.db.QueryRowxContext(ctx,
		`SELECT * FROM unknown_senders WHERE id = $1`, id).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.DatabaseError("get unknown sender", err)
	}
	return row.toDomain(), nil
}

// List returns unknown senders matching the filter, most recent first.
func (a *SenderAdapter) List(ctx context.Context, filter *domain.UnknownSenderFilter) ([]*domain.UnknownSender, int, error) {
	if filter == nil {
		filter = &domain.UnknownSenderFilter{}
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}

	baseQuery := `FROM unknown_senders WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Resolved != nil {
		baseQuery += fmt.Sprintf(` AND resolved = $%d`, argIdx)
		args = append(args, *filter.Resolved)
		argIdx++
	}
	if filter.Status != "" {
		baseQuery += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	var total int
	countQuery := `SELECT COUNT(*) ` + baseQuery
	if err := a.db.QueryRowxContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperr.DatabaseError("count unknown senders", err)
	}

	selectQuery := fmt.Sprintf(`SELECT * %s ORDER BY last_seen DESC LIMIT $%d OFFSET $%d`,
		baseQuery, argIdx, argIdx+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := a.db.QueryxContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, apperr.DatabaseError("list unknown senders", err)
	}
	defer rows.Close()

	var senders []*domain.UnknownSender
	for rows.Next() {
		var row senderRow
		if err := rows.StructScan(&row); err != nil {
			return nil, 0, apperr.DatabaseError("scan unknown sender", err)
		}
		senders = append(senders, row.toDomain())
	}
	return senders, total, nil
}

// Resolve applies a triage decision in one transaction. Approve actions add
// the allowlist entry and bump the version; every action flips the row to its
// terminal status.
func (a *SenderAdapter) Resolve(ctx context.Context, id uuid.UUID, action string, clientID *uuid.UUID, wildcard bool) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.DatabaseError("begin", err)
	}
	defer tx.Rollback()

	var row senderRow
	err = tx.QueryRowxContext(ctx,
		`SELECT * FROM unknown_senders WHERE id = $1 FOR UPDATE`, id).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return apperr.NotFound("unknown sender")
		}
		return apperr.DatabaseError("lock unknown sender", err)
	}
	if row.Resolved {
		return apperr.Conflict("sender already resolved")
	}

	switch action {
	case domain.ResolveApproveEmail:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO client_emails (client_id, email) VALUES ($1, $2)
			ON CONFLICT (email) DO NOTHING
		`, clientID, row.Email)
		if err != nil {
			return apperr.DatabaseError("approve sender email", err)
		}
		if err := bumpAllowlistVersion(ctx, tx); err != nil {
			return apperr.DatabaseError("bump allowlist version", err)
		}
		err = a.markResolved(ctx, tx, id, domain.SenderStatusResolved, clientID)

	case domain.ResolveApproveDomain:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO client_domains (client_id, domain, wildcard) VALUES ($1, $2, $3)
			ON CONFLICT (domain, wildcard) DO NOTHING
		`, clientID, row.Domain, wildcard)
		if err != nil {
			return apperr.DatabaseError("approve sender domain", err)
		}
		if err := bumpAllowlistVersion(ctx, tx); err != nil {
			return apperr.DatabaseError("bump allowlist version", err)
		}
		err = a.markResolved(ctx, tx, id, domain.SenderStatusResolved, clientID)

	case domain.ResolveIgnore:
		err = a.markResolved(ctx, tx, id, domain.SenderStatusIgnored, nil)

	default:
		return apperr.InvalidInput("action", "must be approve_email, approve_domain or ignore")
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperr.DatabaseError("commit", err)
	}
	return nil
}

func (a *SenderAdapter) markResolved(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status string, clientID *uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE unknown_senders
		SET status = $1, resolved = true, client_id = COALESCE($2, client_id), last_seen = NOW()
		WHERE id = $3
	`, status, clientID, id)
	if err != nil {
		return apperr.DatabaseError("resolve unknown sender", err)
	}
	return nil
}

// Ensure SenderAdapter implements out.UnknownSenderRepository
var _ out.UnknownSenderRepository = (*SenderAdapter)(nil)
