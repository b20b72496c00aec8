package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"helios_server/core/domain"
	"helios_server/core/port/out"
	"helios_server/pkg/apperr"
)

// AllowlistAdapter reads the versioned allowlist state from PostgreSQL.
type AllowlistAdapter struct {
	db *sqlx.DB
}

// NewAllowlistAdapter creates a new AllowlistAdapter.
func NewAllowlistAdapter(db *sqlx.DB) *AllowlistAdapter {
	return &AllowlistAdapter{db: db}
}

// Snapshot returns the flattened allowlist of every active client together
// with its version. Repeatable read keeps the three statements on one
// consistent view, so the entries always match the version they carry.
func (a *AllowlistAdapter) Snapshot(ctx context.Context) (*domain.AllowlistSnapshot, error) {
	tx, err := a.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, apperr.DatabaseError("begin", err)
	}
	defer tx.Rollback()

	snap := &domain.AllowlistSnapshot{
		Emails:      []string{},
		Domains:     []domain.ClientDomain{},
		GeneratedAt: time.Now().UTC(),
	}

	if err := tx.QueryRowxContext(ctx,
		`SELECT version FROM allowlist_meta WHERE id = 1`).Scan(&snap.Version); err != nil {
		return nil, apperr.DatabaseError("read allowlist version", err)
	}

	emailRows, err := tx.QueryxContext(ctx, `
		SELECT e.email FROM client_emails e
		JOIN clients c ON c.id = e.client_id
		WHERE c.active
		ORDER BY e.email
	`)
	if err != nil {
		return nil, apperr.DatabaseError("read allowlist emails", err)
	}
	defer emailRows.Close()
	for emailRows.Next() {
		var email string
		if err := emailRows.Scan(&email); err != nil {
			return nil, apperr.DatabaseError("scan allowlist email", err)
		}
		snap.Emails = append(snap.Emails, email)
	}

	domainRows, err := tx.QueryxContext(ctx, `
		SELECT d.domain, d.wildcard FROM client_domains d
		JOIN clients c ON c.id = d.client_id
		WHERE c.active
		ORDER BY d.domain
	`)
	if err != nil {
		return nil, apperr.DatabaseError("read allowlist domains", err)
	}
	defer domainRows.Close()
	for domainRows.Next() {
		var d domain.ClientDomain
		if err := domainRows.Scan(&d.Domain, &d.Wildcard); err != nil {
			return nil, apperr.DatabaseError("scan allowlist domain", err)
		}
		snap.Domains = append(snap.Domains, d)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.DatabaseError("commit", err)
	}
	return snap, nil
}

// Version returns the current allowlist version without building a snapshot.
func (a *AllowlistAdapter) Version(ctx context.Context) (int64, error) {
	var version int64
	err := a.db.QueryRowxContext(ctx,
		`SELECT version FROM allowlist_meta WHERE id = 1`).Scan(&version)
	if err != nil {
		return 0, apperr.DatabaseError("read allowlist version", err)
	}
	return version, nil
}

// Ensure AllowlistAdapter implements out.AllowlistRepository
var _ out.AllowlistRepository = (*AllowlistAdapter)(nil)
