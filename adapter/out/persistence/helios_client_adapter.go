package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"helios_server/core/domain"
	"helios_server/core/port/out"
	"helios_server/pkg/apperr"
)

// ClientAdapter implements out.ClientRepository using PostgreSQL.
type ClientAdapter struct {
	db *sqlx.DB
}

// NewClientAdapter creates a new ClientAdapter.
func NewClientAdapter(db *sqlx.DB) *ClientAdapter {
	return &ClientAdapter{db: db}
}

// clientRow represents the database row for clients.
type clientRow struct {
	ID        uuid.UUID      `db:"id"`
	Name      string         `db:"name"`
	Phone     sql.NullString `db:"phone"`
	Notes     sql.NullString `db:"notes"`
	Tags      pq.StringArray `db:"tags"`
	Active    bool           `db:"active"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r *clientRow) toDomain() *domain.Client {
	client := &domain.Client{
		ID:        r.ID,
		Name:      r.Name,
		Tags:      r.Tags,
		Active:    r.Active,
		Emails:    []string{},
		Domains:   []domain.ClientDomain{},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Phone.Valid {
		client.Phone = r.Phone.String
	}
	if r.Notes.Valid {
		client.Notes = r.Notes.String
	}
	return client
}

// bumpAllowlistVersion increments the singleton allowlist version. Callers
// run it inside the same transaction as the mutation it accounts for.
func bumpAllowlistVersion(ctx context.Context, tx *sqlx.Tx) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE allowlist_meta SET version = version + 1, updated_at = NOW() WHERE id = 1`)
	return err
}

// Create inserts a client with its initial emails and domains.
func (a *ClientAdapter) Create(ctx context.Context, client *domain.Client) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.DatabaseError("begin", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO clients (id, name, phone, notes, tags, active)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRowxContext(ctx, query,
		client.ID, client.Name, client.Phone, client.Notes,
		pq.Array(client.Tags), client.Active,
	).Scan(&client.CreatedAt, &client.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.AlreadyExists("client name")
		}
		return apperr.DatabaseError("create client", err)
	}

	if err := insertEmails(ctx, tx, client.ID, client.Emails); err != nil {
		return err
	}
	if err := insertDomains(ctx, tx, client.ID, client.Domains); err != nil {
		return err
	}
	if len(client.Emails) > 0 || len(client.Domains) > 0 {
		if err := bumpAllowlistVersion(ctx, tx); err != nil {
			return apperr.DatabaseError("bump allowlist version", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.DatabaseError("commit", err)
	}
	return nil
}

// Update writes the client's profile fields. Email and domain sets are
// replaced through SetEmails and SetDomains.
func (a *ClientAdapter) Update(ctx context.Context, client *domain.Client) error {
	query := `
		UPDATE clients SET
			name = $1, phone = NULLIF($2, ''), notes = NULLIF($3, ''),
			tags = $4, updated_at = NOW()
		WHERE id = $5
	`
	result, err := a.db.ExecContext(ctx, query,
		client.Name, client.Phone, client.Notes, pq.Array(client.Tags), client.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.AlreadyExists("client name")
		}
		return apperr.DatabaseError("update client", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperr.NotFound("client")
	}
	return nil
}

// SoftDelete clears the active flag. The client's allowlist entries stop
// matching, so the version is bumped in the same transaction.
func (a *ClientAdapter) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.DatabaseError("begin", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE clients SET active = false, updated_at = NOW() WHERE id = $1 AND active`, id)
	if err != nil {
		return apperr.DatabaseError("soft delete client", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperr.NotFound("client")
	}

	if err := bumpAllowlistVersion(ctx, tx); err != nil {
		return apperr.DatabaseError("bump allowlist version", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.DatabaseError("commit", err)
	}
	return nil
}

// GetByID returns a client with its emails and domains, nil when absent.
func (a *ClientAdapter) GetByID(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	var row clientRow
	err := a.db.QueryRowxContext(ctx, `SELECT * FROM clients WHERE id = $1`, id).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.DatabaseError("get client", err)
	}

	client := row.toDomain()
	if err := a.fillEntries(ctx, []*domain.Client{client}); err != nil {
		return nil, err
	}
	return client, nil
}

// List returns clients matching the filter, active only unless asked.
func (a *ClientAdapter) List(ctx context.Context, filter *domain.ClientFilter) ([]*domain.Client, int, error) {
	if filter == nil {
		filter = &domain.ClientFilter{}
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}

	baseQuery := `FROM clients WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if !filter.IncludeInactive {
		baseQuery += ` AND active`
	}
	if filter.Search != "" {
		baseQuery += fmt.Sprintf(` AND name ILIKE $%d`, argIdx)
		args = append(args, "%"+filter.Search+"%")
		argIdx++
	}
	if filter.Tag != "" {
		baseQuery += fmt.Sprintf(` AND $%d = ANY(tags)`, argIdx)
		args = append(args, filter.Tag)
		argIdx++
	}

	var total int
	countQuery := `SELECT COUNT(*) ` + baseQuery
	if err := a.db.QueryRowxContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperr.DatabaseError("count clients", err)
	}

	selectQuery := fmt.Sprintf(`SELECT * %s ORDER BY name ASC LIMIT $%d OFFSET $%d`,
		baseQuery, argIdx, argIdx+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := a.db.QueryxContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, apperr.DatabaseError("list clients", err)
	}
	defer rows.Close()

	var clients []*domain.Client
	for rows.Next() {
		var row clientRow
		if err := rows.StructScan(&row); err != nil {
			return nil, 0, apperr.DatabaseError("scan client", err)
		}
		clients = append(clients, row.toDomain())
	}
	if err := a.fillEntries(ctx, clients); err != nil {
		return nil, 0, err
	}

	return clients, total, nil
}

// fillEntries batch-loads emails and domains for the given clients.
func (a *ClientAdapter) fillEntries(ctx context.Context, clients []*domain.Client) error {
	if len(clients) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*domain.Client, len(clients))
	ids := make([]uuid.UUID, 0, len(clients))
	for _, c := range clients {
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}

	emailRows, err := a.db.QueryxContext(ctx,
		`SELECT client_id, email FROM client_emails WHERE client_id = ANY($1) ORDER BY email`,
		pq.Array(ids))
	if err != nil {
		return apperr.DatabaseError("load client emails", err)
	}
	defer emailRows.Close()
	for emailRows.Next() {
		var clientID uuid.UUID
		var email string
		if err := emailRows.Scan(&clientID, &email); err != nil {
			return apperr.DatabaseError("scan client email", err)
		}
		if c := byID[clientID]; c != nil {
			c.Emails = append(c.Emails, email)
		}
	}

	domainRows, err := a.db.QueryxContext(ctx,
		`SELECT client_id, domain, wildcard FROM client_domains WHERE client_id = ANY($1) ORDER BY domain`,
		pq.Array(ids))
	if err != nil {
		return apperr.DatabaseError("load client domains", err)
	}
	defer domainRows.Close()
	for domainRows.Next() {
		var clientID uuid.UUID
		var d domain.ClientDomain
		if err := domainRows.Scan(&clientID, &d.Domain, &d.Wildcard); err != nil {
			return apperr.DatabaseError("scan client domain", err)
		}
		if c := byID[clientID]; c != nil {
			c.Domains = append(c.Domains, d)
		}
	}
	return nil
}

func insertEmails(ctx context.Context, tx *sqlx.Tx, clientID uuid.UUID, emails []string) error {
	for _, email := range emails {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO client_emails (client_id, email) VALUES ($1, $2)`, clientID, email)
		if err != nil {
			if isUniqueViolation(err) {
				return apperr.Conflict("email already allowlisted: " + email)
			}
			return apperr.DatabaseError("insert client email", err)
		}
	}
	return nil
}

func insertDomains(ctx context.Context, tx *sqlx.Tx, clientID uuid.UUID, domains []domain.ClientDomain) error {
	for _, d := range domains {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO client_domains (client_id, domain, wildcard) VALUES ($1, $2, $3)`,
			clientID, d.Domain, d.Wildcard)
		if err != nil {
			if isUniqueViolation(err) {
				return apperr.Conflict("domain already allowlisted: " + d.Domain)
			}
			return apperr.DatabaseError("insert client domain", err)
		}
	}
	return nil
}

// SetEmails replaces the client's email set and bumps the allowlist version.
func (a *ClientAdapter) SetEmails(ctx context.Context, clientID uuid.UUID, emails []string) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.DatabaseError("begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM client_emails WHERE client_id = $1`, clientID); err != nil {
		return apperr.DatabaseError("clear client emails", err)
	}
	if err := insertEmails(ctx, tx, clientID, emails); err != nil {
		return err
	}
	if err := bumpAllowlistVersion(ctx, tx); err != nil {
		return apperr.DatabaseError("bump allowlist version", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.DatabaseError("commit", err)
	}
	return nil
}

// SetDomains replaces the client's domain set and bumps the allowlist version.
func (a *ClientAdapter) SetDomains(ctx context.Context, clientID uuid.UUID, domains []domain.ClientDomain) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.DatabaseError("begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM client_domains WHERE client_id = $1`, clientID); err != nil {
		return apperr.DatabaseError("clear client domains", err)
	}
	if err := insertDomains(ctx, tx, clientID, domains); err != nil {
		return err
	}
	if err := bumpAllowlistVersion(ctx, tx); err != nil {
		return apperr.DatabaseError("bump allowlist version", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.DatabaseError("commit", err)
	}
	return nil
}

// AddEmail inserts a single email and bumps the allowlist version.
func (a *ClientAdapter) AddEmail(ctx context.Context, clientID uuid.UUID, email string) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.DatabaseError("begin", err)
	}
	defer tx.Rollback()

	if err := insertEmails(ctx, tx, clientID, []string{email}); err != nil {
		return err
	}
	if err := bumpAllowlistVersion(ctx, tx); err != nil {
		return apperr.DatabaseError("bump allowlist version", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.DatabaseError("commit", err)
	}
	return nil
}

// AddDomain inserts a single domain and bumps the allowlist version.
func (a *ClientAdapter) AddDomain(ctx context.Context, clientID uuid.UUID, d domain.ClientDomain) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.DatabaseError("begin", err)
	}
	defer tx.Rollback()

	if err := insertDomains(ctx, tx, clientID, []domain.ClientDomain{d}); err != nil {
		return err
	}
	if err := bumpAllowlistVersion(ctx, tx); err != nil {
		return apperr.DatabaseError("bump allowlist version", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.DatabaseError("commit", err)
	}
	return nil
}

// FindByEmail returns the active client owning an exact email, nil when none.
func (a *ClientAdapter) FindByEmail(ctx context.Context, email string) (*domain.Client, error) {
	query := `
		SELECT c.* FROM clients c
		JOIN client_emails e ON e.client_id = c.id
		WHERE e.email = $1 AND c.active
		ORDER BY c.created_at ASC
		LIMIT 1
	`
	return a.findOne(ctx, query, email)
}

// FindByExactDomain returns the active client owning the domain, nil when none.
func (a *ClientAdapter) FindByExactDomain(ctx context.Context, dom string) (*domain.Client, error) {
	query := `
		SELECT c.* FROM clients c
		JOIN client_domains d ON d.client_id = c.id
		WHERE d.domain = $1 AND c.active
		ORDER BY c.created_at ASC
		LIMIT 1
	`
	return a.findOne(ctx, query, dom)
}

// FindByWildcardDomain returns the active client whose wildcard domain covers
// the sender's domain as a subdomain. The longest suffix wins.
func (a *ClientAdapter) FindByWildcardDomain(ctx context.Context, dom string) (*domain.Client, error) {
	query := `
		SELECT c.* FROM clients c
		JOIN client_domains d ON d.client_id = c.id
		WHERE d.wildcard AND $1 LIKE '%.' || d.domain AND c.active
		ORDER BY LENGTH(d.domain) DESC, c.created_at ASC
		LIMIT 1
	`
	return a.findOne(ctx, query, dom)
}

func (a *ClientAdapter) findOne(ctx context.Context, query string, arg interface{}) (*domain.Client, error) {
	var row clientRow
	err := a.db.QueryRowxContext(ctx, query, arg).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.DatabaseError("find client", err)
	}
	client := row.toDomain()
	if err := a.fillEntries(ctx, []*domain.Client{client}); err != nil {
		return nil, err
	}
	return client, nil
}

// Ensure ClientAdapter implements out.ClientRepository
var _ out.ClientRepository = (*ClientAdapter)(nil)
