package out

import (
	"context"

	"github.com/google/uuid"

	"helios_server/core/domain"
)

// ClientRepository defines the outbound port for client persistence.
// Mutations that touch emails or domains bump the allowlist version inside
// the same transaction.
type ClientRepository interface {
	Create(ctx context.Context, client *domain.Client) error
	Update(ctx context.Context, client *domain.Client) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Client, error)
	List(ctx context.Context, filter *domain.ClientFilter) ([]*domain.Client, int, error)

	// Set-replace operations: delete the prior set, insert the new set and
	// bump the allowlist version in one transaction.
	SetEmails(ctx context.Context, clientID uuid.UUID, emails []string) error
	SetDomains(ctx context.Context, clientID uuid.UUID, domains []domain.ClientDomain) error

	// Single-entry adds used by unknown-sender resolution.
	AddEmail(ctx context.Context, clientID uuid.UUID, email string) error
	AddDomain(ctx context.Context, clientID uuid.UUID, d domain.ClientDomain) error

	// Matching lookups used by ingestion, auto-match and attendee scoring.
	// Each returns nil when no active client matches.
	FindByEmail(ctx context.Context, email string) (*domain.Client, error)
	FindByExactDomain(ctx context.Context, dom string) (*domain.Client, error)
	FindByWildcardDomain(ctx context.Context, dom string) (*domain.Client, error)
}

// AllowlistRepository reads the versioned allowlist state.
type AllowlistRepository interface {
	// Snapshot returns emails, domains and version from a single point in time.
	Snapshot(ctx context.Context) (*domain.AllowlistSnapshot, error)
	Version(ctx context.Context) (int64, error)
}

// AllowlistCache caches snapshots outside the database.
type AllowlistCache interface {
	Get(ctx context.Context) (*domain.AllowlistSnapshot, bool)
	Set(ctx context.Context, snap *domain.AllowlistSnapshot)
	Invalidate(ctx context.Context)
}
