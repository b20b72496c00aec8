package out

import (
	"context"

	"github.com/google/uuid"

	"helios_server/core/domain"
)

// UnknownSenderRepository defines the outbound port for the rejected-sender
// ledger.
type UnknownSenderRepository interface {
	// Upsert inserts a row for (email, message_id) or, when one exists,
	// increments hits and refreshes last_seen and last_subject. matchedClient
	// marks the row status=matched when non-nil.
	Upsert(ctx context.Context, s *domain.UnknownSender, matchedClient *uuid.UUID) (*domain.UnknownSender, error)

	GetByID(ctx context.Context, id uuid.UUID) (*domain.UnknownSender, error)
	List(ctx context.Context, filter *domain.UnknownSenderFilter) ([]*domain.UnknownSender, int, error)

	// Resolve applies a triage action in one transaction: approve actions
	// insert the allowlist entry and bump the allowlist version; all actions
	// flip the row to its terminal status.
	Resolve(ctx context.Context, id uuid.UUID, action string, clientID *uuid.UUID, wildcard bool) error
}
