// Package triage runs the unknown-sender review workflow.
package triage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"helios_server/core/domain"
	"helios_server/core/port/out"
	"helios_server/core/service/allowlist"
	"helios_server/pkg/apperr"
)

// Service records rejected senders and applies resolve actions.
type Service struct {
	senders out.UnknownSenderRepository
	clients out.ClientRepository
}

// NewService creates a triage service.
func NewService(senders out.UnknownSenderRepository, clients out.ClientRepository) *Service {
	return &Service{senders: senders, clients: clients}
}

// Record captures a sender the allowlist rejected. Re-observing the same
// (email, message_id) bumps hits instead of inserting. Auto-match runs in the
// same write: email, then exact domain, then wildcard domain.
func (s *Service) Record(ctx context.Context, email, messageID, subject string) (*domain.UnknownSender, error) {
	norm := allowlist.NormalizeEmail(email)
	dom := allowlist.DomainOf(norm)
	now := time.Now().UTC()

	row := &domain.UnknownSender{
		ID:          uuid.New(),
		Email:       norm,
		Domain:      dom,
		MessageID:   messageID,
		LastSubject: subject,
		Hits:        1,
		FirstSeen:   now,
		LastSeen:    now,
		Status:      domain.SenderStatusPending,
	}

	var matched *uuid.UUID
	if client, err := s.matchClient(ctx, norm, dom); err != nil {
		return nil, err
	} else if client != nil {
		matched = &client.ID
	}

	return s.senders.Upsert(ctx, row, matched)
}

func (s *Service) matchClient(ctx context.Context, email, dom string) (*domain.Client, error) {
	if client, err := s.clients.FindByEmail(ctx, email); err != nil || client != nil {
		return client, err
	}
	if dom == "" {
		return nil, nil
	}
	if client, err := s.clients.FindByExactDomain(ctx, dom); err != nil || client != nil {
		return client, err
	}
	return s.clients.FindByWildcardDomain(ctx, dom)
}

// Get returns an unknown sender by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.UnknownSender, error) {
	row, err := s.senders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, apperr.NotFound("unknown sender")
	}
	return row, nil
}

// List returns unknown senders matching the filter.
func (s *Service) List(ctx context.Context, filter *domain.UnknownSenderFilter) ([]*domain.UnknownSender, int, error) {
	return s.senders.List(ctx, filter)
}

// Resolve applies a triage decision. Approve actions require a client id and
// extend that client's allowlist; resolution is one-way.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, req *domain.ResolveRequest) (*domain.UnknownSender, error) {
	row, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if row.Resolved {
		return nil, apperr.Conflict("unknown sender already resolved")
	}

	switch req.Action {
	case domain.ResolveApproveEmail, domain.ResolveApproveDomain:
		if req.ClientID == nil {
			return nil, apperr.MissingField("client_id")
		}
		client, err := s.clients.GetByID(ctx, *req.ClientID)
		if err != nil {
			return nil, err
		}
		if client == nil || !client.Active {
			return nil, apperr.NotFound("client")
		}
	case domain.ResolveIgnore:
	default:
		return nil, apperr.InvalidInput("action", "must be approve_email, approve_domain or ignore")
	}

	if err := s.senders.Resolve(ctx, id, req.Action, req.ClientID, req.Wildcard); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}
