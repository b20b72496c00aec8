// Package contact manages clients and their allowlist entries.
package contact

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"helios_server/core/domain"
	"helios_server/core/port/out"
	"helios_server/core/service/allowlist"
	"helios_server/pkg/apperr"
)

// Service handles client CRUD and attendee matching.
type Service struct {
	repo out.ClientRepository
}

// NewService creates a contact service.
func NewService(repo out.ClientRepository) *Service {
	return &Service{repo: repo}
}

// Create registers a new client with optional initial emails and domains.
func (s *Service) Create(ctx context.Context, input *domain.ClientInput) (*domain.Client, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, apperr.MissingField("name")
	}

	client := &domain.Client{
		ID:     uuid.New(),
		Name:   strings.TrimSpace(input.Name),
		Tags:   input.Tags,
		Active: true,
	}
	if input.Phone != nil {
		client.Phone = strings.TrimSpace(*input.Phone)
	}
	if input.Notes != nil {
		client.Notes = *input.Notes
	}
	if input.Emails != nil {
		client.Emails = normalizeEmails(*input.Emails)
	}
	if input.Domains != nil {
		client.Domains = normalizeDomains(*input.Domains)
	}

	if err := s.repo.Create(ctx, client); err != nil {
		return nil, err
	}
	return client, nil
}

// Update applies a partial update. Email/domain sets, when present, replace
// the prior sets transactionally.
func (s *Service) Update(ctx context.Context, id uuid.UUID, input *domain.ClientInput) (*domain.Client, error) {
	client, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, apperr.NotFound("client")
	}

	if strings.TrimSpace(input.Name) != "" {
		client.Name = strings.TrimSpace(input.Name)
	}
	if input.Phone != nil {
		client.Phone = strings.TrimSpace(*input.Phone)
	}
	if input.Notes != nil {
		client.Notes = *input.Notes
	}
	if input.Tags != nil {
		client.Tags = input.Tags
	}
	if err := s.repo.Update(ctx, client); err != nil {
		return nil, err
	}

	if input.Emails != nil {
		emails := normalizeEmails(*input.Emails)
		if err := s.repo.SetEmails(ctx, id, emails); err != nil {
			return nil, err
		}
		client.Emails = emails
	}
	if input.Domains != nil {
		domains := normalizeDomains(*input.Domains)
		if err := s.repo.SetDomains(ctx, id, domains); err != nil {
			return nil, err
		}
		client.Domains = domains
	}
	return client, nil
}

// Get returns a client by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	client, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, apperr.NotFound("client")
	}
	return client, nil
}

// List returns clients matching the filter.
func (s *Service) List(ctx context.Context, filter *domain.ClientFilter) ([]*domain.Client, int, error) {
	return s.repo.List(ctx, filter)
}

// Delete soft-deletes a client by clearing its active flag.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	client, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if client == nil {
		return apperr.NotFound("client")
	}
	return s.repo.SoftDelete(ctx, id)
}

// Attendee match scores.
const (
	ScoreEmail          = 100
	ScoreExactDomain    = 80
	ScoreWildcardDomain = 60
)

// LookupByAttendees scores each attendee email against the allowlist:
// exact email 100, exact domain 80, wildcard domain 60. Results are sorted
// descending by score; unmatched attendees are omitted.
func (s *Service) LookupByAttendees(ctx context.Context, emails []string) ([]domain.AttendeeMatch, error) {
	matches := make([]domain.AttendeeMatch, 0, len(emails))
	seen := make(map[string]bool)

	for _, raw := range emails {
		email := allowlist.NormalizeEmail(raw)
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true

		if client, err := s.repo.FindByEmail(ctx, email); err != nil {
			return nil, err
		} else if client != nil {
			matches = append(matches, domain.AttendeeMatch{Email: email, Score: ScoreEmail, Client: client})
			continue
		}

		dom := allowlist.DomainOf(email)
		if dom == "" {
			continue
		}
		if client, err := s.repo.FindByExactDomain(ctx, dom); err != nil {
			return nil, err
		} else if client != nil {
			matches = append(matches, domain.AttendeeMatch{Email: email, Score: ScoreExactDomain, Client: client})
			continue
		}
		if client, err := s.repo.FindByWildcardDomain(ctx, dom); err != nil {
			return nil, err
		} else if client != nil {
			matches = append(matches, domain.AttendeeMatch{Email: email, Score: ScoreWildcardDomain, Client: client})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches, nil
}

// ResolveClient maps a sender to its owning client: exact email first, then
// exact domain, then wildcard domain. Returns nil when unmatched.
func (s *Service) ResolveClient(ctx context.Context, sender string) (*domain.Client, error) {
	email := allowlist.NormalizeEmail(sender)
	if client, err := s.repo.FindByEmail(ctx, email); err != nil || client != nil {
		return client, err
	}
	dom := allowlist.DomainOf(email)
	if dom == "" {
		return nil, nil
	}
	if client, err := s.repo.FindByExactDomain(ctx, dom); err != nil || client != nil {
		return client, err
	}
	return s.repo.FindByWildcardDomain(ctx, dom)
}

func normalizeEmails(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool)
	for _, e := range in {
		n := allowlist.NormalizeEmail(e)
		if n == "" || !strings.Contains(n, "@") || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func normalizeDomains(in []domain.ClientDomain) []domain.ClientDomain {
	out := make([]domain.ClientDomain, 0, len(in))
	type key struct {
		d string
		w bool
	}
	seen := make(map[key]bool)
	for _, d := range in {
		n := allowlist.NormalizeDomain(d.Domain)
		if n == "" {
			continue
		}
		k := key{n, d.Wildcard}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, domain.ClientDomain{Domain: n, Wildcard: d.Wildcard})
	}
	return out
}
