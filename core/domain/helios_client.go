package domain

import (
	"time"

	"github.com/google/uuid"
)

// Client is a known correspondent whose mail is allowed to create tasks.
// Display name is unique case-insensitively. Soft delete clears Active.
type Client struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Phone string    `json:"phone,omitempty"`
	Notes string    `json:"notes,omitempty"`
	Tags  []string  `json:"tags,omitempty"`

	Active bool `json:"active"`

	// Allowlist entries owned by this client
	Emails  []string       `json:"emails"`
	Domains []ClientDomain `json:"domains"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClientDomain is a permitted sender domain. Wildcard means the domain and
// all of its subdomains.
type ClientDomain struct {
	Domain   string `json:"domain"`
	Wildcard bool   `json:"wildcard"`
}

// ClientInput carries create/update payloads for a client.
// Nil slices mean "leave unchanged" on update; empty slices replace with none.
type ClientInput struct {
	Name    string          `json:"name"`
	Phone   *string         `json:"phone,omitempty"`
	Notes   *string         `json:"notes,omitempty"`
	Tags    []string        `json:"tags,omitempty"`
	Emails  *[]string       `json:"emails,omitempty"`
	Domains *[]ClientDomain `json:"domains,omitempty"`
}

// ClientFilter narrows client listings.
type ClientFilter struct {
	Search          string
	Tag             string
	IncludeInactive bool
	Limit           int
	Offset          int
}

// AllowlistSnapshot is the versioned, flattened view of every active client's
// emails and domains. Version increments on any allowlist mutation.
type AllowlistSnapshot struct {
	Version     int64          `json:"version"`
	Emails      []string       `json:"emails"`
	Domains     []ClientDomain `json:"domains"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// AttendeeMatch links a calendar attendee email to a client with a
// confidence score: 100 exact email, 80 exact domain, 60 wildcard domain.
type AttendeeMatch struct {
	Email  string  `json:"email"`
	Score  int     `json:"score"`
	Client *Client `json:"client,omitempty"`
}
