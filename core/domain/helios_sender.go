package domain

import (
	"time"

	"github.com/google/uuid"
)

// Unknown-sender status values. Transitions are one-way from
// pending/matched to resolved/ignored.
const (
	SenderStatusPending  = "pending"
	SenderStatusMatched  = "matched"
	SenderStatusResolved = "resolved"
	SenderStatusIgnored  = "ignored"
)

// Resolution actions for an unknown sender.
const (
	ResolveApproveEmail  = "approve_email"
	ResolveApproveDomain = "approve_domain"
	ResolveIgnore        = "ignore"
)

// UnknownSender records a sender rejected by the allowlist, one row per
// (email, message_id). Repeat observations bump Hits and LastSeen.
type UnknownSender struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	Domain      string     `json:"domain"`
	MessageID   string     `json:"message_id"`
	LastSubject string     `json:"last_subject,omitempty"`
	Hits        int        `json:"hits"`
	FirstSeen   time.Time  `json:"first_seen"`
	LastSeen    time.Time  `json:"last_seen"`
	Status      string     `json:"status"`
	Resolved    bool       `json:"resolved"`
	ClientID    *uuid.UUID `json:"client_id,omitempty"`
}

// UnknownSenderFilter narrows unknown-sender listings.
type UnknownSenderFilter struct {
	Resolved *bool
	Status   string
	Limit    int
	Offset   int
}

// ResolveRequest carries the triage decision for an unknown sender.
type ResolveRequest struct {
	Action   string     `json:"action"`
	ClientID *uuid.UUID `json:"client_id,omitempty"`
	Wildcard bool       `json:"wildcard,omitempty"`
}
