package out

import (
	"context"
	"time"
)

// MailMessage is the provider-neutral view of a fetched message.
type MailMessage struct {
	// ID is the stable identifier: "rfc:{Message-Id}" when the header is
	// present, else "{provider}:{internal id}".
	ID         string
	ProviderID string
	ThreadID   string
	Sender     string
	Subject    string
	Body       string
	Snippet    string
	Link       string
	Label      string
	ReceivedAt time.Time
}

// MailProviderPort abstracts the mail source: list triage labels and stream
// messages under them. Implementations paginate transparently and never
// deliver the same message twice across labels within one sweep.
type MailProviderPort interface {
	// ListLabels maps label name to provider label id.
	ListLabels(ctx context.Context) (map[string]string, error)

	// ForEachMessage streams full messages under the labels in provider
	// order. query is a provider search expression ("" for none). fn errors
	// abort the stream.
	ForEachMessage(ctx context.Context, labelIDs map[string]string, query string, maxPerLabel int, fn func(msg *MailMessage) error) error
}
