package provider

import (
	"context"
	"encoding/base64"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"helios_server/core/port/out"
	"helios_server/pkg/httputil"
	"helios_server/pkg/logger"
	"helios_server/pkg/ratelimit"
)

const gmailPageSize = 100

// GmailAdapter implements out.MailProviderPort for a single Gmail account.
type GmailAdapter struct {
	config *oauth2.Config
	token  *oauth2.Token
	guard  *ratelimit.ProviderGuard
	retry  *httputil.RetryPolicy
	cb     *gobreaker.CircuitBreaker
	log    *logger.Logger
}

// NewGmailAdapter creates a new Gmail adapter.
func NewGmailAdapter(cfg *GoogleConfig, guard *ratelimit.ProviderGuard) *GmailAdapter {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}
	return &GmailAdapter{
		config: config,
		token:  staticToken(cfg),
		guard:  guard,
		retry:  httputil.DefaultRetryPolicy(),
		cb:     newBreaker("gmail-api"),
		log:    logger.WithField("component", "gmail"),
	}
}

func (a *GmailAdapter) getService(ctx context.Context) (*gmail.Service, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httputil.GmailClient())
	return gmail.NewService(ctx, option.WithTokenSource(
		a.config.TokenSource(ctx, a.token),
	))
}

// execute runs one provider call behind the concurrency guard, the circuit
// breaker and the retry policy. A 429 Retry-After hint overrides the backoff.
func (a *GmailAdapter) execute(ctx context.Context, fn func() error) error {
	release, err := a.guard.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	return httputil.Do(ctx, a.retry, func() (int, time.Duration, error) {
		_, err := a.cb.Execute(func() (interface{}, error) {
			return nil, fn()
		})
		if err != nil {
			status, hint := apiStatus(err)
			return status, hint, err
		}
		return 0, 0, nil
	})
}

// ListLabels maps label name to provider label id.
func (a *GmailAdapter) ListLabels(ctx context.Context) (map[string]string, error) {
	svc, err := a.getService(ctx)
	if err != nil {
		return nil, wrapGoogleError("gmail", err)
	}

	var resp *gmail.ListLabelsResponse
	err = a.execute(ctx, func() error {
		var callErr error
		resp, callErr = svc.Users.Labels.List("me").Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, wrapGoogleError("gmail", err)
	}

	labels := make(map[string]string, len(resp.Labels))
	for _, l := range resp.Labels {
		labels[l.Name] = l.Id
	}
	return labels, nil
}

// ForEachMessage streams full messages under the labels. Messages seen under
// an earlier label are not delivered again. fn errors abort the stream.
func (a *GmailAdapter) ForEachMessage(ctx context.Context, labelIDs map[string]string, query string, maxPerLabel int, fn func(msg *out.MailMessage) error) error {
	svc, err := a.getService(ctx)
	if err != nil {
		return wrapGoogleError("gmail", err)
	}
	if maxPerLabel <= 0 {
		maxPerLabel = gmailPageSize
	}

	// Deterministic label order keeps sweep logs and dedupe stable.
	names := make([]string, 0, len(labelIDs))
	for name := range labelIDs {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := make(map[string]bool)
	for _, name := range names {
		if err := a.forEachInLabel(ctx, svc, name, labelIDs[name], query, maxPerLabel, seen, fn); err != nil {
			return err
		}
	}
	return nil
}

func (a *GmailAdapter) forEachInLabel(ctx context.Context, svc *gmail.Service, labelName, labelID, query string, maxPerLabel int, seen map[string]bool, fn func(msg *out.MailMessage) error) error {
	fetched := 0
	pageToken := ""

	for fetched < maxPerLabel {
		pageSize := int64(gmailPageSize)
		if remaining := int64(maxPerLabel - fetched); remaining < pageSize {
			pageSize = remaining
		}

		req := svc.Users.Messages.List("me").LabelIds(labelID).MaxResults(pageSize)
		if query != "" {
			req = req.Q(query)
		}
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		var resp *gmail.ListMessagesResponse
		err := a.execute(ctx, func() error {
			var callErr error
			resp, callErr = req.Context(ctx).Do()
			return callErr
		})
		if err != nil {
			return wrapGoogleError("gmail", err)
		}

		for _, ref := range resp.Messages {
			if seen[ref.Id] {
				continue
			}
			seen[ref.Id] = true
			fetched++

			var full *gmail.Message
			err := a.execute(ctx, func() error {
				var callErr error
				full, callErr = svc.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
				return callErr
			})
			if err != nil {
				return wrapGoogleError("gmail", err)
			}

			if err := fn(a.toMailMessage(full, labelName)); err != nil {
				return err
			}
			if fetched >= maxPerLabel {
				break
			}
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return nil
}

// toMailMessage converts a Gmail message into the provider-neutral view.
func (a *GmailAdapter) toMailMessage(msg *gmail.Message, labelName string) *out.MailMessage {
	m := &out.MailMessage{
		ProviderID: msg.Id,
		ThreadID:   msg.ThreadId,
		Snippet:    msg.Snippet,
		Label:      labelName,
		Link:       "https://mail.google.com/mail/u/0/#inbox/" + msg.Id,
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
	}

	if rfcID := headerValue(msg.Payload, "Message-Id"); rfcID != "" {
		m.ID = "rfc:" + strings.TrimSpace(rfcID)
	} else {
		m.ID = "gmail:" + msg.Id
	}

	m.Subject = headerValue(msg.Payload, "Subject")
	m.Sender = senderEmail(msg.Payload)

	m.Body = extractBody(msg.Payload)
	if m.Body == "" {
		m.Body = msg.Snippet
	}
	return m
}

func headerValue(payload *gmail.MessagePart, name string) string {
	if payload == nil {
		return ""
	}
	for _, h := range payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// senderEmail pulls the sender address, preferring From, then Reply-To, then
// Sender, and unwraps "Name <addr>" forms.
func senderEmail(payload *gmail.MessagePart) string {
	for _, header := range []string{"From", "Reply-To", "Sender"} {
		raw := headerValue(payload, header)
		if raw == "" {
			continue
		}
		if addr, err := mail.ParseAddress(raw); err == nil {
			return strings.ToLower(addr.Address)
		}
		// Malformed headers still often carry a bare <addr>.
		if start := strings.LastIndex(raw, "<"); start >= 0 {
			if end := strings.Index(raw[start:], ">"); end > 0 {
				return strings.ToLower(strings.TrimSpace(raw[start+1 : start+end]))
			}
		}
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return ""
}

// extractBody walks the MIME tree for a text/plain part, falling back to
// stripped text/html.
func extractBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}
	if plain := findPart(payload, "text/plain"); plain != "" {
		return plain
	}
	if html := findPart(payload, "text/html"); html != "" {
		return stripHTML(html)
	}
	return ""
}

func findPart(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.HasPrefix(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		return decodeBase64(part.Body.Data)
	}
	for _, child := range part.Parts {
		if found := findPart(child, mimeType); found != "" {
			return found
		}
	}
	return ""
}

func decodeBase64(data string) string {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	return ""
}

// stripHTML removes tags and collapses whitespace. Good enough for a task
// body preview; not a sanitizer.
func stripHTML(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Ensure GmailAdapter implements out.MailProviderPort
var _ out.MailProviderPort = (*GmailAdapter)(nil)
