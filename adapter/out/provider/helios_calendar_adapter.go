package provider

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"helios_server/core/domain"
	"helios_server/core/port/out"
	"helios_server/pkg/httputil"
	"helios_server/pkg/logger"
	"helios_server/pkg/ratelimit"
)

// CalendarAdapter implements out.CalendarProviderPort against Google
// Calendar.
type CalendarAdapter struct {
	config *oauth2.Config
	token  *oauth2.Token
	guard  *ratelimit.ProviderGuard
	retry  *httputil.RetryPolicy
	cb     *gobreaker.CircuitBreaker
	log    *logger.Logger
}

// NewCalendarAdapter creates a new CalendarAdapter.
func NewCalendarAdapter(cfg *GoogleConfig, guard *ratelimit.ProviderGuard) *CalendarAdapter {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes: []string{
			calendar.CalendarScope,
			calendar.CalendarEventsScope,
		},
		Endpoint: google.Endpoint,
	}
	return &CalendarAdapter{
		config: config,
		token:  staticToken(cfg),
		guard:  guard,
		retry:  httputil.DefaultRetryPolicy(),
		cb:     newBreaker("calendar-api"),
		log:    logger.WithField("component", "calendar"),
	}
}

func (a *CalendarAdapter) getService(ctx context.Context) (*calendar.Service, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httputil.CalendarClient())
	return calendar.NewService(ctx, option.WithTokenSource(
		a.config.TokenSource(ctx, a.token),
	))
}

func (a *CalendarAdapter) execute(ctx context.Context, fn func() error) error {
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

// ListEvents returns expanded single events in [timeMin, timeMax), ordered by
// start time, across all pages.
func (a *CalendarAdapter) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]*domain.CalendarEvent, error) {
	svc, err := a.getService(ctx)
	if err != nil {
		return nil, wrapGoogleError("calendar", err)
	}

	var events []*domain.CalendarEvent
	pageToken := ""
	for {
		req := svc.Events.List(calendarID).
			TimeMin(timeMin.Format(time.RFC3339)).
			TimeMax(timeMax.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(250)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		var resp *calendar.Events
		err := a.execute(ctx, func() error {
			var callErr error
			resp, callErr = req.Context(ctx).Do()
			return callErr
		})
		if err != nil {
			return nil, wrapGoogleError("calendar", err)
		}

		for _, item := range resp.Items {
			if ev := a.toDomainEvent(item, calendarID); ev != nil {
				events = append(events, ev)
			}
		}

		if resp.NextPageToken == "" {
			return events, nil
		}
		pageToken = resp.NextPageToken
	}
}

// InsertEvent creates an event and returns the stored version.
func (a *CalendarAdapter) InsertEvent(ctx context.Context, calendarID string, ev *domain.CalendarEvent) (*domain.CalendarEvent, error) {
	svc, err := a.getService(ctx)
	if err != nil {
		return nil, wrapGoogleError("calendar", err)
	}

	payload := &calendar.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &calendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: ev.End.Format(time.RFC3339)},
	}
	if len(ev.Private) > 0 {
		payload.ExtendedProperties = &calendar.EventExtendedProperties{Private: ev.Private}
	}

	var created *calendar.Event
	err = a.execute(ctx, func() error {
		var callErr error
		created, callErr = svc.Events.Insert(calendarID, payload).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, wrapGoogleError("calendar", err)
	}
	return a.toDomainEvent(created, calendarID), nil
}

// PatchEvent applies the non-nil patch fields to an event.
func (a *CalendarAdapter) PatchEvent(ctx context.Context, calendarID, eventID string, patch *out.EventPatch) error {
	svc, err := a.getService(ctx)
	if err != nil {
		return wrapGoogleError("calendar", err)
	}

	payload := &calendar.Event{}
	if patch.Summary != nil {
		payload.Summary = *patch.Summary
	}
	if patch.Description != nil {
		payload.Description = *patch.Description
	}
	if patch.Start != nil {
		payload.Start = &calendar.EventDateTime{DateTime: patch.Start.Format(time.RFC3339)}
	}
	if patch.End != nil {
		payload.End = &calendar.EventDateTime{DateTime: patch.End.Format(time.RFC3339)}
	}
	if len(patch.Private) > 0 {
		payload.ExtendedProperties = &calendar.EventExtendedProperties{Private: patch.Private}
	}

	err = a.execute(ctx, func() error {
		_, callErr := svc.Events.Patch(calendarID, eventID, payload).Context(ctx).Do()
		return callErr
	})
	return wrapGoogleError("calendar", err)
}

// DeleteEvent removes an event.
func (a *CalendarAdapter) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	svc, err := a.getService(ctx)
	if err != nil {
		return wrapGoogleError("calendar", err)
	}

	err = a.execute(ctx, func() error {
		return svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
	})
	return wrapGoogleError("calendar", err)
}

// toDomainEvent converts an API event. Events without usable times (cancelled
// stubs) return nil.
func (a *CalendarAdapter) toDomainEvent(item *calendar.Event, calendarID string) *domain.CalendarEvent {
	if item == nil {
		return nil
	}
	start, startOK := eventTime(item.Start)
	end, endOK := eventTime(item.End)
	if !startOK || !endOK {
		return nil
	}

	ev := &domain.CalendarEvent{
		ID:          item.Id,
		CalendarID:  calendarID,
		Summary:     item.Summary,
		Description: item.Description,
		Start:       start,
		End:         end,
		HTMLLink:    item.HtmlLink,
		Private:     map[string]string{},
	}
	if item.ExtendedProperties != nil && item.ExtendedProperties.Private != nil {
		ev.Private = item.ExtendedProperties.Private
	}
	return ev
}

// eventTime handles timed and all-day event boundaries.
func eventTime(edt *calendar.EventDateTime) (time.Time, bool) {
	if edt == nil {
		return time.Time{}, false
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	if edt.Date != "" {
		t, err := time.Parse("2006-01-02", edt.Date)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// Ensure CalendarAdapter implements out.CalendarProviderPort
var _ out.CalendarProviderPort = (*CalendarAdapter)(nil)
