package out

import (
	"context"
	"time"

	"helios_server/core/domain"
)

// EventPatch holds the fields a patch may change. Nil fields are untouched.
type EventPatch struct {
	Summary     *string
	Description *string
	Start       *time.Time
	End         *time.Time
	Private     map[string]string
}

// CalendarProviderPort abstracts the calendar source.
type CalendarProviderPort interface {
	ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]*domain.CalendarEvent, error)
	InsertEvent(ctx context.Context, calendarID string, ev *domain.CalendarEvent) (*domain.CalendarEvent, error)
	PatchEvent(ctx context.Context, calendarID, eventID string, patch *EventPatch) error
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}
