package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"helios_server/core/domain"
	"helios_server/core/port/out"
	"helios_server/pkg/logger"
)

// markerVersion stamps generated events for traceability.
const markerVersion = "v1"

// Service wires the planner to the calendar and task source.
type Service struct {
	cal   out.CalendarProviderPort
	tasks out.TaskSourcePort

	cfg *domain.SchedulerConfig
	loc *time.Location

	fixedCalendarID    string
	flexibleCalendarID string

	log *logger.Logger
}

// NewService creates a schedule service.
func NewService(
	cal out.CalendarProviderPort,
	tasks out.TaskSourcePort,
	cfg *domain.SchedulerConfig,
	loc *time.Location,
	fixedCalendarID, flexibleCalendarID string,
) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		cal:                cal,
		tasks:              tasks,
		cfg:                cfg,
		loc:                loc,
		fixedCalendarID:    fixedCalendarID,
		flexibleCalendarID: flexibleCalendarID,
		log:                logger.WithField("component", "schedule"),
	}
}

// Plan computes a block plan for [start, start+days) without touching the
// calendar.
func (s *Service) Plan(ctx context.Context, start time.Time, days int) (*domain.Plan, error) {
	grouped, err := s.tasks.GroupedTasks(ctx)
	if err != nil {
		return nil, err
	}

	fetch := s.fetchFixed
	if !s.cfg.RespectBusy {
		fetch = func(ctx context.Context, day time.Time) ([]domain.Interval, error) {
			return nil, nil
		}
	}

	planner := NewPlanner(s.cfg, s.loc)
	plan := planner.PlanWindow(ctx, start, days, fetch, grouped)
	return plan, nil
}

// fetchFixed returns the busy intervals on the fixed calendar for a day.
func (s *Service) fetchFixed(ctx context.Context, day time.Time) ([]domain.Interval, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	events, err := s.cal.ListEvents(ctx, s.fixedCalendarID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	busies := make([]domain.Interval, 0, len(events))
	for _, ev := range events {
		if ev.End.After(ev.Start) {
			busies = append(busies, domain.Interval{Start: ev.Start, End: ev.End})
		}
	}
	return busies, nil
}

// Apply writes a plan's blocks to the suggestions calendar. Unless
// respectExisting is set, previously generated events in the window are
// cleared first. Returns the number of events created.
func (s *Service) Apply(ctx context.Context, plan *domain.Plan, respectExisting bool) (int, error) {
	blocks := plan.AllBlocks()
	if len(blocks) == 0 {
		return 0, nil
	}

	windowStart := blocks[0].Start
	windowEnd := blocks[0].End
	for _, b := range blocks {
		if b.Start.Before(windowStart) {
			windowStart = b.Start
		}
		if b.End.After(windowEnd) {
			windowEnd = b.End
		}
	}

	if !respectExisting {
		if err := s.clearGenerated(ctx, windowStart, windowEnd); err != nil {
			return 0, err
		}
	}

	created := 0
	for _, b := range blocks {
		ev := eventForBlock(b)
		if _, err := s.cal.InsertEvent(ctx, s.flexibleCalendarID, ev); err != nil {
			s.log.WithError(err).WithField("summary", b.Summary).Error("insert block failed")
			return created, err
		}
		created++
	}
	return created, nil
}

// clearGenerated deletes previously generated suggestion events in a window.
func (s *Service) clearGenerated(ctx context.Context, start, end time.Time) error {
	events, err := s.cal.ListEvents(ctx, s.flexibleCalendarID, start, end)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.Private[domain.PropGenerated] != "true" {
			continue
		}
		if err := s.cal.DeleteEvent(ctx, s.flexibleCalendarID, ev.ID); err != nil {
			return err
		}
	}
	return nil
}

// eventForBlock renders a block as a provider event with idempotency markers.
func eventForBlock(b domain.Block) *domain.CalendarEvent {
	return &domain.CalendarEvent{
		Summary:     b.Summary,
		Description: b.Description,
		Start:       b.Start,
		End:         b.End,
		Private: map[string]string{
			domain.PropBlockType: string(b.Bucket),
			domain.PropTaskIDs:   strings.Join(b.TaskIDs, ","),
			domain.PropGenerated: "true",
			domain.PropVersion:   markerVersion,
			domain.PropIdem:      fmt.Sprintf("%s:%s", b.Bucket, b.Start.UTC().Format(time.RFC3339)),
		},
	}
}

// Today returns the current day's blocks drawn from both calendars.
// Events qualify when carrying the generated marker or a "[BLOCK]" summary
// prefix.
func (s *Service) Today(ctx context.Context, now time.Time) (*domain.DaySchedule, error) {
	local := now.In(s.loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	schedule := &domain.DaySchedule{
		Date:     dayStart.Format("2006-01-02"),
		Timezone: s.loc.String(),
		Blocks:   []domain.ScheduleBlock{},
	}

	calendars := []string{s.fixedCalendarID, s.flexibleCalendarID}
	if s.fixedCalendarID == s.flexibleCalendarID {
		calendars = calendars[:1]
	}

	for _, calID := range calendars {
		events, err := s.cal.ListEvents(ctx, calID, dayStart, dayEnd)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if ev.Private[domain.PropGenerated] != "true" && !strings.HasPrefix(ev.Summary, "[BLOCK]") {
				continue
			}
			schedule.Blocks = append(schedule.Blocks, scheduleBlockFor(ev, calID, s.loc))
		}
	}
	return schedule, nil
}

func scheduleBlockFor(ev *domain.CalendarEvent, calendarID string, loc *time.Location) domain.ScheduleBlock {
	extended := map[string]string{"calendar_id": calendarID}
	for k, v := range ev.Private {
		extended[k] = v
	}

	var taskIDs []string
	if raw := ev.Private[domain.PropTaskIDs]; raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id != "" {
				taskIDs = append(taskIDs, id)
			}
		}
	}
	if taskIDs == nil {
		taskIDs = []string{}
	}

	return domain.ScheduleBlock{
		ID:              ev.ID,
		Title:           strings.TrimSpace(strings.ReplaceAll(ev.Summary, "[BLOCK]", "")),
		Context:         contextFromTitle(ev.Summary),
		CalendarEventID: ev.ID,
		CalendarURL:     ev.HTMLLink,
		Start:           ev.Start.In(loc).Format(time.RFC3339),
		End:             ev.End.In(loc).Format(time.RFC3339),
		AssignedTaskIDs: taskIDs,
		Notes:           strings.TrimSpace(ev.Description),
		Extended:        extended,
	}
}

// contextFromTitle infers a display context from the event title.
func contextFromTitle(title string) string {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "deep work"):
		return "DeepWork"
	case strings.Contains(t, "admin"):
		return "Admin"
	case strings.Contains(t, "meeting"):
		return "Meeting"
	case strings.Contains(t, "personal"),
		strings.Contains(t, "school run"),
		strings.Contains(t, "bsl"),
		strings.Contains(t, "med"):
		return "Personal"
	default:
		return "Comm"
	}
}
