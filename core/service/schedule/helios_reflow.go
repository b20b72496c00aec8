package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"helios_server/core/domain"
	"helios_server/core/port/out"
)

// Reflow defaults.
const (
	DefaultMinChunkMinutes   = 15
	DefaultPerTaskCapMinutes = 60
	reflowSearchWindow       = 6 * time.Hour
)

// ReflowOptions tune a reflow invocation. Zero values fall back to the
// configured defaults.
type ReflowOptions struct {
	MinChunkMinutes   int
	PerTaskCapMinutes int
	DryRun            bool
}

// Reflow shortens the generated block containing now and fills the freed
// time with the next tasks from the same bucket. A no-op result is returned
// when nothing qualifies.
func (s *Service) Reflow(ctx context.Context, now time.Time, opts ReflowOptions) (*domain.ReflowResult, error) {
	if opts.MinChunkMinutes <= 0 {
		opts.MinChunkMinutes = s.cfg.ReflowMinChunkMinutes
	}
	if opts.MinChunkMinutes <= 0 {
		opts.MinChunkMinutes = DefaultMinChunkMinutes
	}
	if opts.PerTaskCapMinutes <= 0 {
		opts.PerTaskCapMinutes = s.cfg.ReflowPerTaskCapMinutes
	}
	if opts.PerTaskCapMinutes <= 0 {
		opts.PerTaskCapMinutes = DefaultPerTaskCapMinutes
	}
	now = now.UTC()

	events, err := s.cal.ListEvents(ctx, s.flexibleCalendarID, now.Add(-reflowSearchWindow), now.Add(reflowSearchWindow))
	if err != nil {
		return nil, err
	}

	var current *domain.CalendarEvent
	for _, ev := range events {
		if !ev.Start.After(now) && ev.End.After(now) && ev.Private[domain.PropGenerated] == "true" {
			current = ev
			break
		}
	}
	if current == nil {
		return &domain.ReflowResult{Applied: false, Reason: "no current generated block"}, nil
	}

	remaining := int(current.End.Sub(now) / time.Minute)
	if remaining < opts.MinChunkMinutes {
		return &domain.ReflowResult{
			Applied: false,
			Reason:  fmt.Sprintf("only %dm left, below min chunk %dm", remaining, opts.MinChunkMinutes),
		}, nil
	}

	bucket := domain.Bucket(current.Private[domain.PropBlockType])
	if !bucket.Valid() {
		return &domain.ReflowResult{Applied: false, Reason: "current block has no bucket"}, nil
	}

	exclude := make(map[string]bool)
	for _, id := range strings.Split(current.Private[domain.PropTaskIDs], ",") {
		if id != "" {
			exclude[id] = true
		}
	}

	ids, titles, err := s.pickNextTasks(ctx, bucket, remaining, exclude, opts.PerTaskCapMinutes)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return &domain.ReflowResult{Applied: false, Reason: "no candidate tasks to pull forward", Bucket: bucket}, nil
	}

	result := &domain.ReflowResult{
		Applied:      !opts.DryRun,
		Bucket:       bucket,
		ShortenedID:  current.ID,
		PulledTasks:  ids,
		ReflowStart:  now,
		ReflowEnd:    current.End,
		FreedMinutes: remaining,
	}
	if opts.DryRun {
		result.Reason = "dry run"
		return result, nil
	}

	newEnd := now
	if err := s.cal.PatchEvent(ctx, s.flexibleCalendarID, current.ID, &out.EventPatch{End: &newEnd}); err != nil {
		return nil, err
	}

	replacement := &domain.CalendarEvent{
		Summary:     reflowSummary(bucket, titles, remaining),
		Description: reflowDescription(bucket, ids, titles),
		Start:       now,
		End:         current.End,
		Private: map[string]string{
			domain.PropGenerated: "true",
			domain.PropVersion:   markerVersion,
			domain.PropBlockType: string(bucket),
			domain.PropTaskIDs:   strings.Join(ids, ","),
			domain.PropIdem:      fmt.Sprintf("reflow:%s:%s", bucket, now.Format(time.RFC3339)),
		},
	}
	created, err := s.cal.InsertEvent(ctx, s.flexibleCalendarID, replacement)
	if err != nil {
		return nil, err
	}
	result.NewEventID = created.ID
	return result, nil
}

// pickNextTasks fills ~minutesNeeded from the bucket in priority order,
// skipping excluded ids and capping per-task contribution when capped.
func (s *Service) pickNextTasks(
	ctx context.Context,
	bucket domain.Bucket,
	minutesNeeded int,
	exclude map[string]bool,
	perTaskCap int,
) ([]string, []string, error) {
	grouped, err := s.tasks.GroupedTasks(ctx)
	if err != nil {
		return nil, nil, err
	}
	candidates := make([]*domain.Task, 0, len(grouped[bucket]))
	for i := range grouped[bucket] {
		candidates = append(candidates, &grouped[bucket][i])
	}
	sortTasks(candidates)

	remaining := minutesNeeded
	var ids, titles []string
	for _, t := range candidates {
		if t.ID == "" || exclude[t.ID] {
			continue
		}
		if t.RemainingMinutes <= 0 {
			continue
		}
		take := t.RemainingMinutes
		if take > remaining {
			take = remaining
		}
		if perTaskCap > 0 && take > perTaskCap {
			take = perTaskCap
		}
		if take <= 0 {
			continue
		}
		ids = append(ids, t.ID)
		titles = append(titles, t.Title)
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	return ids, titles, nil
}

func reflowSummary(bucket domain.Bucket, titles []string, minutes int) string {
	label := bucket.Label()
	dur := formatReflowDuration(minutes)
	switch len(titles) {
	case 0:
		return fmt.Sprintf("[BLOCK] %s (pull-forward) (%s)", label, dur)
	case 1:
		return fmt.Sprintf("[BLOCK] %s: %s (%s)", label, titles[0], dur)
	case 2:
		return fmt.Sprintf("[BLOCK] %s: %s; %s (%s)", label, titles[0], titles[1], dur)
	default:
		return fmt.Sprintf("[BLOCK] %s: %s; %s +%d more (%s)", label, titles[0], titles[1], len(titles)-2, dur)
	}
}

func reflowDescription(bucket domain.Bucket, ids, titles []string) string {
	pairs := make([]string, 0, len(ids))
	for i := range ids {
		pairs = append(pairs, fmt.Sprintf("%s :: %s", ids[i], titles[i]))
	}
	return fmt.Sprintf("Auto-reflowed block (finished early).\nBucket: %s\nPulled forward:\n  - %s",
		bucket, strings.Join(pairs, "\n  - "))
}

func formatReflowDuration(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	h, m := minutes/60, minutes%60
	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if len(parts) == 0 {
		return "0m"
	}
	return strings.Join(parts, " ")
}
