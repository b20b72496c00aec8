// Package schedule plans contextual calendar blocks and reflows them when
// work finishes early.
package schedule

import (
	"sort"
	"time"

	"helios_server/core/domain"
)

// splitInterval takes up to minutes off the front of iv. The second return is
// the remainder, zero-length when fully consumed.
func splitInterval(iv domain.Interval, minutes int) (domain.Interval, domain.Interval) {
	take := minutes
	if m := iv.Minutes(); take > m {
		take = m
	}
	first := domain.Interval{Start: iv.Start, End: iv.Start.Add(time.Duration(take) * time.Minute)}
	rest := domain.Interval{Start: first.End, End: iv.End}
	return first, rest
}

// clampDay anchors a wall-clock window onto a calendar day.
func clampDay(day time.Time, start, end domain.ClockTime, loc *time.Location) domain.Interval {
	return domain.Interval{Start: start.On(day, loc), End: end.On(day, loc)}
}

// subtractBusy removes busy intervals from free, returning the remaining
// pieces in start order.
func subtractBusy(free domain.Interval, busies []domain.Interval) []domain.Interval {
	pieces := []domain.Interval{free}
	sorted := make([]domain.Interval, len(busies))
	copy(sorted, busies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	for _, b := range sorted {
		var next []domain.Interval
		for _, p := range pieces {
			if !b.End.After(p.Start) || !b.Start.Before(p.End) {
				next = append(next, p)
				continue
			}
			if b.Start.After(p.Start) {
				next = append(next, domain.Interval{Start: p.Start, End: b.Start})
			}
			if b.End.Before(p.End) {
				next = append(next, domain.Interval{Start: b.End, End: p.End})
			}
		}
		pieces = pieces[:0]
		for _, p := range next {
			if p.End.After(p.Start) {
				pieces = append(pieces, p)
			}
		}
	}
	return pieces
}

// clockTimeOf converts an absolute time to minutes from midnight in loc.
func clockTimeOf(t time.Time, loc *time.Location) domain.ClockTime {
	lt := t.In(loc)
	return domain.NewClockTime(lt.Hour(), lt.Minute())
}

// bucketForTime categorizes a start time into a time-of-day bucket.
func bucketForTime(t domain.ClockTime) string {
	switch {
	case t < domain.NewClockTime(10, 30):
		return domain.TODMorning
	case t < domain.NewClockTime(11, 0):
		return domain.TODMidMorning
	case t < domain.NewClockTime(14, 30):
		return domain.TODEarlyAfternoon
	case t < domain.NewClockTime(16, 30):
		return domain.TODAfternoon
	default:
		return domain.TODLateAfternoon
	}
}

// inPersonalWindow reports whether iv lies entirely inside one of the day's
// configured personal windows. Days with no windows configured allow all.
func inPersonalWindow(cfg *domain.SchedulerConfig, day time.Time, iv domain.Interval, loc *time.Location) bool {
	spans := cfg.PersonalWindows[weekdayIndex(day)]
	if len(spans) == 0 {
		return true
	}
	st := clockTimeOf(iv.Start, loc)
	en := clockTimeOf(iv.End, loc)
	for _, w := range spans {
		if st >= w.Start && en <= w.End {
			return true
		}
	}
	return false
}

// weekdayIndex maps time.Weekday to Monday=0..Sunday=6.
func weekdayIndex(day time.Time) int {
	return (int(day.Weekday()) + 6) % 7
}
