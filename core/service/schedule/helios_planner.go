package schedule

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"helios_server/core/domain"
	"helios_server/pkg/logger"
)

// minCursorMinutes is the smallest slice of free time worth considering.
const minCursorMinutes = 30

// FixedEventsFetcher returns the busy intervals for a day.
type FixedEventsFetcher func(ctx context.Context, day time.Time) ([]domain.Interval, error)

// Planner computes block placements over a window. A Planner is built per
// call and holds no shared mutable state.
type Planner struct {
	cfg *domain.SchedulerConfig
	loc *time.Location
	log *logger.Logger
}

// NewPlanner creates a planner for the given configuration and timezone.
func NewPlanner(cfg *domain.SchedulerConfig, loc *time.Location) *Planner {
	if loc == nil {
		loc = time.UTC
	}
	return &Planner{cfg: cfg, loc: loc, log: logger.WithField("component", "planner")}
}

// demand tracks remaining minutes per bucket, decremented as blocks fill.
// Tasks are copied so callers keep their inputs intact.
type demand struct {
	minutes map[domain.Bucket]int
	tasks   map[domain.Bucket][]*domain.Task
}

func newDemand(grouped map[domain.Bucket][]domain.Task) *demand {
	d := &demand{
		minutes: make(map[domain.Bucket]int),
		tasks:   make(map[domain.Bucket][]*domain.Task),
	}
	for _, bt := range domain.AllBuckets {
		list := grouped[bt]
		copies := make([]*domain.Task, 0, len(list))
		total := 0
		for i := range list {
			t := list[i]
			if t.RemainingMinutes < 0 {
				t.RemainingMinutes = 0
			}
			total += t.RemainingMinutes
			copies = append(copies, &t)
		}
		sortTasks(copies)
		d.minutes[bt] = total
		d.tasks[bt] = copies
	}
	return d
}

// sortTasks orders by priority ascending then due ascending; absent values
// sort last. The sort is stable so input order breaks ties.
func sortTasks(tasks []*domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		pi, pj := 99, 99
		if tasks[i].Priority != nil {
			pi = *tasks[i].Priority
		}
		if tasks[j].Priority != nil {
			pj = *tasks[j].Priority
		}
		if pi != pj {
			return pi < pj
		}
		di, dj := maxTime, maxTime
		if tasks[i].Due != nil {
			di = *tasks[i].Due
		}
		if tasks[j].Due != nil {
			dj = *tasks[j].Due
		}
		return di.Before(dj)
	})
}

var maxTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// ScaledWeeklyTarget returns ceil(weekly × days / 7).
func ScaledWeeklyTarget(weekly, days int) int {
	return (weekly*days + 6) / 7
}

// PlanWindow computes the plan for [start, start+days). start is interpreted
// as a calendar date in the planner's timezone. A day whose fixed events
// cannot be fetched is skipped with a warning.
func (p *Planner) PlanWindow(
	ctx context.Context,
	start time.Time,
	days int,
	fetchFixed FixedEventsFetcher,
	grouped map[domain.Bucket][]domain.Task,
) *domain.Plan {
	dem := newDemand(grouped)

	scaled := make(map[domain.Bucket]int, len(domain.AllBuckets))
	for _, bt := range domain.AllBuckets {
		scaled[bt] = ScaledWeeklyTarget(p.cfg.WeeklyWeights[bt], days)
	}

	scheduled := make(map[domain.Bucket]int, len(domain.AllBuckets))
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, p.loc)

	plan := &domain.Plan{
		Start:  startDay.Format("2006-01-02"),
		Totals: scheduled,
	}

	for i := 0; i < days; i++ {
		day := startDay.AddDate(0, 0, i)

		fixed, err := fetchFixed(ctx, day)
		if err != nil {
			p.log.WithError(err).WithField("date", day.Format("2006-01-02")).
				Warn("skipping day, fixed events unavailable")
			continue
		}

		dp := p.planDay(day, fixed, dem, scaled, scheduled)
		plan.Days = append(plan.Days, dp)
	}
	return plan
}

func (p *Planner) planDay(
	day time.Time,
	fixed []domain.Interval,
	dem *demand,
	scaled map[domain.Bucket]int,
	scheduled map[domain.Bucket]int,
) domain.DayPlan {
	capToday := make(map[domain.Bucket]int, len(domain.AllBuckets))
	var blocks []domain.Block

	// Work buckets live in core hours on weekdays only.
	var workFree []domain.Interval
	if wd := weekdayIndex(day); wd < 5 {
		core := clampDay(day, p.cfg.CoreStart, p.cfg.CoreEnd, p.loc)
		workFree = subtractBusy(core, fixed)
	}

	for _, iv := range workFree {
		cursor := iv
		for cursor.Minutes() >= minCursorMinutes {
			tod := bucketForTime(clockTimeOf(cursor.Start, p.loc))
			placed := false

			for _, bt := range preferenceOrder(tod) {
				if scheduled[bt] >= scaled[bt] {
					continue
				}
				rule := p.cfg.Rules[bt]
				candidate := candidateMinutes(rule, cursor.Minutes())
				if candidate < rule.DurationMin {
					continue
				}
				if dem.minutes[bt] <= 0 {
					continue
				}
				if !p.canPlace(bt, day, cursor, candidate, capToday, tod) {
					continue
				}

				if block, rest, ok := p.allocate(bt, cursor, candidate, dem, capToday, scheduled); ok {
					blocks = append(blocks, block)
					cursor = rest
					placed = true
					break
				}
			}

			if placed {
				continue
			}

			// Gap filler: admin when demand remains.
			if cursor.Minutes() >= minCursorMinutes && dem.minutes[domain.BucketAdminProcessing] > 0 &&
				scheduled[domain.BucketAdminProcessing] < scaled[domain.BucketAdminProcessing] {
				bt := domain.BucketAdminProcessing
				rule := p.cfg.Rules[bt]
				mins := candidateMinutes(rule, cursor.Minutes())
				if mins >= rule.DurationMin && p.canPlace(bt, day, cursor, mins, capToday, tod) {
					if block, rest, ok := p.allocate(bt, cursor, mins, dem, capToday, scheduled); ok {
						blocks = append(blocks, block)
						cursor = rest
						continue
					}
				}
			}
			break
		}
	}

	// Personal blocks live only inside the day's personal windows, any day.
	spans := p.cfg.PersonalWindows[weekdayIndex(day)]
	if len(spans) > 0 && dem.minutes[domain.BucketPersonal] > 0 {
		var personalFree []domain.Interval
		for _, w := range spans {
			base := clampDay(day, w.Start, w.End, p.loc)
			personalFree = append(personalFree, subtractBusy(base, fixed)...)
		}
		sort.Slice(personalFree, func(i, j int) bool {
			return personalFree[i].Start.Before(personalFree[j].Start)
		})

		bt := domain.BucketPersonal
		rule := p.cfg.Rules[bt]
		for _, iv := range personalFree {
			cursor := iv
			for cursor.Minutes() >= rule.DurationMin {
				if scheduled[bt] >= scaled[bt] {
					break
				}
				mins := candidateMinutes(rule, cursor.Minutes())
				if dem.minutes[bt] <= 0 {
					break
				}
				tod := bucketForTime(clockTimeOf(cursor.Start, p.loc))
				if !p.canPlace(bt, day, cursor, mins, capToday, tod) {
					break
				}
				block, rest, ok := p.allocate(bt, cursor, mins, dem, capToday, scheduled)
				if !ok {
					break
				}
				blocks = append(blocks, block)
				cursor = rest
			}
		}
	}

	return domain.DayPlan{
		Date:   day.Format("2006-01-02"),
		Blocks: blocks,
		Counts: capToday,
	}
}

// preferenceOrder returns the work buckets to try for a time of day.
func preferenceOrder(tod string) []domain.Bucket {
	switch tod {
	case domain.TODMorning, domain.TODMidMorning:
		return []domain.Bucket{domain.BucketClientDeepWork, domain.BucketSystemsDevelopment, domain.BucketAdminProcessing}
	case domain.TODEarlyAfternoon, domain.TODAfternoon:
		return []domain.Bucket{domain.BucketMarketingCreative, domain.BucketClientDeepWork, domain.BucketAdminProcessing}
	default:
		return []domain.Bucket{domain.BucketAdminProcessing, domain.BucketClientDeepWork}
	}
}

// candidateMinutes clamps the cursor length into the rule's duration bounds,
// never exceeding the cursor itself.
func candidateMinutes(rule domain.BlockRule, cursorMinutes int) int {
	candidate := rule.DurationMax
	if cursorMinutes < candidate {
		candidate = cursorMinutes
	}
	if candidate < rule.DurationMin {
		candidate = rule.DurationMin
	}
	if candidate > cursorMinutes {
		candidate = cursorMinutes
	}
	return candidate
}

func (p *Planner) canPlace(
	bt domain.Bucket,
	day time.Time,
	iv domain.Interval,
	minutes int,
	capToday map[domain.Bucket]int,
	tod string,
) bool {
	if capLimit, ok := p.cfg.Hard.CapBlocksPerDay[bt]; ok && capToday[bt] >= capLimit {
		return false
	}
	if bt == domain.BucketSystemsDevelopment && minutes < p.cfg.Hard.MinContiguousMinutesForSystems {
		return false
	}
	rule := p.cfg.Rules[bt]
	if bt == domain.BucketPersonal {
		return contains(rule.Placements, domain.TODPersonalWindow) &&
			inPersonalWindow(p.cfg, day, domain.Interval{Start: iv.Start, End: iv.Start.Add(time.Duration(minutes) * time.Minute)}, p.loc)
	}
	return contains(rule.Placements, tod) || contains(rule.Placements, domain.TODGaps)
}

// allocate carves a block off the cursor and drains bucket tasks into it in
// priority order. Returns ok=false when the bucket has no live tasks.
func (p *Planner) allocate(
	bt domain.Bucket,
	iv domain.Interval,
	minutes int,
	dem *demand,
	capToday map[domain.Bucket]int,
	scheduled map[domain.Bucket]int,
) (domain.Block, domain.Interval, bool) {
	tasks := dem.tasks[bt]
	if len(tasks) == 0 {
		return domain.Block{}, iv, false
	}

	take, rest := splitInterval(iv, minutes)
	remaining := take.Minutes()

	var ids, titles []string
	seen := make(map[string]bool)
	for _, t := range tasks {
		if remaining <= 0 {
			break
		}
		if t.RemainingMinutes <= 0 {
			continue
		}
		use := t.RemainingMinutes
		if use > remaining {
			use = remaining
		}
		t.RemainingMinutes -= use
		remaining -= use
		if !seen[t.ID] {
			ids = append(ids, t.ID)
			titles = append(titles, t.Title)
			seen[t.ID] = true
		}
	}
	if len(ids) == 0 {
		return domain.Block{}, iv, false
	}

	capToday[bt]++
	scheduled[bt]++
	dem.minutes[bt] -= take.Minutes()
	if dem.minutes[bt] < 0 {
		dem.minutes[bt] = 0
	}

	block := domain.Block{
		Start:       take.Start.UTC(),
		End:         take.End.UTC(),
		Bucket:      bt,
		Summary:     SummaryFor(bt, take.Minutes(), titles),
		Description: DescriptionFor(bt, ids, titles),
		TaskIDs:     ids,
		TaskTitles:  titles,
	}
	return block, rest, true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// SummaryFor renders the block's calendar title.
func SummaryFor(bt domain.Bucket, minutes int, titles []string) string {
	label := "[BLOCK] " + bt.Label()
	dur := formatDuration(minutes)
	if len(titles) == 0 {
		return fmt.Sprintf("%s (%s)", label, dur)
	}
	title := titles[0]
	if len(titles) > 1 {
		title = fmt.Sprintf("%s +%d more", titles[0], len(titles)-1)
	}
	return fmt.Sprintf("%s: %s (%s)", label, title, dur)
}

// DescriptionFor renders the block's calendar description with task ids for
// traceability.
func DescriptionFor(bt domain.Bucket, ids, titles []string) string {
	lines := []string{"Auto-generated contextual block.", fmt.Sprintf("Block Type: %s", bt)}
	if len(titles) > 0 {
		shown := make([]string, 0, len(titles))
		for i, title := range titles {
			shown = append(shown, fmt.Sprintf("- %s  [id:%s]", title, ids[i]))
		}
		lines = append(lines, "Tasks:\n"+strings.Join(shown, "\n"))
	}
	return strings.Join(lines, "\n")
}

func formatDuration(minutes int) string {
	h, m := minutes/60, minutes%60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
