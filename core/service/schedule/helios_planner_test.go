package schedule

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"helios_server/core/domain"
)

// monday is a fixed Monday used across planner tests.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func noBusy(ctx context.Context, day time.Time) ([]domain.Interval, error) {
	return nil, nil
}

func bigTasks(bucket domain.Bucket, n int) []domain.Task {
	tasks := make([]domain.Task, 0, n)
	for i := 0; i < n; i++ {
		tasks = append(tasks, domain.Task{
			ID:               string(bucket) + "-" + string(rune('a'+i)),
			Title:            string(bucket) + " task",
			Bucket:           bucket,
			RemainingMinutes: 600,
		})
	}
	return tasks
}

func plentyOfWork() map[domain.Bucket][]domain.Task {
	grouped := make(map[domain.Bucket][]domain.Task)
	for _, bt := range domain.AllBuckets {
		grouped[bt] = bigTasks(bt, 3)
	}
	return grouped
}

func TestPlanSystemsBlocksRespectMinContiguous(t *testing.T) {
	cfg := domain.DefaultSchedulerConfig()
	planner := NewPlanner(&cfg, time.UTC)

	// A standing 09:00-10:30 commitment pushes the first free cursor into
	// mid morning, where systems development may be placed.
	morningBusy := func(ctx context.Context, day time.Time) ([]domain.Interval, error) {
		return []domain.Interval{{
			Start: time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, time.UTC),
			End:   time.Date(day.Year(), day.Month(), day.Day(), 10, 30, 0, 0, time.UTC),
		}}, nil
	}

	grouped := map[domain.Bucket][]domain.Task{
		domain.BucketSystemsDevelopment: bigTasks(domain.BucketSystemsDevelopment, 2),
	}
	plan := planner.PlanWindow(context.Background(), monday, 7, morningBusy, grouped)

	found := 0
	for _, b := range plan.AllBlocks() {
		if b.Bucket == domain.BucketSystemsDevelopment {
			found++
			if mins := int(b.End.Sub(b.Start) / time.Minute); mins < cfg.Hard.MinContiguousMinutesForSystems {
				t.Errorf("systems block of %dm violates %dm contiguity", mins, cfg.Hard.MinContiguousMinutesForSystems)
			}
		}
	}
	if want := ScaledWeeklyTarget(cfg.WeeklyWeights[domain.BucketSystemsDevelopment], 7); found != want {
		t.Errorf("systems blocks = %d, want %d", found, want)
	}
}

func TestPlanPersonalBlocksStayInsideWindows(t *testing.T) {
	cfg := domain.DefaultSchedulerConfig()
	planner := NewPlanner(&cfg, time.UTC)

	plan := planner.PlanWindow(context.Background(), monday, 7, noBusy, plentyOfWork())

	checked := 0
	for _, dp := range plan.Days {
		day, _ := time.ParseInLocation("2006-01-02", dp.Date, time.UTC)
		for _, b := range dp.Blocks {
			if b.Bucket != domain.BucketPersonal {
				continue
			}
			checked++
			iv := domain.Interval{Start: b.Start, End: b.End}
			if !inPersonalWindow(&cfg, day, iv, time.UTC) {
				t.Errorf("personal block %v..%v on %s escapes the configured windows", b.Start, b.End, dp.Date)
			}
		}
	}
	if checked == 0 {
		t.Error("expected personal blocks to be planned")
	}
}

func TestPlanHonorsDailyCaps(t *testing.T) {
	cfg := domain.DefaultSchedulerConfig()
	planner := NewPlanner(&cfg, time.UTC)

	plan := planner.PlanWindow(context.Background(), monday, 7, noBusy, plentyOfWork())

	for _, dp := range plan.Days {
		perDay := make(map[domain.Bucket]int)
		for _, b := range dp.Blocks {
			perDay[b.Bucket]++
		}
		for bt, capLimit := range cfg.Hard.CapBlocksPerDay {
			if perDay[bt] > capLimit {
				t.Errorf("%s: %d %s blocks exceeds daily cap %d", dp.Date, perDay[bt], bt, capLimit)
			}
		}
	}
}

func TestPlanHonorsScaledWeeklyTargets(t *testing.T) {
	cfg := domain.DefaultSchedulerConfig()
	planner := NewPlanner(&cfg, time.UTC)

	const days = 14
	plan := planner.PlanWindow(context.Background(), monday, days, noBusy, plentyOfWork())

	totals := make(map[domain.Bucket]int)
	for _, b := range plan.AllBlocks() {
		totals[b.Bucket]++
	}
	for _, bt := range domain.AllBuckets {
		limit := ScaledWeeklyTarget(cfg.WeeklyWeights[bt], days)
		if totals[bt] > limit {
			t.Errorf("%s: %d blocks exceeds scaled target %d", bt, totals[bt], limit)
		}
	}

	// weekly_weights[personal]=4 over 14 days caps at 8.
	if totals[domain.BucketPersonal] > 8 {
		t.Errorf("personal blocks = %d, want at most 8", totals[domain.BucketPersonal])
	}
}

func TestPlanWeekendHasNoWorkBlocks(t *testing.T) {
	cfg := domain.DefaultSchedulerConfig()
	planner := NewPlanner(&cfg, time.UTC)

	saturday := monday.AddDate(0, 0, 5)
	plan := planner.PlanWindow(context.Background(), saturday, 2, noBusy, plentyOfWork())

	for _, dp := range plan.Days {
		for _, b := range dp.Blocks {
			if b.Bucket != domain.BucketPersonal {
				t.Errorf("%s: weekend produced %s block", dp.Date, b.Bucket)
			}
		}
		perDay := 0
		for _, b := range dp.Blocks {
			if b.Bucket == domain.BucketPersonal {
				perDay++
			}
		}
		if capLimit := cfg.Hard.CapBlocksPerDay[domain.BucketPersonal]; perDay > capLimit {
			t.Errorf("%s: %d personal blocks exceeds cap %d", dp.Date, perDay, capLimit)
		}
	}
}

func TestPlanNinetyMinuteMorningFallsBackToAdmin(t *testing.T) {
	cfg := domain.DefaultSchedulerConfig()
	// Core window shrunk to a single 90-minute morning interval.
	cfg.CoreStart = domain.NewClockTime(9, 0)
	cfg.CoreEnd = domain.NewClockTime(10, 30)

	grouped := map[domain.Bucket][]domain.Task{
		domain.BucketSystemsDevelopment: bigTasks(domain.BucketSystemsDevelopment, 1),
		domain.BucketAdminProcessing:    bigTasks(domain.BucketAdminProcessing, 1),
	}

	planner := NewPlanner(&cfg, time.UTC)
	plan := planner.PlanWindow(context.Background(), monday, 1, noBusy, grouped)

	var systems, admin int
	for _, b := range plan.AllBlocks() {
		switch b.Bucket {
		case domain.BucketSystemsDevelopment:
			systems++
		case domain.BucketAdminProcessing:
			admin++
		}
	}
	if systems != 0 {
		t.Errorf("90-minute interval produced %d systems blocks, want 0", systems)
	}
	if admin == 0 {
		t.Error("expected admin fallback block in the 90-minute interval")
	}
}

func TestPlanExactDurationMinIsPlaced(t *testing.T) {
	cfg := domain.DefaultSchedulerConfig()
	// Free interval exactly equal to client deep work's duration_min.
	cfg.CoreStart = domain.NewClockTime(9, 0)
	cfg.CoreEnd = domain.NewClockTime(10, 30)

	grouped := map[domain.Bucket][]domain.Task{
		domain.BucketClientDeepWork: bigTasks(domain.BucketClientDeepWork, 1),
	}

	planner := NewPlanner(&cfg, time.UTC)
	plan := planner.PlanWindow(context.Background(), monday, 1, noBusy, grouped)

	blocks := plan.AllBlocks()
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	if blocks[0].Bucket != domain.BucketClientDeepWork {
		t.Errorf("bucket = %s, want client_deep_work", blocks[0].Bucket)
	}
	if mins := int(blocks[0].End.Sub(blocks[0].Start) / time.Minute); mins != 90 {
		t.Errorf("block length = %dm, want 90m", mins)
	}
}

func TestPlanSkipsDayWhenFixedEventsFail(t *testing.T) {
	cfg := domain.DefaultSchedulerConfig()
	planner := NewPlanner(&cfg, time.UTC)

	calls := 0
	flaky := func(ctx context.Context, day time.Time) ([]domain.Interval, error) {
		calls++
		if calls == 1 {
			return nil, context.DeadlineExceeded
		}
		return nil, nil
	}

	plan := planner.PlanWindow(context.Background(), monday, 3, flaky, plentyOfWork())
	if len(plan.Days) != 2 {
		t.Errorf("got %d planned days, want 2 (first skipped)", len(plan.Days))
	}
}

func TestPlanBusyDayShrinksFreeTime(t *testing.T) {
	cfg := domain.DefaultSchedulerConfig()
	planner := NewPlanner(&cfg, time.UTC)

	allDayBusy := func(ctx context.Context, day time.Time) ([]domain.Interval, error) {
		return []domain.Interval{{
			Start: time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
			End:   time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 0, 0, time.UTC),
		}}, nil
	}

	plan := planner.PlanWindow(context.Background(), monday, 1, allDayBusy, plentyOfWork())
	if n := len(plan.AllBlocks()); n != 0 {
		t.Errorf("fully busy day produced %d blocks, want 0", n)
	}
}

func TestPlanDeterministic(t *testing.T) {
	cfg := domain.DefaultSchedulerConfig()
	planner := NewPlanner(&cfg, time.UTC)

	a := planner.PlanWindow(context.Background(), monday, 7, noBusy, plentyOfWork())
	b := planner.PlanWindow(context.Background(), monday, 7, noBusy, plentyOfWork())
	if !reflect.DeepEqual(a, b) {
		t.Error("identical inputs produced different plans")
	}
}

func TestSummaryFormats(t *testing.T) {
	tests := []struct {
		name    string
		bucket  domain.Bucket
		minutes int
		titles  []string
		want    string
	}{
		{"no tasks", domain.BucketPersonal, 60, nil, "[BLOCK] Personal (1h)"},
		{"one task", domain.BucketClientDeepWork, 90, []string{"Audit"}, "[BLOCK] Client Deep Work: Audit (1h 30m)"},
		{"many tasks", domain.BucketAdminProcessing, 45, []string{"Invoices", "Filing", "Email"},
			"[BLOCK] Admin Processing: Invoices +2 more (0h 45m)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SummaryFor(tt.bucket, tt.minutes, tt.titles); got != tt.want {
				t.Errorf("SummaryFor = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDescriptionListsTaskIDs(t *testing.T) {
	got := DescriptionFor(domain.BucketClientDeepWork, []string{"T1", "T2"}, []string{"Audit", "Review"})
	for _, want := range []string{"- Audit  [id:T1]", "- Review  [id:T2]", "Block Type: client_deep_work"} {
		if !strings.Contains(got, want) {
			t.Errorf("description missing %q:\n%s", want, got)
		}
	}
}
