package domain

import (
	"time"
)

// Bucket is the closed set of work/personal categories a task or scheduled
// block belongs to.
type Bucket string

const (
	BucketClientDeepWork     Bucket = "client_deep_work"
	BucketSystemsDevelopment Bucket = "systems_development"
	BucketMarketingCreative  Bucket = "marketing_creative"
	BucketAdminProcessing    Bucket = "admin_processing"
	BucketPersonal           Bucket = "personal"
)

// AllBuckets in stable order.
var AllBuckets = []Bucket{
	BucketClientDeepWork,
	BucketSystemsDevelopment,
	BucketMarketingCreative,
	BucketAdminProcessing,
	BucketPersonal,
}

// Label returns the human form used in block summaries.
func (b Bucket) Label() string {
	switch b {
	case BucketClientDeepWork:
		return "Client Deep Work"
	case BucketSystemsDevelopment:
		return "Systems Development"
	case BucketMarketingCreative:
		return "Marketing Creative"
	case BucketAdminProcessing:
		return "Admin Processing"
	case BucketPersonal:
		return "Personal"
	default:
		return string(b)
	}
}

// Valid reports whether b is one of the five known buckets.
func (b Bucket) Valid() bool {
	switch b {
	case BucketClientDeepWork, BucketSystemsDevelopment, BucketMarketingCreative,
		BucketAdminProcessing, BucketPersonal:
		return true
	}
	return false
}

// Time-of-day categories used by placement rules.
const (
	TODMorning        = "morning"
	TODMidMorning     = "mid_morning"
	TODEarlyAfternoon = "early_afternoon"
	TODAfternoon      = "afternoon"
	TODLateAfternoon  = "late_afternoon"
	TODGaps           = "gaps"
	TODPersonalWindow = "personal_window"
)

// ClockTime is a wall-clock time of day in minutes from midnight.
type ClockTime int

// NewClockTime builds a ClockTime from hours and minutes.
func NewClockTime(hour, min int) ClockTime {
	return ClockTime(hour*60 + min)
}

func (c ClockTime) Hour() int    { return int(c) / 60 }
func (c ClockTime) Minute() int  { return int(c) % 60 }
func (c ClockTime) Minutes() int { return int(c) }

// On anchors the clock time onto a calendar day in the given location.
func (c ClockTime) On(day time.Time, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour(), c.Minute(), 0, 0, loc)
}

// Window is a [Start, End) wall-clock span within a day.
type Window struct {
	Start ClockTime
	End   ClockTime
}

// BlockRule configures one bucket's duration bounds and allowed placements.
type BlockRule struct {
	DurationMin int
	DurationMax int
	Placements  []string
}

// HardRules are the scheduler's inviolable constraints.
type HardRules struct {
	MinContiguousMinutesForSystems int
	CapBlocksPerDay                map[Bucket]int
}

// SchedulerConfig drives block placement.
type SchedulerConfig struct {
	CoreStart ClockTime
	CoreEnd   ClockTime

	WeeklyWeights map[Bucket]int
	Rules         map[Bucket]BlockRule
	Hard          HardRules

	// Personal windows per weekday, keyed Monday=0..Sunday=6.
	PersonalWindows map[int][]Window

	// RespectBusy makes the planner route blocks around fixed-calendar
	// events. Off, the core window is treated as fully free.
	RespectBusy bool

	// Reflow fallbacks applied when a request leaves them unset.
	ReflowMinChunkMinutes   int
	ReflowPerTaskCapMinutes int
}

// DefaultSchedulerConfig returns the built-in configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	weekday := []Window{
		{NewClockTime(7, 0), NewClockTime(8, 30)},
		{NewClockTime(12, 30), NewClockTime(13, 30)},
		{NewClockTime(17, 30), NewClockTime(20, 0)},
	}
	return SchedulerConfig{
		CoreStart:               NewClockTime(9, 0),
		CoreEnd:                 NewClockTime(18, 0),
		RespectBusy:             true,
		ReflowMinChunkMinutes:   15,
		ReflowPerTaskCapMinutes: 60,
		WeeklyWeights: map[Bucket]int{
			BucketClientDeepWork:     7,
			BucketSystemsDevelopment: 3,
			BucketMarketingCreative:  2,
			BucketAdminProcessing:    5,
			BucketPersonal:           4,
		},
		Rules: map[Bucket]BlockRule{
			BucketClientDeepWork:     {90, 120, []string{TODMorning}},
			BucketSystemsDevelopment: {120, 180, []string{TODMidMorning, TODEarlyAfternoon}},
			BucketMarketingCreative:  {60, 90, []string{TODAfternoon}},
			BucketAdminProcessing:    {30, 60, []string{TODLateAfternoon, TODGaps}},
			BucketPersonal:           {30, 90, []string{TODPersonalWindow}},
		},
		Hard: HardRules{
			MinContiguousMinutesForSystems: 120,
			CapBlocksPerDay: map[Bucket]int{
				BucketSystemsDevelopment: 1,
				BucketAdminProcessing:    2,
				BucketPersonal:           2,
			},
		},
		PersonalWindows: map[int][]Window{
			0: weekday,
			1: weekday,
			2: weekday,
			3: weekday,
			4: weekday,
			5: {
				{NewClockTime(8, 0), NewClockTime(12, 0)},
				{NewClockTime(16, 0), NewClockTime(20, 0)},
			},
			6: {
				{NewClockTime(9, 0), NewClockTime(12, 0)},
				{NewClockTime(16, 0), NewClockTime(19, 0)},
			},
		},
	}
}

// Task is a flexible unit of work the scheduler packs into blocks.
// Priority is optional; lower is more urgent.
type Task struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Bucket           Bucket     `json:"bucket"`
	RemainingMinutes int        `json:"remaining_minutes"`
	Due              *time.Time `json:"due,omitempty"`
	Priority         *int       `json:"priority,omitempty"`
}

// Interval is a half-open [Start, End) span of absolute time.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Minutes returns the interval length in whole minutes.
func (iv Interval) Minutes() int {
	return int(iv.End.Sub(iv.Start) / time.Minute)
}

// Block is a scheduler-produced calendar block.
type Block struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Bucket      Bucket    `json:"bucket"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	TaskIDs     []string  `json:"task_ids"`
	TaskTitles  []string  `json:"task_titles"`
}

// DayPlan holds one day's blocks and per-bucket counts.
type DayPlan struct {
	Date   string         `json:"date"`
	Blocks []Block        `json:"blocks"`
	Counts map[Bucket]int `json:"counts"`
}

// Plan is the scheduler's output for a window.
type Plan struct {
	Start  string         `json:"start"`
	Days   []DayPlan      `json:"days"`
	Totals map[Bucket]int `json:"totals"`
}

// AllBlocks flattens the plan in day order.
func (p *Plan) AllBlocks() []Block {
	var blocks []Block
	for _, d := range p.Days {
		blocks = append(blocks, d.Blocks...)
	}
	return blocks
}

// CalendarEvent is the adapter-level view of a provider event. Private holds
// the provider's extendedProperties.private map carrying idempotency markers.
type CalendarEvent struct {
	ID          string            `json:"id"`
	CalendarID  string            `json:"calendar_id,omitempty"`
	Summary     string            `json:"summary"`
	Description string            `json:"description,omitempty"`
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	HTMLLink    string            `json:"html_link,omitempty"`
	Private     map[string]string `json:"private,omitempty"`
}

// Private property keys stamped onto generated calendar events.
const (
	PropBlockType = "helios_block_type"
	PropTaskIDs   = "helios_task_ids"
	PropGenerated = "helios_generated"
	PropVersion   = "helios_version"
	PropIdem      = "helios_idem"
)

// ScheduleBlock is the API view of a block on /schedule/today.
type ScheduleBlock struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Context         string            `json:"context"`
	CalendarEventID string            `json:"calendarEventId"`
	CalendarURL     string            `json:"calendarUrl,omitempty"`
	Start           string            `json:"start"`
	End             string            `json:"end"`
	AssignedTaskIDs []string          `json:"assignedTaskIds"`
	Notes           string            `json:"notes,omitempty"`
	Extended        map[string]string `json:"extended,omitempty"`
}

// DaySchedule is the /schedule/today payload.
type DaySchedule struct {
	Date     string          `json:"date"`
	Timezone string          `json:"timezone"`
	Blocks   []ScheduleBlock `json:"blocks"`
}

// ReflowResult reports the outcome of a reflow attempt.
type ReflowResult struct {
	Applied      bool      `json:"applied"`
	Reason       string    `json:"reason,omitempty"`
	ShortenedID  string    `json:"shortened_id,omitempty"`
	NewEventID   string    `json:"new_event_id,omitempty"`
	Bucket       Bucket    `json:"bucket,omitempty"`
	PulledTasks  []string  `json:"pulled_tasks,omitempty"`
	ReflowStart  time.Time `json:"reflow_start,omitempty"`
	ReflowEnd    time.Time `json:"reflow_end,omitempty"`
	FreedMinutes int       `json:"freed_minutes,omitempty"`
}
