// Package tasksource feeds the scheduler flexible tasks from the store.
package tasksource

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"helios_server/core/domain"
	"helios_server/core/port/out"
	"helios_server/pkg/apperr"
)

// Default remaining-minutes estimate when a task carries no sizing signal.
const defaultEstimateMinutes = 60

// Per-bucket estimates tuned to typical block sizes.
var bucketEstimates = map[domain.Bucket]int{
	domain.BucketClientDeepWork:     90,
	domain.BucketSystemsDevelopment: 120,
	domain.BucketMarketingCreative:  60,
	domain.BucketAdminProcessing:    30,
	domain.BucketPersonal:           45,
}

// StoreSource implements out.TaskSourcePort over email_tasks.
type StoreSource struct {
	db       *sqlx.DB
	spaceMap map[string]domain.Bucket
}

// NewStoreSource creates a task source. spaceMap routes a source label
// (lowercased) to a bucket for tasks whose client tags carry no bucket tag.
func NewStoreSource(db *sqlx.DB, spaceMap map[string]domain.Bucket) *StoreSource {
	normalized := make(map[string]domain.Bucket, len(spaceMap))
	for space, bucket := range spaceMap {
		normalized[strings.ToLower(space)] = bucket
	}
	return &StoreSource{db: db, spaceMap: normalized}
}

type sourceRow struct {
	ID          string         `db:"id"`
	Subject     string         `db:"subject"`
	SourceLabel sql.NullString `db:"source_label"`
	Priority    string         `db:"priority"`
	ClientTags  pq.StringArray `db:"client_tags"`
	TaskType    sql.NullString `db:"task_type"`
	DueAt       sql.NullTime   `db:"due_at"`
	FixedDate   sql.NullTime   `db:"fixed_date"`
}

// GroupedTasks returns open flexible tasks grouped by bucket, each bucket
// sorted by (priority ascending, due ascending). Fixed-date and
// calendar-blocked tasks belong to the fixed calendar, not the planner.
func (s *StoreSource) GroupedTasks(ctx context.Context) (map[domain.Bucket][]domain.Task, error) {
	query := `
		SELECT t.id, t.subject, t.source_label, t.priority,
		       COALESCE(c.tags, '{}') AS client_tags,
		       m.task_type, m.due_at, m.fixed_date
		FROM email_tasks t
		LEFT JOIN task_meta m ON m.task_id = t.id
		LEFT JOIN clients c ON c.id = t.client_id
		WHERE COALESCE(m.task_type, 'flexible') <> 'fixed_date'
		  AND COALESCE(m.calendar_blocked, false) = false
		ORDER BY t.created_at DESC
		LIMIT 500`

	var rows []sourceRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, apperr.DatabaseError("list schedulable tasks", err)
	}

	grouped := make(map[domain.Bucket][]domain.Task)
	for i := range rows {
		task := s.toTask(&rows[i])
		grouped[task.Bucket] = append(grouped[task.Bucket], task)
	}
	for bucket := range grouped {
		sortTasks(grouped[bucket])
	}
	return grouped, nil
}

func (s *StoreSource) toTask(row *sourceRow) domain.Task {
	bucket := s.bucketFor(row)

	task := domain.Task{
		ID:               row.ID,
		Title:            row.Subject,
		Bucket:           bucket,
		RemainingMinutes: estimateFor(bucket),
	}
	if p := priorityRank(row.Priority); p != 0 {
		task.Priority = &p
	}
	if row.DueAt.Valid {
		due := row.DueAt.Time.UTC()
		task.Due = &due
	} else if row.FixedDate.Valid {
		due := row.FixedDate.Time.UTC()
		task.Due = &due
	}
	return task
}

// bucketFor applies the assignment policy: canonical bucket tag on the
// client, then the space map keyed by source label, then admin by default.
func (s *StoreSource) bucketFor(row *sourceRow) domain.Bucket {
	for _, tag := range row.ClientTags {
		if b := domain.Bucket(strings.ToLower(strings.TrimSpace(tag))); b.Valid() {
			return b
		}
	}
	if row.SourceLabel.Valid {
		if b, ok := s.spaceMap[strings.ToLower(row.SourceLabel.String)]; ok {
			return b
		}
	}
	return domain.BucketAdminProcessing
}

func estimateFor(bucket domain.Bucket) int {
	if est, ok := bucketEstimates[bucket]; ok {
		return est
	}
	return defaultEstimateMinutes
}

// priorityRank maps the store's priority labels onto the scheduler's
// lower-is-more-urgent scale. Unknown labels get no priority.
func priorityRank(priority string) int {
	switch priority {
	case domain.PriorityHigh:
		return 1
	case domain.PriorityNormal:
		return 2
	case domain.PriorityLow:
		return 3
	}
	return 0
}

func sortTasks(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		pi, pj := rankOrLast(tasks[i].Priority), rankOrLast(tasks[j].Priority)
		if pi != pj {
			return pi < pj
		}
		di, dj := dueOrLast(tasks[i].Due), dueOrLast(tasks[j].Due)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

func rankOrLast(p *int) int {
	if p == nil {
		return int(^uint(0) >> 1)
	}
	return *p
}

var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

func dueOrLast(t *time.Time) time.Time {
	if t == nil {
		return farFuture
	}
	return *t
}

// Ensure StoreSource implements out.TaskSourcePort
var _ out.TaskSourcePort = (*StoreSource)(nil)
