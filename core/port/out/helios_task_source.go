package out

import (
	"context"

	"helios_server/core/domain"
)

// TaskSourcePort returns flexible tasks grouped by bucket, each bucket
// sorted by (priority ascending, due ascending).
type TaskSourcePort interface {
	GroupedTasks(ctx context.Context) (map[domain.Bucket][]domain.Task, error)
}
