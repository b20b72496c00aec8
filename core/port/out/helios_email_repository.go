package out

import (
	"context"
	"time"

	"helios_server/core/domain"
)

// EmailTaskRepository defines the outbound port for tasks, the processed
// ledger and thread mappings.
type EmailTaskRepository interface {
	// GetProcessed returns the ledger row for a message id, nil when absent.
	GetProcessed(ctx context.Context, messageID string) (*domain.ProcessedEmail, error)

	// RecordProcessed writes a ledger row on its own (rejection, dry run).
	RecordProcessed(ctx context.Context, p *domain.ProcessedEmail) error

	// CreateTask inserts the task, optional meta and ledger row in one
	// transaction. A unique violation on the ledger surfaces as conflict.
	CreateTask(ctx context.Context, task *domain.EmailTask, meta *domain.TaskMeta, ledger *domain.ProcessedEmail) error

	GetTask(ctx context.Context, id string) (*domain.EmailTask, error)
	ListLatest(ctx context.Context, filter *domain.EmailTaskFilter) ([]*domain.EmailTask, int, error)

	GetTaskMeta(ctx context.Context, taskID string) (*domain.TaskMeta, error)
	UpsertTaskMeta(ctx context.Context, meta *domain.TaskMeta) error

	// Thread mode support.
	GetThreadTask(ctx context.Context, threadID string) (*domain.ThreadTask, error)
	AnnotateThreadTask(ctx context.Context, threadID, taskID, note string, lastEmailAt time.Time, ledger *domain.ProcessedEmail) error
}
