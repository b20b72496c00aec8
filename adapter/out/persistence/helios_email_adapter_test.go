package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"helios_server/core/domain"
	"helios_server/pkg/apperr"
)

func TestRecordProcessedDuplicateIsConflict(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO processed_emails").
		WillReturnError(&pq.Error{Code: pgUniqueViolation})

	adapter := NewEmailAdapter(db)
	err := adapter.RecordProcessed(context.Background(), &domain.ProcessedEmail{
		MessageID: "rfc:<dup@acme.com>",
		Status:    domain.ProcessedRejected,
	})
	if !apperr.IsConflict(err) {
		t.Errorf("expected conflict for duplicate message id, got %v", err)
	}
}

func TestCreateTaskWritesTaskMetaAndLedgerInOneTx(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO email_tasks").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectExec("INSERT INTO task_meta").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO processed_emails").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	taskID := "rfc:<job@acme.com>"
	adapter := NewEmailAdapter(db)
	err := adapter.CreateTask(context.Background(),
		&domain.EmailTask{ID: taskID, Sender: "pm@acme.com", Subject: "Kickoff", Priority: domain.PriorityNormal},
		&domain.TaskMeta{TaskID: taskID, TaskType: domain.TaskTypeFixedDate, StartAt: &now},
		&domain.ProcessedEmail{MessageID: taskID, HeliosTaskID: &taskID, Status: domain.ProcessedCreated},
	)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateTaskDuplicateLedgerRollsBack(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO email_tasks").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectExec("INSERT INTO processed_emails").
		WillReturnError(&pq.Error{Code: pgUniqueViolation})
	mock.ExpectRollback()

	taskID := "rfc:<job@acme.com>"
	adapter := NewEmailAdapter(db)
	err := adapter.CreateTask(context.Background(),
		&domain.EmailTask{ID: taskID, Sender: "pm@acme.com", Subject: "Kickoff", Priority: domain.PriorityNormal},
		nil,
		&domain.ProcessedEmail{MessageID: taskID, HeliosTaskID: &taskID, Status: domain.ProcessedCreated},
	)
	if !apperr.IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateTaskSeedsThreadMapping(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO email_tasks").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectExec("INSERT INTO processed_emails").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO thread_tasks").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	taskID := "rfc:<first@acme.com>"
	adapter := NewEmailAdapter(db)
	err := adapter.CreateTask(context.Background(),
		&domain.EmailTask{ID: taskID, Sender: "pm@acme.com", Subject: "Kickoff", Priority: domain.PriorityNormal, ThreadID: "thr-1"},
		nil,
		&domain.ProcessedEmail{MessageID: taskID, HeliosTaskID: &taskID, Status: domain.ProcessedCreated},
	)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetProcessedReturnsNilWhenAbsent(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT \\* FROM processed_emails").
		WithArgs("rfc:<nope@acme.com>").
		WillReturnRows(sqlmock.NewRows([]string{"message_id", "helios_task_id", "status", "received_at", "processed_at"}))

	adapter := NewEmailAdapter(db)
	p, err := adapter.GetProcessed(context.Background(), "rfc:<nope@acme.com>")
	if err != nil {
		t.Fatalf("GetProcessed: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil ledger row, got %+v", p)
	}
}

func TestAnnotateThreadTaskAppendsNoteAndLedger(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE email_tasks").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO thread_tasks").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO processed_emails").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	taskID := "rfc:<first@acme.com>"
	adapter := NewEmailAdapter(db)
	err := adapter.AnnotateThreadTask(context.Background(),
		"thread-1", taskID, "Follow-up received", time.Now(),
		&domain.ProcessedEmail{MessageID: "rfc:<second@acme.com>", HeliosTaskID: &taskID, Status: domain.ProcessedCreated},
	)
	if err != nil {
		t.Fatalf("AnnotateThreadTask: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
