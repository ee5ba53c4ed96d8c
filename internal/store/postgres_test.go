package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestClaimJobUsesSkipLocked(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	p := NewPostgres(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{
		"id", "workspace_id", "kind", "payload", "state", "attempts", "max_attempts", "run_at",
		"locked_at", "locked_by", "heartbeat_at", "last_error", "created_at", "updated_at",
	}).AddRow("job-1", "ws-1", "TRANSCRIBE", []byte(`{}`), "queued", 0, 3, now,
		nil, nil, nil, nil, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, err := p.ClaimJob(context.Background(), "worker-1", []Kind{KindTranscribe}, nil)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if job == nil || job.ID != "job-1" {
		t.Fatalf("expected job-1, got %+v", job)
	}
	if job.State != JobRunning {
		t.Fatalf("expected job to be marked running, got %v", job.State)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClaimJobNoEligibleRowsReturnsNil(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	p := NewPostgres(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "workspace_id", "kind", "payload", "state", "attempts", "max_attempts", "run_at",
			"locked_at", "locked_by", "heartbeat_at", "last_error", "created_at", "updated_at",
		}))
	mock.ExpectCommit()

	job, err := p.ClaimJob(context.Background(), "worker-1", nil, nil)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil job when nothing eligible, got %+v", job)
	}
}

func TestHeartbeatJobConflictWhenNotOwner(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	p := NewPostgres(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET heartbeat_at")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = p.HeartbeatJob(context.Background(), "job-1", "worker-2", time.Now().UTC())
	if _, ok := err.(ErrConflict); !ok {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRequeueDeadLetterRequiresDeadLetterState(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	p := NewPostgres(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET state = 'queued', attempts = 0")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = p.RequeueDeadLetter(context.Background(), "job-1", time.Now().UTC())
	if _, ok := err.(ErrConflict); !ok {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
