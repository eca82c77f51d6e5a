package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/tcdent/codey/pkg/models"
)

func setupMockStore(t *testing.T) (sqlmock.Sqlmock, *SQLiteStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return mock, &SQLiteStore{db: db}
}

func TestSQLiteStore_Create(t *testing.T) {
	now := time.Now()
	result := &models.ToolResult{ToolCallID: "call-1", Content: "ok"}
	resultJSON, _ := json.Marshal(result)

	tests := []struct {
		name      string
		job       *Job
		setupMock func(sqlmock.Sqlmock)
		wantErr   bool
	}{
		{
			name: "successful create",
			job: &Job{
				ID:         "job-1",
				ToolName:   "grep",
				ToolCallID: "call-1",
				Status:     StatusQueued,
				CreatedAt:  now,
				Result:     result,
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO tool_jobs").
					WithArgs(
						"job-1",
						"grep",
						"call-1",
						"queued",
						sqlmock.AnyArg(),
						sqlmock.AnyArg(),
						sqlmock.AnyArg(),
						resultJSON,
						sqlmock.AnyArg(),
					).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name: "nil job is a no-op",
			job:  nil,
			setupMock: func(mock sqlmock.Sqlmock) {
			},
		},
		{
			name: "database error propagates",
			job: &Job{
				ID:        "job-2",
				ToolName:  "grep",
				Status:    StatusQueued,
				CreatedAt: now,
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO tool_jobs").
					WillReturnError(errors.New("disk full"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, store := setupMockStore(t)
			tt.setupMock(mock)

			err := store.Create(context.Background(), tt.job)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Create() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestSQLiteStore_Update(t *testing.T) {
	mock, store := setupMockStore(t)
	job := &Job{ID: "job-1", ToolName: "grep", ToolCallID: "call-1", Status: StatusSucceeded, CreatedAt: time.Now()}

	mock.ExpectExec("UPDATE tool_jobs").
		WithArgs("grep", "call-1", "succeeded", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), nil, sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Update(context.Background(), job); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLiteStore_Get(t *testing.T) {
	now := time.Now()
	result := &models.ToolResult{ToolCallID: "call-1", Content: "ok"}
	resultJSON, _ := json.Marshal(result)

	t.Run("found", func(t *testing.T) {
		mock, store := setupMockStore(t)
		rows := sqlmock.NewRows([]string{
			"id", "tool_name", "tool_call_id", "status", "created_at", "started_at", "finished_at", "result", "error_message",
		}).AddRow("job-1", "grep", "call-1", "succeeded", now, now, now, resultJSON, nil)
		mock.ExpectQuery("SELECT .* FROM tool_jobs WHERE id = ?").WithArgs("job-1").WillReturnRows(rows)

		job, err := store.Get(context.Background(), "job-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if job == nil || job.ID != "job-1" || job.Status != StatusSucceeded {
			t.Fatalf("Get() = %+v, want job-1/succeeded", job)
		}
		if job.Result == nil || job.Result.Content != "ok" {
			t.Fatalf("Get() result = %+v, want decoded ToolResult", job.Result)
		}
	})

	t.Run("not found", func(t *testing.T) {
		mock, store := setupMockStore(t)
		mock.ExpectQuery("SELECT .* FROM tool_jobs WHERE id = ?").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		job, err := store.Get(context.Background(), "missing")
		if err != nil {
			t.Fatalf("Get() error = %v, want nil", err)
		}
		if job != nil {
			t.Fatalf("Get() = %+v, want nil", job)
		}
	})
}

func TestSQLiteStore_List(t *testing.T) {
	mock, store := setupMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "tool_name", "tool_call_id", "status", "created_at", "started_at", "finished_at", "result", "error_message",
	}).
		AddRow("job-2", "grep", "call-2", "running", now, nil, nil, nil, nil).
		AddRow("job-1", "grep", "call-1", "succeeded", now.Add(-time.Minute), now, now, nil, nil)

	mock.ExpectQuery("SELECT .* FROM tool_jobs").WithArgs(10).WillReturnRows(rows)

	jobs, err := store.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("List() returned %d jobs, want 2", len(jobs))
	}
}

func TestSQLiteStore_Prune(t *testing.T) {
	mock, store := setupMockStore(t)
	mock.ExpectExec("DELETE FROM tool_jobs WHERE created_at").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	pruned, err := store.Prune(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 3 {
		t.Fatalf("Prune() = %d, want 3", pruned)
	}
}

func TestSQLiteStore_Cancel(t *testing.T) {
	mock, store := setupMockStore(t)
	mock.ExpectExec("UPDATE tool_jobs").
		WithArgs("failed", "job cancelled", sqlmock.AnyArg(), "job-1", "running", "queued").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Cancel(context.Background(), "job-1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLiteStore_Store_Interface(t *testing.T) {
	var _ Store = (*SQLiteStore)(nil)
}

func TestNullableJobString(t *testing.T) {
	if got := nullableJobString(""); got.Valid {
		t.Errorf("nullableJobString(\"\") = %+v, want invalid", got)
	}
	if got := nullableJobString("x"); !got.Valid || got.String != "x" {
		t.Errorf("nullableJobString(\"x\") = %+v, want valid x", got)
	}
}

func TestNullJobTime(t *testing.T) {
	if got := nullJobTime(time.Time{}); got.Valid {
		t.Errorf("nullJobTime(zero) = %+v, want invalid", got)
	}
	now := time.Now()
	if got := nullJobTime(now); !got.Valid || !got.Time.Equal(now) {
		t.Errorf("nullJobTime(now) = %+v, want valid %v", got, now)
	}
}
