package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"notesworker/models"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockDB(t *testing.T) (*DatabaseService, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewDatabaseServiceFromDB(db), mock
}

func TestDatabaseService_GetRecord(t *testing.T) {
	svc, mock := newMockDB(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "media_id", "source_link", "transcript", "notes", "contributors", "status", "error_message", "created_at", "updated_at"}).
		AddRow(int64(7), "X1", "https://scaler.com/class/X1", "t", "n", "{u1,u2}", "completed", "", now, now)
	mock.ExpectQuery("SELECT id, media_id").WithArgs("X1").WillReturnRows(rows)

	rec, err := svc.GetRecord(context.Background(), "X1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.Status != models.RecordCompleted || rec.Notes != "n" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(rec.Contributors) != 2 || !rec.HasContributor("u2") {
		t.Fatalf("unexpected contributors %v", rec.Contributors)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDatabaseService_GetRecordNotFound(t *testing.T) {
	svc, mock := newMockDB(t)
	mock.ExpectQuery("SELECT id, media_id").WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := svc.GetRecord(context.Background(), "nope")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDatabaseService_SaveCompleted(t *testing.T) {
	svc, mock := newMockDB(t)

	mock.ExpectExec("INSERT INTO lecture_notes").
		WithArgs("X1", "link", "transcript", "notes", "u1", "completed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := svc.SaveCompleted(context.Background(), "X1", "link", "u1", models.JobResult{Transcript: "transcript", Notes: "notes"})
	if err != nil {
		t.Fatalf("SaveCompleted failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDatabaseService_GetRequesterNotFound(t *testing.T) {
	svc, mock := newMockDB(t)
	mock.ExpectQuery("SELECT id, is_premium").WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := svc.GetRequester(context.Background(), "ghost")
	if !errors.Is(err, models.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestDatabaseService_GetRequester(t *testing.T) {
	svc, mock := newMockDB(t)
	mock.ExpectQuery("SELECT id, is_premium").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_premium", "notes_generated", "free_trials"}).AddRow("u1", false, 4, 1))

	r, err := svc.GetRequester(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetRequester failed: %v", err)
	}
	if r.NotesGenerated != 4 || r.FreeTrials != 1 || r.IsPremium {
		t.Fatalf("unexpected requester %+v", r)
	}
}
