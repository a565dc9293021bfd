package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"notesworker/models"

	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS lecture_notes (
	id            BIGSERIAL PRIMARY KEY,
	media_id      TEXT NOT NULL UNIQUE,
	source_link   TEXT NOT NULL DEFAULT '',
	transcript    TEXT NOT NULL DEFAULT '',
	notes         TEXT NOT NULL DEFAULT '',
	contributors  TEXT[] NOT NULL DEFAULT '{}',
	status        TEXT NOT NULL DEFAULT 'processing',
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS users (
	id              TEXT PRIMARY KEY,
	is_premium      BOOLEAN NOT NULL DEFAULT FALSE,
	notes_generated INTEGER NOT NULL DEFAULT 0,
	free_trials     INTEGER NOT NULL DEFAULT 0
);`

type DatabaseService struct {
	db *sql.DB
}

func NewDatabaseService(databaseURL string) (*DatabaseService, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseService{db: db}, nil
}

// NewDatabaseServiceFromDB wraps an existing handle.
func NewDatabaseServiceFromDB(db *sql.DB) *DatabaseService {
	return &DatabaseService{db: db}
}

// Migrate creates the tables the worker writes to when they are missing.
func (d *DatabaseService) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (d *DatabaseService) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// GetRecord returns the record for mediaID or models.ErrNotFound.
func (d *DatabaseService) GetRecord(ctx context.Context, mediaID string) (*models.TranscriptNotesRecord, error) {
	query := `SELECT id, media_id, source_link, transcript, notes, contributors, status, error_message, created_at, updated_at
		FROM lecture_notes WHERE media_id = $1`

	var rec models.TranscriptNotesRecord
	var status string
	err := d.db.QueryRowContext(ctx, query, mediaID).Scan(
		&rec.ID,
		&rec.MediaID,
		&rec.SourceLink,
		&rec.Transcript,
		&rec.Notes,
		pq.Array(&rec.Contributors),
		&status,
		&rec.ErrorMessage,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %s: %w", mediaID, err)
	}
	rec.Status = models.RecordStatus(status)
	return &rec, nil
}

// MarkProcessing creates the record if needed and flags it as in progress.
// Completed content is left untouched.
func (d *DatabaseService) MarkProcessing(ctx context.Context, mediaID, sourceLink string) error {
	query := `INSERT INTO lecture_notes (media_id, source_link, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (media_id) DO UPDATE SET status = $3, error_message = '', updated_at = $4`
	_, err := d.db.ExecContext(ctx, query, mediaID, sourceLink, string(models.RecordProcessing), time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark %s processing: %w", mediaID, err)
	}
	return nil
}

// SaveCompleted upserts the transcript and notes, overwriting earlier content
// and appending requesterID to the contributors once.
func (d *DatabaseService) SaveCompleted(ctx context.Context, mediaID, sourceLink, requesterID string, result models.JobResult) error {
	query := `INSERT INTO lecture_notes (media_id, source_link, transcript, notes, contributors, status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, ARRAY[$5::text], $6, '', $7, $7)
		ON CONFLICT (media_id) DO UPDATE SET
			source_link = EXCLUDED.source_link,
			transcript = EXCLUDED.transcript,
			notes = EXCLUDED.notes,
			status = EXCLUDED.status,
			error_message = '',
			contributors = CASE
				WHEN $5::text = ANY(lecture_notes.contributors) THEN lecture_notes.contributors
				ELSE array_append(lecture_notes.contributors, $5::text)
			END,
			updated_at = EXCLUDED.updated_at`
	_, err := d.db.ExecContext(ctx, query,
		mediaID, sourceLink, result.Transcript, result.Notes, requesterID,
		string(models.RecordCompleted), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", mediaID, err)
	}
	return nil
}

// AddContributor appends requesterID to an existing record's contributors.
func (d *DatabaseService) AddContributor(ctx context.Context, mediaID, requesterID string) error {
	query := `UPDATE lecture_notes
		SET contributors = array_append(contributors, $1::text), updated_at = $2
		WHERE media_id = $3 AND NOT ($1::text = ANY(contributors))`
	_, err := d.db.ExecContext(ctx, query, requesterID, time.Now(), mediaID)
	if err != nil {
		return fmt.Errorf("failed to add contributor to %s: %w", mediaID, err)
	}
	return nil
}

func (d *DatabaseService) UpdateRecordError(ctx context.Context, mediaID string, errorMsg string) error {
	query := `UPDATE lecture_notes SET status = $1, error_message = $2, updated_at = $3 WHERE media_id = $4`
	_, err := d.db.ExecContext(ctx, query, string(models.RecordError), errorMsg, time.Now(), mediaID)
	return err
}

// GetRequester returns the user and billing state for id or
// models.ErrUserNotFound.
func (d *DatabaseService) GetRequester(ctx context.Context, id string) (*models.Requester, error) {
	query := `SELECT id, is_premium, notes_generated, free_trials FROM users WHERE id = $1`

	var r models.Requester
	err := d.db.QueryRowContext(ctx, query, id).Scan(&r.ID, &r.IsPremium, &r.NotesGenerated, &r.FreeTrials)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", id, err)
	}
	return &r, nil
}

func (d *DatabaseService) IncrementNotesGenerated(ctx context.Context, requesterID string) error {
	query := `UPDATE users SET notes_generated = notes_generated + 1 WHERE id = $1`
	_, err := d.db.ExecContext(ctx, query, requesterID)
	return err
}

func (d *DatabaseService) Close() error {
	return d.db.Close()
}
