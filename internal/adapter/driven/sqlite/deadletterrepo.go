package sqlite

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.DeadLetterStore = (*DeadLetterRepo)(nil)

// DeadLetterRepo is the SQLite implementation of the DeadLetterStore port interface.
type DeadLetterRepo struct {
	db *DB
}

// NewDeadLetterRepo creates a new DeadLetterRepo backed by the given DB.
func NewDeadLetterRepo(db *DB) *DeadLetterRepo {
	return &DeadLetterRepo{db: db}
}

// Record stores a failed job.
func (r *DeadLetterRepo) Record(ctx context.Context, dl model.DeadLetter) error {
	const query = `
		INSERT INTO dead_letters (id, job_id, kind, account_id, error, attempts, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Writer.ExecContext(ctx, query,
		dl.ID, dl.JobID, string(dl.Kind), dl.AccountID, dl.Error, dl.Attempts, formatTime(dl.FailedAt),
	)
	if err != nil {
		return fmt.Errorf("record dead letter for job %s: %w", dl.JobID, err)
	}

	return nil
}

// List returns at most limit dead letters, newest first.
func (r *DeadLetterRepo) List(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	const query = `
		SELECT id, job_id, kind, account_id, error, attempts, failed_at
		FROM dead_letters
		ORDER BY failed_at DESC, id
		LIMIT ?
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var letters []model.DeadLetter
	for rows.Next() {
		var dl model.DeadLetter
		var kind, failedAt string

		if err := rows.Scan(&dl.ID, &dl.JobID, &kind, &dl.AccountID, &dl.Error, &dl.Attempts, &failedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}

		dl.Kind = model.JobKind(kind)
		if dl.FailedAt, err = parseTime(failedAt); err != nil {
			return nil, fmt.Errorf("parse failed_at: %w", err)
		}

		letters = append(letters, dl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}

	return letters, nil
}
