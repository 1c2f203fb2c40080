package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CursorStore = (*CursorRepo)(nil)

// CursorRepo is the SQLite implementation of the CursorStore port interface.
type CursorRepo struct {
	db *DB
}

// NewCursorRepo creates a new CursorRepo backed by the given DB.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

// GetCursor returns the stored cursor, or nil, nil if none exists.
func (r *CursorRepo) GetCursor(ctx context.Context, accountID string) (*model.SyncCursor, error) {
	const query = `SELECT account_id, cursor, updated_at FROM sync_cursors WHERE account_id = ?`

	var c model.SyncCursor
	var updatedAt string

	err := r.db.Reader.QueryRowContext(ctx, query, accountID).Scan(&c.AccountID, &c.Cursor, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor for account %s: %w", accountID, err)
	}

	c.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &c, nil
}

// AdvanceCursor moves the cursor from `from` to `to`. A missing row counts as
// the empty cursor.
func (r *CursorRepo) AdvanceCursor(ctx context.Context, accountID, from, to string) error {
	const insertQuery = `
		INSERT INTO sync_cursors (account_id, cursor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			cursor = excluded.cursor,
			updated_at = excluded.updated_at
		WHERE sync_cursors.cursor = ''
	`
	const updateQuery = `
		UPDATE sync_cursors
		SET cursor = ?, updated_at = ?
		WHERE account_id = ? AND cursor = ?
	`

	now := formatTime(time.Now())

	var result sql.Result
	var err error
	if from == "" {
		result, err = r.db.Writer.ExecContext(ctx, insertQuery, accountID, to, now)
	} else {
		result, err = r.db.Writer.ExecContext(ctx, updateQuery, to, now, accountID, from)
	}
	if err != nil {
		return fmt.Errorf("advance cursor for account %s: %w", accountID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("advance cursor for account %s from %q: %w", accountID, from, driven.ErrCursorConflict)
	}

	return nil
}
