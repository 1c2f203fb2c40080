package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CursorStore = (*CursorRepo)(nil)

// CursorRepo is the PostgreSQL implementation of the CursorStore port interface.
type CursorRepo struct {
	db *DB
}

// NewCursorRepo creates a new CursorRepo backed by the given DB.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

func (r *CursorRepo) GetCursor(ctx context.Context, accountID string) (*model.SyncCursor, error) {
	const query = `SELECT account_id, cursor, updated_at FROM sync_cursors WHERE account_id = $1`

	var c model.SyncCursor
	err := r.db.Pool.QueryRow(ctx, query, accountID).Scan(&c.AccountID, &c.Cursor, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor for account %s: %w", accountID, err)
	}

	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// AdvanceCursor is a compare-and-set on the stored cursor. A missing row
// counts as the empty cursor.
func (r *CursorRepo) AdvanceCursor(ctx context.Context, accountID, from, to string) error {
	const insertQuery = `
		INSERT INTO sync_cursors (account_id, cursor, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE SET
			cursor = excluded.cursor,
			updated_at = excluded.updated_at
		WHERE sync_cursors.cursor = ''
	`
	const updateQuery = `
		UPDATE sync_cursors
		SET cursor = $1, updated_at = $2
		WHERE account_id = $3 AND cursor = $4
	`

	now := time.Now().UTC()

	var tag pgconn.CommandTag
	var err error
	if from == "" {
		tag, err = r.db.Pool.Exec(ctx, insertQuery, accountID, to, now)
	} else {
		tag, err = r.db.Pool.Exec(ctx, updateQuery, to, now, accountID, from)
	}
	if err != nil {
		return fmt.Errorf("advance cursor for account %s: %w", accountID, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("advance cursor for account %s from %q: %w", accountID, from, driven.ErrCursorConflict)
	}

	return nil
}
