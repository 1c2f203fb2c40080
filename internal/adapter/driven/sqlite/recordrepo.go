package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RecordStore = (*RecordRepo)(nil)

// RecordRepo is the SQLite implementation of the RecordStore port interface.
type RecordRepo struct {
	db *DB
}

// NewRecordRepo creates a new RecordRepo backed by the given DB.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

// upsertRecordQuery only touches a row when a mirrored field differs or the
// row is tombstoned, so replaying a page leaves created_at and updated_at
// unchanged. Rows owned by another account are never overwritten.
const upsertRecordQuery = `
	INSERT INTO records (
		record_id, account_id, sub_account_id, amount, currency, occurred_on,
		display_name, pending, tags, deleted_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
	ON CONFLICT(record_id) DO UPDATE SET
		sub_account_id = excluded.sub_account_id,
		amount = excluded.amount,
		currency = excluded.currency,
		occurred_on = excluded.occurred_on,
		display_name = excluded.display_name,
		pending = excluded.pending,
		tags = excluded.tags,
		deleted_at = NULL,
		updated_at = excluded.updated_at
	WHERE records.account_id = excluded.account_id
	  AND (records.deleted_at IS NOT NULL
	    OR records.sub_account_id IS NOT excluded.sub_account_id
	    OR records.amount IS NOT excluded.amount
	    OR records.currency IS NOT excluded.currency
	    OR records.occurred_on IS NOT excluded.occurred_on
	    OR records.display_name IS NOT excluded.display_name
	    OR records.pending IS NOT excluded.pending
	    OR records.tags IS NOT excluded.tags)
`

// UpsertRecords writes all records in a single transaction. Every record
// ends live regardless of its prior state.
func (r *RecordRepo) UpsertRecords(ctx context.Context, accountID string, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}

	now := formatTime(time.Now())

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertRecordQuery)
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			rec = rec.Revived()

			tags, err := json.Marshal(rec.Tags)
			if err != nil {
				return fmt.Errorf("marshal tags for record %s: %w", rec.ID, err)
			}

			_, err = stmt.ExecContext(ctx,
				rec.ID, accountID, rec.SubAccountID, rec.Amount.String(), rec.Currency,
				rec.OccurredOn.String(), rec.DisplayName, boolToInt(rec.Pending), string(tags),
				now, now,
			)
			if err != nil {
				return fmt.Errorf("upsert record %s: %w", rec.ID, err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert %d records for account %s: %w", len(records), accountID, err)
	}

	return nil
}

// TombstoneRecords marks the listed live records as deleted in a single
// transaction and returns how many were tombstoned.
func (r *RecordRepo) TombstoneRecords(ctx context.Context, accountID string, recordIDs []string, at time.Time) (int, error) {
	const query = `
		UPDATE records
		SET deleted_at = ?, updated_at = ?
		WHERE account_id = ? AND record_id = ? AND deleted_at IS NULL
	`

	if len(recordIDs) == 0 {
		return 0, nil
	}

	deletedAt := formatTime(at)
	now := formatTime(time.Now())
	var total int64

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare tombstone: %w", err)
		}
		defer stmt.Close()

		for _, id := range recordIDs {
			result, err := stmt.ExecContext(ctx, deletedAt, now, accountID, id)
			if err != nil {
				return fmt.Errorf("tombstone record %s: %w", id, err)
			}

			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("check rows affected: %w", err)
			}
			total += n
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("tombstone records for account %s: %w", accountID, err)
	}

	return int(total), nil
}

// GetRecord returns a record by ID, or nil, nil if it does not exist.
func (r *RecordRepo) GetRecord(ctx context.Context, recordID string) (*model.Record, error) {
	const query = `
		SELECT record_id, account_id, sub_account_id, amount, currency, occurred_on,
		       display_name, pending, tags, deleted_at, created_at, updated_at
		FROM records
		WHERE record_id = ?
	`

	rec, err := scanRecord(r.db.Reader.QueryRowContext(ctx, query, recordID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", recordID, err)
	}

	return rec, nil
}

// ListRecords returns the account's records, newest first.
func (r *RecordRepo) ListRecords(ctx context.Context, accountID string, includeDeleted bool) ([]model.Record, error) {
	query := `
		SELECT record_id, account_id, sub_account_id, amount, currency, occurred_on,
		       display_name, pending, tags, deleted_at, created_at, updated_at
		FROM records
		WHERE account_id = ?
	`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY occurred_on DESC, record_id`

	rows, err := r.db.Reader.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("query records for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return records, nil
}

func scanRecord(s scanner) (*model.Record, error) {
	var rec model.Record
	var amount, occurredOn, tags, createdAt, updatedAt string
	var pending int
	var deletedAt sql.NullString

	err := s.Scan(
		&rec.ID, &rec.AccountID, &rec.SubAccountID, &amount, &rec.Currency, &occurredOn,
		&rec.DisplayName, &pending, &tags, &deletedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Pending = pending != 0

	rec.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}

	rec.OccurredOn, err = civil.ParseDate(occurredOn)
	if err != nil {
		return nil, fmt.Errorf("parse occurred_on: %w", err)
	}

	rec.Tags = []string{}
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}

	if deletedAt.Valid {
		t, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse deleted_at: %w", err)
		}
		rec.DeletedAt = &t
	}

	rec.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	rec.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &rec, nil
}
