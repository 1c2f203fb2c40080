package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RecordStore = (*RecordRepo)(nil)

// RecordRepo is the PostgreSQL implementation of the RecordStore port interface.
type RecordRepo struct {
	db *DB
}

// NewRecordRepo creates a new RecordRepo backed by the given DB.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

// The WHERE clause keeps a replayed page from touching unchanged rows and
// refuses to move a record between accounts.
const upsertRecordQuery = `
	INSERT INTO records (
		record_id, account_id, sub_account_id, amount, currency, occurred_on,
		display_name, pending, tags, deleted_at, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL, $10, $10)
	ON CONFLICT (record_id) DO UPDATE SET
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
	    OR records.sub_account_id IS DISTINCT FROM excluded.sub_account_id
	    OR records.amount IS DISTINCT FROM excluded.amount
	    OR records.currency IS DISTINCT FROM excluded.currency
	    OR records.occurred_on IS DISTINCT FROM excluded.occurred_on
	    OR records.display_name IS DISTINCT FROM excluded.display_name
	    OR records.pending IS DISTINCT FROM excluded.pending
	    OR records.tags IS DISTINCT FROM excluded.tags)
`

const selectRecordColumns = `
	SELECT record_id, account_id, sub_account_id, amount::text, currency, occurred_on,
	       display_name, pending, tags, deleted_at, created_at, updated_at
	FROM records
`

// UpsertRecords sends the whole page as one pgx batch inside a transaction.
func (r *RecordRepo) UpsertRecords(ctx context.Context, accountID string, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, rec := range records {
		rec = rec.Revived()
		batch.Queue(upsertRecordQuery,
			rec.ID, accountID, rec.SubAccountID, rec.Amount, rec.Currency,
			rec.OccurredOn.In(time.UTC), rec.DisplayName, rec.Pending, rec.Tags, now,
		)
	}

	err := r.db.withTx(ctx, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		for _, rec := range records {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("upsert record %s: %w", rec.ID, err)
			}
		}
		return results.Close()
	})
	if err != nil {
		return fmt.Errorf("upsert %d records for account %s: %w", len(records), accountID, err)
	}

	return nil
}

func (r *RecordRepo) TombstoneRecords(ctx context.Context, accountID string, recordIDs []string, at time.Time) (int, error) {
	const query = `
		UPDATE records
		SET deleted_at = $1, updated_at = $2
		WHERE account_id = $3 AND record_id = ANY($4) AND deleted_at IS NULL
	`

	if len(recordIDs) == 0 {
		return 0, nil
	}

	var total int64
	err := r.db.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, at.UTC(), time.Now().UTC(), accountID, recordIDs)
		if err != nil {
			return err
		}
		total = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("tombstone records for account %s: %w", accountID, err)
	}

	return int(total), nil
}

func (r *RecordRepo) GetRecord(ctx context.Context, recordID string) (*model.Record, error) {
	rec, err := scanRecord(r.db.Pool.QueryRow(ctx, selectRecordColumns+` WHERE record_id = $1`, recordID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", recordID, err)
	}

	return rec, nil
}

func (r *RecordRepo) ListRecords(ctx context.Context, accountID string, includeDeleted bool) ([]model.Record, error) {
	query := selectRecordColumns + ` WHERE account_id = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY occurred_on DESC, record_id`

	rows, err := r.db.Pool.Query(ctx, query, accountID)
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

func scanRecord(row pgx.Row) (*model.Record, error) {
	var rec model.Record
	var amount string
	var occurredOn time.Time

	err := row.Scan(
		&rec.ID, &rec.AccountID, &rec.SubAccountID, &amount, &rec.Currency, &occurredOn,
		&rec.DisplayName, &rec.Pending, &rec.Tags, &rec.DeletedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}

	rec.OccurredOn = civil.DateOf(occurredOn)
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	if rec.DeletedAt != nil {
		t := rec.DeletedAt.UTC()
		rec.DeletedAt = &t
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	return &rec, nil
}
