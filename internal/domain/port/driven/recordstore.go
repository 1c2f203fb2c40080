package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
)

// RecordStore defines the driven port for mirrored record persistence.
// Both batch operations are atomic: either every row in the batch is
// written or none is.
type RecordStore interface {
	// UpsertRecords inserts or refreshes the given records for accountID.
	// Every upserted record ends live (deleted_at cleared) regardless of its
	// prior state.
	UpsertRecords(ctx context.Context, accountID string, records []model.Record) error
	// TombstoneRecords sets deleted_at = at on the listed records that are
	// currently live and belong to accountID. Already tombstoned or unknown
	// IDs are skipped. Returns the number of records tombstoned.
	TombstoneRecords(ctx context.Context, accountID string, recordIDs []string, at time.Time) (int, error)
	// GetRecord returns a record by ID, or nil, nil if it does not exist.
	GetRecord(ctx context.Context, recordID string) (*model.Record, error)
	// ListRecords returns the account's records ordered by occurred_on
	// descending then ID. Tombstoned records are included only when
	// includeDeleted is true.
	ListRecords(ctx context.Context, accountID string, includeDeleted bool) ([]model.Record, error)
}
