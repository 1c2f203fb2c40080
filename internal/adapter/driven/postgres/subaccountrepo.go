package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SubAccountStore = (*SubAccountRepo)(nil)

// SubAccountRepo is the PostgreSQL implementation of the SubAccountStore port interface.
type SubAccountRepo struct {
	db *DB
}

// NewSubAccountRepo creates a new SubAccountRepo backed by the given DB.
func NewSubAccountRepo(db *DB) *SubAccountRepo {
	return &SubAccountRepo{db: db}
}

func (r *SubAccountRepo) UpsertSubAccounts(ctx context.Context, subAccounts []model.SubAccount) error {
	const query = `
		INSERT INTO sub_accounts (
			sub_account_id, account_id, display_name, kind, balance, currency,
			discovered_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sub_account_id) DO UPDATE SET
			display_name = excluded.display_name,
			kind = excluded.kind,
			balance = excluded.balance,
			currency = excluded.currency,
			updated_at = excluded.updated_at
		WHERE sub_accounts.account_id = excluded.account_id
	`

	if len(subAccounts) == 0 {
		return nil
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, sa := range subAccounts {
		discoveredAt := sa.DiscoveredAt
		if discoveredAt.IsZero() {
			discoveredAt = now
		}
		batch.Queue(query,
			sa.ID, sa.AccountID, sa.DisplayName, sa.Kind, sa.Balance, sa.Currency,
			discoveredAt.UTC(), now,
		)
	}

	err := r.db.withTx(ctx, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("upsert %d sub-accounts: %w", len(subAccounts), err)
	}

	return nil
}

func (r *SubAccountRepo) ListSubAccounts(ctx context.Context, accountID string) ([]model.SubAccount, error) {
	const query = `
		SELECT sub_account_id, account_id, display_name, kind, balance::text, currency,
		       discovered_at, updated_at
		FROM sub_accounts
		WHERE account_id = $1
		ORDER BY sub_account_id
	`

	rows, err := r.db.Pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("query sub-accounts for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var subAccounts []model.SubAccount
	for rows.Next() {
		var sa model.SubAccount
		var balance string

		if err := rows.Scan(
			&sa.ID, &sa.AccountID, &sa.DisplayName, &sa.Kind, &balance, &sa.Currency,
			&sa.DiscoveredAt, &sa.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan sub-account: %w", err)
		}

		if sa.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("parse balance: %w", err)
		}
		sa.DiscoveredAt = sa.DiscoveredAt.UTC()
		sa.UpdatedAt = sa.UpdatedAt.UTC()

		subAccounts = append(subAccounts, sa)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sub-accounts: %w", err)
	}

	return subAccounts, nil
}
