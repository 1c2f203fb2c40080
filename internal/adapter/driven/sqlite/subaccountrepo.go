package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SubAccountStore = (*SubAccountRepo)(nil)

// SubAccountRepo is the SQLite implementation of the SubAccountStore port interface.
type SubAccountRepo struct {
	db *DB
}

// NewSubAccountRepo creates a new SubAccountRepo backed by the given DB.
func NewSubAccountRepo(db *DB) *SubAccountRepo {
	return &SubAccountRepo{db: db}
}

// UpsertSubAccounts inserts or refreshes sub-accounts in one transaction.
// discovered_at is only written on first insert.
func (r *SubAccountRepo) UpsertSubAccounts(ctx context.Context, subAccounts []model.SubAccount) error {
	const query = `
		INSERT INTO sub_accounts (
			sub_account_id, account_id, display_name, kind, balance, currency,
			discovered_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sub_account_id) DO UPDATE SET
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

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, sa := range subAccounts {
			discoveredAt := sa.DiscoveredAt
			if discoveredAt.IsZero() {
				discoveredAt = now
			}

			_, err := stmt.ExecContext(ctx,
				sa.ID, sa.AccountID, sa.DisplayName, sa.Kind, sa.Balance.String(), sa.Currency,
				formatTime(discoveredAt), formatTime(now),
			)
			if err != nil {
				return fmt.Errorf("upsert sub-account %s: %w", sa.ID, err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert %d sub-accounts: %w", len(subAccounts), err)
	}

	return nil
}

// ListSubAccounts returns the account's sub-accounts ordered by ID.
func (r *SubAccountRepo) ListSubAccounts(ctx context.Context, accountID string) ([]model.SubAccount, error) {
	const query = `
		SELECT sub_account_id, account_id, display_name, kind, balance, currency,
		       discovered_at, updated_at
		FROM sub_accounts
		WHERE account_id = ?
		ORDER BY sub_account_id
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("query sub-accounts for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var subAccounts []model.SubAccount
	for rows.Next() {
		var sa model.SubAccount
		var balance, discoveredAt, updatedAt string

		if err := rows.Scan(
			&sa.ID, &sa.AccountID, &sa.DisplayName, &sa.Kind, &balance, &sa.Currency,
			&discoveredAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan sub-account: %w", err)
		}

		if sa.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("parse balance: %w", err)
		}
		if sa.DiscoveredAt, err = parseTime(discoveredAt); err != nil {
			return nil, fmt.Errorf("parse discovered_at: %w", err)
		}
		if sa.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}

		subAccounts = append(subAccounts, sa)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sub-accounts: %w", err)
	}

	return subAccounts, nil
}
