package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/txmirror/internal/adapter/driven/credcrypt"
	"github.com/ericfisherdev/txmirror/internal/domain/model"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AccountStore = (*AccountRepo)(nil)

// AccountRepo is the SQLite implementation of the AccountStore port interface.
// Credentials are sealed with AES-256-GCM before write and opened after read.
type AccountRepo struct {
	db     *DB
	sealer *credcrypt.Sealer
}

// NewAccountRepo creates a new AccountRepo backed by the given DB.
func NewAccountRepo(db *DB, sealer *credcrypt.Sealer) *AccountRepo {
	return &AccountRepo{db: db, sealer: sealer}
}

// Create inserts a new account. Returns ErrAccountAlreadyExists if the ID is taken.
func (r *AccountRepo) Create(ctx context.Context, account model.Account) error {
	const query = `
		INSERT INTO accounts (account_id, owner_id, credential, region, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	sealed, err := r.sealer.Seal(account.Credential)
	if err != nil {
		return fmt.Errorf("seal credential for account %s: %w", account.ID, err)
	}

	status := account.Status
	if status == "" {
		status = model.AccountStatusActive
	}

	now := time.Now().UTC()
	createdAt := account.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = r.db.Writer.ExecContext(ctx, query,
		account.ID, account.OwnerID, sealed, account.Region, string(status),
		formatTime(createdAt), formatTime(now),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("create account %s: %w", account.ID, driven.ErrAccountAlreadyExists)
		}
		return fmt.Errorf("create account %s: %w", account.ID, err)
	}

	return nil
}

// Get returns the account with the given ID, or nil, nil if it does not exist.
func (r *AccountRepo) Get(ctx context.Context, accountID string) (*model.Account, error) {
	const query = `
		SELECT account_id, owner_id, credential, region, status, created_at, updated_at
		FROM accounts
		WHERE account_id = ?
	`

	account, err := r.scanAccount(r.db.Reader.QueryRowContext(ctx, query, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", accountID, err)
	}

	return account, nil
}

// ListByStatus returns all accounts with the given status, ordered by ID.
func (r *AccountRepo) ListByStatus(ctx context.Context, status model.AccountStatus) ([]model.Account, error) {
	const query = `
		SELECT account_id, owner_id, credential, region, status, created_at, updated_at
		FROM accounts
		WHERE status = ?
		ORDER BY account_id
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		account, err := r.scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	return accounts, nil
}

// SetStatus updates the account status. Setting the current status again is
// a no-op that still succeeds.
func (r *AccountRepo) SetStatus(ctx context.Context, accountID string, status model.AccountStatus) error {
	const query = `
		UPDATE accounts
		SET status = ?,
		    updated_at = CASE WHEN status = ? THEN updated_at ELSE ? END
		WHERE account_id = ?
	`

	result, err := r.db.Writer.ExecContext(ctx, query,
		string(status), string(status), formatTime(time.Now()), accountID,
	)
	if err != nil {
		return fmt.Errorf("set status of account %s: %w", accountID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("set status of account %s: %w", accountID, driven.ErrAccountNotFound)
	}

	return nil
}

func (r *AccountRepo) scanAccount(s scanner) (*model.Account, error) {
	var account model.Account
	var sealed, status, createdAt, updatedAt string

	err := s.Scan(
		&account.ID, &account.OwnerID, &sealed, &account.Region,
		&status, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.Status = model.AccountStatus(status)

	account.Credential, err = r.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("open credential for account %s: %w", account.ID, err)
	}

	account.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	account.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &account, nil
}
