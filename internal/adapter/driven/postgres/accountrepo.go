package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ericfisherdev/txmirror/internal/adapter/driven/credcrypt"
	"github.com/ericfisherdev/txmirror/internal/domain/model"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AccountStore = (*AccountRepo)(nil)

// AccountRepo is the PostgreSQL implementation of the AccountStore port interface.
type AccountRepo struct {
	db     *DB
	sealer *credcrypt.Sealer
}

// NewAccountRepo creates a new AccountRepo backed by the given DB.
func NewAccountRepo(db *DB, sealer *credcrypt.Sealer) *AccountRepo {
	return &AccountRepo{db: db, sealer: sealer}
}

func (r *AccountRepo) Create(ctx context.Context, account model.Account) error {
	const query = `
		INSERT INTO accounts (account_id, owner_id, credential, region, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
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

	_, err = r.db.Pool.Exec(ctx, query,
		account.ID, account.OwnerID, sealed, account.Region, string(status), createdAt, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create account %s: %w", account.ID, driven.ErrAccountAlreadyExists)
		}
		return fmt.Errorf("create account %s: %w", account.ID, err)
	}

	return nil
}

func (r *AccountRepo) Get(ctx context.Context, accountID string) (*model.Account, error) {
	const query = `
		SELECT account_id, owner_id, credential, region, status, created_at, updated_at
		FROM accounts
		WHERE account_id = $1
	`

	account, err := r.scanAccount(r.db.Pool.QueryRow(ctx, query, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", accountID, err)
	}

	return account, nil
}

func (r *AccountRepo) ListByStatus(ctx context.Context, status model.AccountStatus) ([]model.Account, error) {
	const query = `
		SELECT account_id, owner_id, credential, region, status, created_at, updated_at
		FROM accounts
		WHERE status = $1
		ORDER BY account_id
	`

	rows, err := r.db.Pool.Query(ctx, query, string(status))
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

func (r *AccountRepo) SetStatus(ctx context.Context, accountID string, status model.AccountStatus) error {
	const query = `
		UPDATE accounts
		SET status = $1,
		    updated_at = CASE WHEN status = $1 THEN updated_at ELSE $2 END
		WHERE account_id = $3
	`

	tag, err := r.db.Pool.Exec(ctx, query, string(status), time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("set status of account %s: %w", accountID, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set status of account %s: %w", accountID, driven.ErrAccountNotFound)
	}

	return nil
}

func (r *AccountRepo) scanAccount(row pgx.Row) (*model.Account, error) {
	var account model.Account
	var sealed, status string

	err := row.Scan(
		&account.ID, &account.OwnerID, &sealed, &account.Region,
		&status, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.Status = model.AccountStatus(status)
	account.CreatedAt = account.CreatedAt.UTC()
	account.UpdatedAt = account.UpdatedAt.UTC()

	account.Credential, err = r.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("open credential for account %s: %w", account.ID, err)
	}

	return &account, nil
}
