package application

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

// defaultDeadLetterLimit caps ListDeadLetters when no limit is given.
const defaultDeadLetterLimit = 100

// SyncState is the read view of one account's mirror progress.
type SyncState struct {
	Account     model.Account
	Cursor      *model.SyncCursor
	SubAccounts []model.SubAccount
}

// AccountService serves the mirror's read side.
type AccountService struct {
	accounts    driven.AccountStore
	records     driven.RecordStore
	cursors     driven.CursorStore
	subAccounts driven.SubAccountStore
	deadLetters driven.DeadLetterStore
}

// NewAccountService creates a new AccountService with all required dependencies.
func NewAccountService(
	accounts driven.AccountStore,
	records driven.RecordStore,
	cursors driven.CursorStore,
	subAccounts driven.SubAccountStore,
	deadLetters driven.DeadLetterStore,
) *AccountService {
	return &AccountService{
		accounts:    accounts,
		records:     records,
		cursors:     cursors,
		subAccounts: subAccounts,
		deadLetters: deadLetters,
	}
}

// ListRecords returns the account's mirrored records. Returns
// ErrAccountNotFound for an unknown account.
func (s *AccountService) ListRecords(ctx context.Context, accountID string, includeDeleted bool) ([]model.Record, error) {
	if _, err := s.mustGet(ctx, accountID); err != nil {
		return nil, err
	}

	records, err := s.records.ListRecords(ctx, accountID, includeDeleted)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []model.Record{}
	}
	return records, nil
}

// GetSyncState returns the account, its cursor and its known sub-accounts.
func (s *AccountService) GetSyncState(ctx context.Context, accountID string) (*SyncState, error) {
	account, err := s.mustGet(ctx, accountID)
	if err != nil {
		return nil, err
	}

	cursor, err := s.cursors.GetCursor(ctx, accountID)
	if err != nil {
		return nil, err
	}

	subAccounts, err := s.subAccounts.ListSubAccounts(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return &SyncState{
		Account:     *account,
		Cursor:      cursor,
		SubAccounts: subAccounts,
	}, nil
}

// ListDeadLetters returns the most recent failed jobs.
func (s *AccountService) ListDeadLetters(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	if limit <= 0 {
		limit = defaultDeadLetterLimit
	}
	return s.deadLetters.List(ctx, limit)
}

func (s *AccountService) mustGet(ctx context.Context, accountID string) (*model.Account, error) {
	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %s: %w", accountID, driven.ErrAccountNotFound)
	}
	return account, nil
}
