// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
)

// ErrAccountNotFound indicates a mutation referenced an account that does not exist.
var ErrAccountNotFound = errors.New("account not found")

// AccountStore defines the driven port for connected account persistence.
type AccountStore interface {
	// Create inserts a new account. Created once, after a successful token exchange.
	Create(ctx context.Context, account model.Account) error
	// Get returns the account with the given ID, or nil, nil if it does not exist.
	Get(ctx context.Context, accountID string) (*model.Account, error)
	// ListByStatus returns all accounts with the given status, ordered by ID.
	ListByStatus(ctx context.Context, status model.AccountStatus) ([]model.Account, error)
	// SetStatus updates the account status. Returns ErrAccountNotFound if the
	// account does not exist.
	SetStatus(ctx context.Context, accountID string, status model.AccountStatus) error
}

// ErrAccountAlreadyExists indicates an account with the same ID is already stored.
var ErrAccountAlreadyExists = errors.New("account already exists")
