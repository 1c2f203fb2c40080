package driven

import (
	"context"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
)

// SubAccountStore defines the driven port for discovered sub-accounts.
type SubAccountStore interface {
	// UpsertSubAccounts inserts or refreshes sub-accounts atomically. The
	// original discovered_at of an existing row is preserved.
	UpsertSubAccounts(ctx context.Context, subAccounts []model.SubAccount) error
	// ListSubAccounts returns the account's sub-accounts ordered by ID.
	ListSubAccounts(ctx context.Context, accountID string) ([]model.SubAccount, error)
}
