package model

import "time"

// AccountStatus represents whether a connected account can be synced.
type AccountStatus string

const (
	AccountStatusActive        AccountStatus = "active"
	AccountStatusLoginRequired AccountStatus = "login_required"
)

// Account identifies one connected external account. Credential is the
// opaque bearer handed to source client calls; Region selects which source
// client serves the account.
type Account struct {
	ID         string
	OwnerID    string
	Credential string
	Region     string
	Status     AccountStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
