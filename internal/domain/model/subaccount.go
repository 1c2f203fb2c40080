package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubAccount is an entity (e.g. a checking or card account) visible under a
// connected Account.
type SubAccount struct {
	ID           string
	AccountID    string
	DisplayName  string
	Kind         string
	Balance      decimal.Decimal
	Currency     string
	DiscoveredAt time.Time
	UpdatedAt    time.Time
}
