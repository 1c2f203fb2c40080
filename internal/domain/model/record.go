package model

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Record is one synchronized transaction mirrored from the source.
//
// A record with a nil DeletedAt is live. A non-nil DeletedAt marks it as
// tombstoned; tombstoned records are retained and come back to life when the
// source reports them again as added or modified.
type Record struct {
	ID           string
	AccountID    string
	SubAccountID string
	Amount       decimal.Decimal
	Currency     string // ISO 4217 code, stored verbatim from the source.
	OccurredOn   civil.Date
	DisplayName  string
	Pending      bool
	Tags         []string
	DeletedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsLive reports whether the record is not tombstoned.
func (r Record) IsLive() bool {
	return r.DeletedAt == nil
}

// Tombstoned returns the time the record was soft-deleted, if it was.
func (r Record) Tombstoned() (time.Time, bool) {
	if r.DeletedAt == nil {
		return time.Time{}, false
	}
	return *r.DeletedAt, true
}

// Revived returns a copy of r in the live state. The upsert path always goes
// through here so a re-observed record can never keep a stale tombstone.
func (r Record) Revived() Record {
	r.DeletedAt = nil
	if r.Tags == nil {
		r.Tags = []string{}
	}
	return r
}
