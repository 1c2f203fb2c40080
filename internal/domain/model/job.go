package model

import "time"

// JobKind identifies the work a queued Job asks the sync worker to do.
type JobKind string

const (
	JobKindSyncRecords           JobKind = "SYNC_RECORDS"
	JobKindProcessNewSubAccounts JobKind = "PROCESS_NEW_SUBACCOUNTS"
)

// Job is a transient unit of work handed from intake to the sync worker.
type Job struct {
	ID            string
	Kind          JobKind
	AccountID     string
	SubAccountIDs []string // Only set for JobKindProcessNewSubAccounts.
	EnqueuedAt    time.Time
}

// DeadLetter records a job whose processing failed and was not retried.
type DeadLetter struct {
	ID        string
	JobID     string
	Kind      JobKind
	AccountID string
	Error     string
	Attempts  int
	FailedAt  time.Time
}
