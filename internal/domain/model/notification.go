package model

import (
	"errors"
	"fmt"
	"strings"
)

// Notification kinds and codes understood by intake.
const (
	KindRecords = "RECORDS"
	KindAccount = "ACCOUNT"

	CodeDeltaAvailable   = "DELTA_AVAILABLE"
	CodeInitialUpdate    = "INITIAL_UPDATE"
	CodeHistoricalUpdate = "HISTORICAL_UPDATE"
	CodeDefaultUpdate    = "DEFAULT_UPDATE"
	CodeRemoved          = "REMOVED"

	CodeReauthRequired = "REAUTH_REQUIRED"
	CodeNewSubAccounts = "NEW_SUBACCOUNTS"
	CodeError          = "ERROR"
)

// Notification is an inbound webhook event. It only says that something
// changed for an account, not what changed.
type Notification struct {
	Kind             string
	Code             string
	AccountID        string
	RemovedRecordIDs []string
	NewSubAccountIDs []string
	Error            *NotificationError
}

// ErrInvalidNotification marks a notification missing a mandatory field.
var ErrInvalidNotification = errors.New("invalid notification")

// Validate checks that kind, code and accountId are present.
func (n Notification) Validate() error {
	switch {
	case strings.TrimSpace(n.Kind) == "":
		return fmt.Errorf("%w: kind is required", ErrInvalidNotification)
	case strings.TrimSpace(n.Code) == "":
		return fmt.Errorf("%w: code is required", ErrInvalidNotification)
	case strings.TrimSpace(n.AccountID) == "":
		return fmt.Errorf("%w: accountId is required", ErrInvalidNotification)
	}
	return nil
}

// NotificationError is the error object carried by ACCOUNT.ERROR events.
type NotificationError struct {
	Code    string
	Message string
}

// Action is the outcome of classifying a notification.
type Action string

const (
	ActionSyncRecords           Action = "sync_records"
	ActionTombstoneRecords      Action = "tombstone_records"
	ActionMarkLoginRequired     Action = "mark_login_required"
	ActionProcessNewSubAccounts Action = "process_new_subaccounts"
	ActionIgnored               Action = "ignored"
)

// Classify maps a notification kind and code to an Action. Matching is
// case-insensitive; unrecognized pairs are ActionIgnored.
func Classify(kind, code string) Action {
	kind = strings.ToUpper(strings.TrimSpace(kind))
	code = strings.ToUpper(strings.TrimSpace(code))

	switch kind {
	case KindRecords:
		switch code {
		case CodeDeltaAvailable, CodeInitialUpdate, CodeHistoricalUpdate, CodeDefaultUpdate:
			return ActionSyncRecords
		case CodeRemoved:
			return ActionTombstoneRecords
		}
	case KindAccount:
		switch code {
		case CodeReauthRequired, CodeError:
			return ActionMarkLoginRequired
		case CodeNewSubAccounts:
			return ActionProcessNewSubAccounts
		}
	}

	return ActionIgnored
}

// Ack is the acknowledgment returned to the notification sender.
// Retry is set when the sender should redeliver because an internal
// dependency was unavailable; it never reflects a processing outcome.
type Ack struct {
	Received  bool
	Processed bool
	Action    Action
	Error     string
	Retry     bool
}
