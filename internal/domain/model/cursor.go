package model

import "time"

// SyncCursor is the per-account position in the source's delta feed.
// An empty Cursor means "sync from the beginning".
type SyncCursor struct {
	AccountID string
	Cursor    string
	UpdatedAt time.Time
}
