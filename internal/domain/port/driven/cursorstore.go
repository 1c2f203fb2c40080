package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
)

// ErrCursorConflict indicates the stored cursor moved since it was read,
// so advancing from the stale value was refused.
var ErrCursorConflict = errors.New("sync cursor changed concurrently")

// CursorStore defines the driven port for per-account sync cursors.
type CursorStore interface {
	// GetCursor returns the stored cursor for accountID, or nil, nil if the
	// account has never been synced.
	GetCursor(ctx context.Context, accountID string) (*model.SyncCursor, error)
	// AdvanceCursor moves the cursor from `from` to `to` as a compare-and-set.
	// A missing row is treated as the empty cursor. Returns ErrCursorConflict
	// if the stored value is not `from`.
	AdvanceCursor(ctx context.Context, accountID, from, to string) error
}
