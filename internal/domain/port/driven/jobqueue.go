package driven

import (
	"context"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
)

// JobQueue is the hand-off between intake and the sync worker. Delivery is
// at-least-once and unordered across accounts.
type JobQueue interface {
	// TryEnqueue adds job without blocking. Returns false when the queue is
	// full or closed.
	TryEnqueue(job model.Job) bool
	// DequeueBatch blocks until at least one job is available, then returns
	// up to max jobs. Returns false once ctx is done or the queue is closed
	// and drained.
	DequeueBatch(ctx context.Context, max int) ([]model.Job, bool)
	Depth() int
	Capacity() int
	Close() error
}
