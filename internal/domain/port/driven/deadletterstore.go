package driven

import (
	"context"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
)

// DeadLetterStore defines the driven port for failed job records.
type DeadLetterStore interface {
	Record(ctx context.Context, dl model.DeadLetter) error
	// List returns the most recent dead letters first, at most limit entries.
	List(ctx context.Context, limit int) ([]model.DeadLetter, error)
}
