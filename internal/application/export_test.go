package application

import (
	"context"
	"time"
)

// RepollAt runs one repoll pass as if the clock read now.
func (s *RepollService) RepollAt(ctx context.Context, now time.Time) error {
	return s.repollAll(ctx, now)
}
