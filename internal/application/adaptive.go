package application

import (
	"time"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
)

// ActivityTier classifies an account by how recently its delta cursor moved.
// Quiet accounts are repolled less often than busy ones.
type ActivityTier int

const (
	// TierHot indicates cursor movement within the last hour.
	TierHot ActivityTier = iota
	// TierActive indicates cursor movement within the last day.
	TierActive
	// TierWarm indicates cursor movement within the last 7 days.
	TierWarm
	// TierStale indicates no cursor movement for 7+ days.
	TierStale
)

// Repoll interval multipliers per tier, applied to the configured base interval.
const (
	multiplierHot    = 1
	multiplierActive = 1
	multiplierWarm   = 2
	multiplierStale  = 4
)

// String returns a human-readable name for the activity tier.
func (t ActivityTier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierActive:
		return "active"
	case TierWarm:
		return "warm"
	case TierStale:
		return "stale"
	default:
		return "unknown"
	}
}

// tierInterval returns how long an account in tier waits between repolls.
func tierInterval(tier ActivityTier, base time.Duration) time.Duration {
	switch tier {
	case TierHot:
		return multiplierHot * base
	case TierActive:
		return multiplierActive * base
	case TierWarm:
		return multiplierWarm * base
	case TierStale:
		return multiplierStale * base
	default:
		return base
	}
}

// classifyActivity determines the activity tier based on the time elapsed
// since the cursor last moved. A zero-value time is treated as TierStale.
func classifyActivity(lastActivity time.Time) ActivityTier {
	if lastActivity.IsZero() {
		return TierStale
	}

	elapsed := time.Since(lastActivity)

	switch {
	case elapsed < 1*time.Hour:
		return TierHot
	case elapsed < 24*time.Hour:
		return TierActive
	case elapsed < 7*24*time.Hour:
		return TierWarm
	default:
		return TierStale
	}
}

// cursorTier classifies an account from its stored cursor. An account that
// has never completed a page stays on the base interval until it does.
func cursorTier(cursor *model.SyncCursor) ActivityTier {
	if cursor == nil || cursor.Cursor == "" {
		return TierActive
	}
	return classifyActivity(cursor.UpdatedAt)
}

// accountSchedule tracks per-account adaptive repoll state.
type accountSchedule struct {
	tier       ActivityTier
	nextPollAt time.Time
	lastPolled time.Time
}

// ScheduleInfo is an exported view of an account's repoll schedule,
// used for observability and testing.
type ScheduleInfo struct {
	Tier       ActivityTier
	NextPollAt time.Time
	LastPolled time.Time
}
