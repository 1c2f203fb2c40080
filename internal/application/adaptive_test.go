package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
)

func TestClassifyActivity(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  time.Duration
		wantTier ActivityTier
	}{
		{"30 minutes ago is hot", 30 * time.Minute, TierHot},
		{"59 minutes ago is hot (boundary)", 59 * time.Minute, TierHot},
		{"61 minutes ago is active (boundary)", 61 * time.Minute, TierActive},
		{"12 hours ago is active", 12 * time.Hour, TierActive},
		{"25 hours ago is warm", 25 * time.Hour, TierWarm},
		{"3 days ago is warm", 3 * 24 * time.Hour, TierWarm},
		{"8 days ago is stale", 8 * 24 * time.Hour, TierStale},
		{"zero time is stale", 0, TierStale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var lastActivity time.Time
			if tt.elapsed > 0 {
				lastActivity = time.Now().Add(-tt.elapsed)
			}
			got := classifyActivity(lastActivity)
			assert.Equal(t, tt.wantTier, got)
		})
	}
}

func TestTierInterval(t *testing.T) {
	base := 6 * time.Hour
	tests := []struct {
		tier    ActivityTier
		wantDur time.Duration
	}{
		{TierHot, 6 * time.Hour},
		{TierActive, 6 * time.Hour},
		{TierWarm, 12 * time.Hour},
		{TierStale, 24 * time.Hour},
		{ActivityTier(99), 6 * time.Hour}, // unknown defaults to base
	}

	for _, tt := range tests {
		t.Run(tt.tier.String(), func(t *testing.T) {
			got := tierInterval(tt.tier, base)
			assert.Equal(t, tt.wantDur, got)
		})
	}
}

func TestCursorTier(t *testing.T) {
	t.Run("no cursor stays on base interval", func(t *testing.T) {
		assert.Equal(t, TierActive, cursorTier(nil))
	})

	t.Run("empty cursor stays on base interval", func(t *testing.T) {
		assert.Equal(t, TierActive, cursorTier(&model.SyncCursor{AccountID: "A1"}))
	})

	t.Run("recent movement is hot", func(t *testing.T) {
		c := &model.SyncCursor{AccountID: "A1", Cursor: "c1", UpdatedAt: time.Now().Add(-5 * time.Minute)}
		assert.Equal(t, TierHot, cursorTier(c))
	})

	t.Run("old movement is stale", func(t *testing.T) {
		c := &model.SyncCursor{AccountID: "A1", Cursor: "c1", UpdatedAt: time.Now().Add(-30 * 24 * time.Hour)}
		assert.Equal(t, TierStale, cursorTier(c))
	})
}

func TestActivityTierString(t *testing.T) {
	tests := []struct {
		tier ActivityTier
		want string
	}{
		{TierHot, "hot"},
		{TierActive, "active"},
		{TierWarm, "warm"},
		{TierStale, "stale"},
		{ActivityTier(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tier.String())
		})
	}
}
