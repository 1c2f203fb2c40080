package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

func TestCursorRepo_GetMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCursorRepo(db)

	c, err := repo.GetCursor(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestCursorRepo_AdvanceFromEmpty(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCursorRepo(db)
	ctx := context.Background()
	seedAccount(t, db, "acc-1")

	require.NoError(t, repo.AdvanceCursor(ctx, "acc-1", "", "c1"))
	require.NoError(t, repo.AdvanceCursor(ctx, "acc-1", "c1", "c2"))

	c, err := repo.GetCursor(ctx, "acc-1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "c2", c.Cursor)
	assert.False(t, c.UpdatedAt.IsZero())
}

func TestCursorRepo_StaleAdvanceConflicts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCursorRepo(db)
	ctx := context.Background()
	seedAccount(t, db, "acc-1")

	require.NoError(t, repo.AdvanceCursor(ctx, "acc-1", "", "c1"))

	err := repo.AdvanceCursor(ctx, "acc-1", "", "other")
	assert.ErrorIs(t, err, driven.ErrCursorConflict)

	err = repo.AdvanceCursor(ctx, "acc-1", "c0", "c9")
	assert.ErrorIs(t, err, driven.ErrCursorConflict)

	c, err := repo.GetCursor(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.Cursor)
}

func TestCursorRepo_AdvanceFromUnknownCursorOnMissingRow(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCursorRepo(db)
	seedAccount(t, db, "acc-1")

	err := repo.AdvanceCursor(context.Background(), "acc-1", "c1", "c2")
	assert.ErrorIs(t, err, driven.ErrCursorConflict)
}
