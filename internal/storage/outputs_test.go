package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/color-pulse/internal/common"
	"github.com/Veraticus/color-pulse/internal/ranking"
	"github.com/Veraticus/color-pulse/internal/session"
	"github.com/Veraticus/color-pulse/internal/testutil"
)

func testOutput(t *testing.T, sessionID string) session.Output {
	t.Helper()
	rows := ranking.RankAndGroup(testutil.SampleColors(t))
	return session.Output{
		SessionID:      sessionID,
		OwnerID:        "trader",
		Source:         "colors.xlsx",
		Rows:           rows,
		AppliedRuleIDs: []int{3, 5},
		DeletedCount:   2,
		Stats:          ranking.Summarize(rows),
		CommittedAt:    time.Date(2025, 1, 10, 17, 0, 0, 0, time.UTC),
	}
}

func TestWriteColors(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	out := testOutput(t, "s1")
	location, err := store.WriteColors(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, "output/1", location)

	rows, err := store.GetOutputRows(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, len(out.Rows))

	for i, want := range out.Rows {
		got := rows[i]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.SecurityKey, got.SecurityKey)
		assert.Equal(t, want.IsParent, got.IsParent)
		assert.Equal(t, want.ParentID, got.ParentID)
		assert.Equal(t, want.ChildCount, got.ChildCount)
		assert.Equal(t, want.RankHint, got.RankHint)
		assert.True(t, want.AsOfDate.Equal(got.AsOfDate))
		assert.Equal(t, want.Price.Valid, got.Price.Valid)
		assert.True(t, want.Price.Decimal.Equal(got.Price.Decimal))
		assert.Equal(t, want.Attributes["ticker"], got.Attributes["ticker"])
	}

	history, err := store.ListOutputs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, out.Stats, history[0].Stats)
	assert.Equal(t, []int{3, 5}, history[0].AppliedRuleIDs)
	assert.Equal(t, 2, history[0].DeletedCount)
}

func TestWriteColors_OncePerSession(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.WriteColors(ctx, testOutput(t, "s1"))
	require.NoError(t, err)

	_, err = store.WriteColors(ctx, testOutput(t, "s1"))
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)

	history, err := store.ListOutputs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestWriteColors_Empty(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	out := testOutput(t, "s1")
	out.Rows = nil
	_, err := store.WriteColors(context.Background(), out)
	assert.ErrorIs(t, err, ErrEmptySlice)
}

func TestGetOutputRows_NotFound(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	_, err := store.GetOutputRows(context.Background(), 7)
	assert.ErrorIs(t, err, common.ErrNotFound)
}
