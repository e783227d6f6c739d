package sheet

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Veraticus/color-pulse/internal/common"
	"github.com/Veraticus/color-pulse/internal/model"
	"github.com/Veraticus/color-pulse/internal/ranking"
	"github.com/Veraticus/color-pulse/internal/session"
	"github.com/Veraticus/color-pulse/internal/testutil"
)

func committedOutput(t *testing.T) session.Output {
	t.Helper()
	return outputOf(t, testutil.SampleColors(t))
}

func outputOf(t *testing.T, colors []model.Color) session.Output {
	t.Helper()
	rows := ranking.RankAndGroup(colors)
	return session.Output{
		SessionID:      "session-1",
		OwnerID:        "trader",
		Source:         "colors.xlsx",
		Rows:           rows,
		AppliedRuleIDs: []int{2, 7},
		DeletedCount:   1,
		Stats:          ranking.Summarize(rows),
		CommittedAt:    time.Date(2025, 1, 10, 17, 30, 0, 0, time.UTC),
	}
}

func TestWriter_WriteColors(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "output")
	out := committedOutput(t)

	path, err := NewWriter(dir).WriteColors(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "colors_20250110T173000Z_"))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(ColorsSheet)
	require.NoError(t, err)
	require.Len(t, rows, len(out.Rows)+1)

	assert.Equal(t, []string{
		"MESSAGE_ID", "CUSIP", "DATE", "PX", "RANK",
		"IS_PARENT", "PARENT_MESSAGE_ID", "CHILDREN_COUNT",
		"SOURCE", "TICKER",
	}, rows[0])

	// M1 leads its group of three; M2 follows it.
	assert.Equal(t, []string{"M1", "912828XG0", "2025-01-10", "99.5", "1", "TRUE", "", "2", "BrokerA", "T 2.5 05/30"}, rows[1])
	assert.Equal(t, "M2", rows[2][0])
	assert.Equal(t, "FALSE", rows[2][5])
	assert.Equal(t, "M1", rows[2][6])

	summary, err := f.GetRows(SummarySheet)
	require.NoError(t, err)
	values := make(map[string]string, len(summary))
	for _, row := range summary {
		require.Len(t, row, 2)
		values[row[0]] = row[1]
	}
	assert.Equal(t, "session-1", values["Session"])
	assert.Equal(t, "trader", values["Owner"])
	assert.Equal(t, "2, 7", values["Applied Rules"])
	assert.Equal(t, "1", values["Deleted Rows"])
	assert.Equal(t, "6", values["Total Colors"])
	assert.Equal(t, "3", values["Parents"])
	assert.Equal(t, "2", values["Unique Securities"])
}

func TestWriter_OutputIsReadable(t *testing.T) {
	// The importer requires a price, so the round trip uses a fully priced batch.
	colors := testutil.SampleColors(t)
	for i := range colors {
		if !colors[i].Price.Valid {
			colors[i].Price = testutil.Price(t, "101.90")
		}
	}
	out := outputOf(t, colors)

	path, err := NewWriter(t.TempDir()).WriteColors(context.Background(), out)
	require.NoError(t, err)

	result, err := NewReader(ColorsSheet).ReadFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, result.Colors, len(out.Rows))

	for i, want := range out.Rows {
		got := result.Colors[i]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.SecurityKey, got.SecurityKey)
		assert.Equal(t, want.RankHint, got.RankHint)
		assert.True(t, want.AsOfDate.Equal(got.AsOfDate))
		assert.Equal(t, want.Price.Valid, got.Price.Valid)
	}

	// Re-ranking the exported rows reproduces the committed order.
	assert.Equal(t, testutil.IDs(out.Rows), testutil.IDs(ranking.RankAndGroup(result.Colors)))
}

func TestWriter_DistinctFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	out := committedOutput(t)

	first, err := w.WriteColors(context.Background(), out)
	require.NoError(t, err)
	second, err := w.WriteColors(context.Background(), out)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWriter_Errors(t *testing.T) {
	out := committedOutput(t)

	empty := out
	empty.Rows = nil
	_, err := NewWriter(t.TempDir()).WriteColors(context.Background(), empty)
	assert.ErrorIs(t, err, common.ErrNothingToSave)

	_, err = NewWriter("").WriteColors(context.Background(), out)
	assert.ErrorIs(t, err, common.ErrMissingConfig)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewWriter(t.TempDir()).WriteColors(ctx, out)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriter_AsSessionSink(t *testing.T) {
	dir := t.TempDir()
	store := session.NewStore(session.Options{Sink: NewWriter(dir)})
	defer store.Stop()
	ctx := context.Background()

	created, err := store.Create(ctx, "trader", "colors.xlsx", testutil.SampleColors(t))
	require.NoError(t, err)
	_, err = store.DeleteRows(ctx, created.ID, []string{"M6"})
	require.NoError(t, err)

	snap, err := store.Commit(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(snap.Location))

	_, err = os.Stat(snap.Location)
	assert.NoError(t, err)
}
