package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/color-pulse/internal/common"
	"github.com/Veraticus/color-pulse/internal/model"
	"github.com/Veraticus/color-pulse/internal/testutil"
)

var testNow = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

type fakeRules map[int]model.Rule

func (f fakeRules) GetRule(_ context.Context, id int) (*model.Rule, error) {
	rule, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
	}
	return &rule, nil
}

type fakeSink struct {
	err     error
	outputs []Output
	mu      sync.Mutex
}

func (f *fakeSink) WriteColors(_ context.Context, out Output) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.outputs = append(f.outputs, out)
	return fmt.Sprintf("run-%d", len(f.outputs)), nil
}

func newTestSession(t *testing.T, rows []model.Color) *Session {
	t.Helper()
	sess, err := New("s1", "trader", "colors.xlsx", rows, testNow)
	require.NoError(t, err)
	return sess
}

func workedExampleRows(t *testing.T) []model.Color {
	t.Helper()
	return testutil.NewColorBuilder(t).
		Add("1", "C1", "2025-01-10", 2, "100").
		Add("2", "C1", "2025-01-10", 1, "101").
		Add("3", "C2", "2025-01-09", 1, "99").
		Build()
}

func TestNew(t *testing.T) {
	sess := newTestSession(t, workedExampleRows(t))

	assert.Equal(t, StatusOpen, sess.Status)
	assert.Equal(t, []string{"2", "1", "3"}, testutil.IDs(sess.Current))
	assert.Len(t, sess.Imported, 3)
	assert.Empty(t, sess.DeletedRowIDs)
	assert.Empty(t, sess.AppliedRuleIDs)
	assert.Equal(t, testNow, sess.CreatedAt)
}

func TestNew_RejectsBadIDs(t *testing.T) {
	_, err := New("s1", "o", "src", []model.Color{{ID: ""}}, testNow)
	assert.Error(t, err)

	_, err = New("s1", "o", "src", []model.Color{{ID: "1"}, {ID: "1"}}, testNow)
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)

	_, err = New("", "o", "src", nil, testNow)
	assert.Error(t, err)
}

func TestSession_DeleteRowsPromotesNextParent(t *testing.T) {
	sess := newTestSession(t, workedExampleRows(t))

	rows, err := sess.DeleteRows([]string{"2"}, testNow)
	require.NoError(t, err)

	require.Equal(t, []string{"1", "3"}, testutil.IDs(rows))
	assert.True(t, rows[0].IsParent)
	assert.Zero(t, rows[0].ChildCount)
	assert.Equal(t, []string{"2"}, sess.DeletedRowIDs)
}

func TestSession_DeleteParentWithTwoChildren(t *testing.T) {
	rows := testutil.NewColorBuilder(t).
		Add("1", "C1", "2025-01-10", 1, "100").
		Add("2", "C1", "2025-01-10", 2, "100").
		Add("3", "C1", "2025-01-10", 3, "100").
		Build()
	sess := newTestSession(t, rows)

	remaining, err := sess.DeleteRows([]string{"1"}, testNow)
	require.NoError(t, err)

	require.Len(t, remaining, 2)
	assert.Equal(t, "2", remaining[0].ID)
	assert.True(t, remaining[0].IsParent)
	assert.Equal(t, 1, remaining[0].ChildCount)
	assert.Equal(t, "2", remaining[1].ParentID)
}

func TestSession_DeleteRowsIsMonotonicAndIdempotent(t *testing.T) {
	sess := newTestSession(t, testutil.SampleColors(t))

	_, err := sess.DeleteRows([]string{"M1", "M3"}, testNow)
	require.NoError(t, err)
	first := sess.Rows()

	_, err = sess.DeleteRows([]string{"M1", "unknown"}, testNow)
	require.NoError(t, err)

	assert.Equal(t, first, sess.Rows())
	assert.Equal(t, []string{"M1", "M3"}, sess.DeletedRowIDs)
	for _, r := range sess.Current {
		assert.NotContains(t, sess.DeletedRowIDs, r.ID)
	}
}

func TestSession_DeleteRowsDoesNotAlterEarlierViews(t *testing.T) {
	sess := newTestSession(t, workedExampleRows(t))
	view := sess.Current

	_, err := sess.DeleteRows([]string{"2"}, testNow)
	require.NoError(t, err)

	assert.Equal(t, []string{"2", "1", "3"}, testutil.IDs(view))
}

func TestSession_ApplyRules(t *testing.T) {
	lookup := fakeRules{
		1: testutil.NewRule(t, 1, "broker C", "where", "source", "equal_to", "BrokerC"),
		2: testutil.NewRule(t, 2, "unknown ticker", "where", "ticker", "equal_to", "UNKNOWN"),
	}
	sess := newTestSession(t, testutil.SampleColors(t))

	outcome, err := sess.ApplyRules(context.Background(), []int{1, 2}, lookup, testNow)
	require.NoError(t, err)

	assert.Equal(t, 3, outcome.ExcludedCount)
	assert.Equal(t, map[int]int{1: 2, 2: 1}, outcome.PerRuleExcluded)
	assert.Equal(t, []string{"M1", "M2", "M3"}, testutil.IDs(outcome.Rows))
	assert.Equal(t, []string{"M4", "M5", "M6"}, sess.DeletedRowIDs)
	assert.Equal(t, []int{1, 2}, sess.AppliedRuleIDs)

	// M3 lost its only child.
	assert.Zero(t, outcome.Rows[2].ChildCount)
}

func TestSession_ApplyRulesIsIdempotent(t *testing.T) {
	lookup := fakeRules{1: testutil.NewRule(t, 1, "broker A", "where", "source", "equal_to", "BrokerA")}
	sess := newTestSession(t, testutil.SampleColors(t))

	first, err := sess.ApplyRules(context.Background(), []int{1}, lookup, testNow)
	require.NoError(t, err)

	second, err := sess.ApplyRules(context.Background(), []int{1, 1}, lookup, testNow)
	require.NoError(t, err)

	assert.Equal(t, first.Rows, second.Rows)
	assert.Zero(t, second.ExcludedCount)
	assert.Equal(t, []int{1}, sess.AppliedRuleIDs)
}

func TestSession_ApplyRulesUnknownRuleChangesNothing(t *testing.T) {
	lookup := fakeRules{1: testutil.NewRule(t, 1, "broker A", "where", "source", "equal_to", "BrokerA")}
	sess := newTestSession(t, testutil.SampleColors(t))
	before := sess.Clone()

	_, err := sess.ApplyRules(context.Background(), []int{1, 99}, lookup, testNow.Add(time.Minute))
	require.ErrorIs(t, err, common.ErrNotFound)

	assert.Equal(t, before, sess)
}

func TestSession_PriceRuleExcludesEverythingThenNothingToSave(t *testing.T) {
	rows := testutil.NewColorBuilder(t).
		Add("1", "C1", "2025-01-10", 1, "101").
		Add("2", "C2", "2025-01-10", 1, "150").
		Build()
	lookup := fakeRules{7: testutil.NewRule(t, 7, "price above 100", "where", "price", "greater_than", "100")}
	sess := newTestSession(t, rows)

	outcome, err := sess.ApplyRules(context.Background(), []int{7}, lookup, testNow)
	require.NoError(t, err)
	assert.Empty(t, outcome.Rows)
	assert.Equal(t, 2, outcome.ExcludedCount)

	sink := &fakeSink{}
	_, err = sess.Commit(context.Background(), sink, testNow)
	require.ErrorIs(t, err, common.ErrNothingToSave)
	assert.Empty(t, sink.outputs)
	assert.Equal(t, StatusOpen, sess.Status)
}

func TestSession_Commit(t *testing.T) {
	sess := newTestSession(t, workedExampleRows(t))
	_, err := sess.DeleteRows([]string{"3"}, testNow)
	require.NoError(t, err)

	sink := &fakeSink{}
	commitAt := testNow.Add(5 * time.Minute)
	snap, err := sess.Commit(context.Background(), sink, commitAt)
	require.NoError(t, err)

	require.Len(t, sink.outputs, 1)
	assert.Equal(t, "run-1", snap.Location)
	assert.Equal(t, []string{"2", "1"}, testutil.IDs(snap.Rows))
	assert.Equal(t, 1, snap.DeletedCount)
	assert.Equal(t, 2, snap.Stats.Total)
	assert.Equal(t, StatusCommitted, sess.Status)
	require.NotNil(t, sess.CommittedAt)
	assert.Equal(t, commitAt, *sess.CommittedAt)

	// Nothing is accepted after the commit and the sink is never called again.
	_, err = sess.Commit(context.Background(), sink, commitAt)
	assert.ErrorIs(t, err, common.ErrInvalidState)
	_, err = sess.DeleteRows([]string{"1"}, commitAt)
	assert.ErrorIs(t, err, common.ErrInvalidState)
	_, err = sess.ApplyRules(context.Background(), nil, fakeRules{}, commitAt)
	assert.ErrorIs(t, err, common.ErrInvalidState)
	_, err = sess.Reset(commitAt)
	assert.ErrorIs(t, err, common.ErrInvalidState)
	assert.Len(t, sink.outputs, 1)
}

func TestSession_CommitSinkFailureLeavesSessionOpen(t *testing.T) {
	sess := newTestSession(t, workedExampleRows(t))
	before := sess.Clone()

	sink := &fakeSink{err: errors.New("disk full")}
	_, err := sess.Commit(context.Background(), sink, testNow)
	require.Error(t, err)

	assert.Equal(t, before, sess)

	sink.err = nil
	_, err = sess.Commit(context.Background(), sink, testNow)
	require.NoError(t, err)
	assert.Len(t, sink.outputs, 1)
}

func TestSession_Reset(t *testing.T) {
	lookup := fakeRules{1: testutil.NewRule(t, 1, "broker A", "where", "source", "equal_to", "BrokerA")}
	sess := newTestSession(t, testutil.SampleColors(t))
	initial := sess.Rows()

	_, err := sess.DeleteRows([]string{"M2"}, testNow)
	require.NoError(t, err)
	_, err = sess.ApplyRules(context.Background(), []int{1}, lookup, testNow)
	require.NoError(t, err)

	rows, err := sess.Reset(testNow)
	require.NoError(t, err)

	assert.Equal(t, initial, rows)
	assert.Empty(t, sess.DeletedRowIDs)
	assert.Empty(t, sess.AppliedRuleIDs)
}

func TestSession_Expire(t *testing.T) {
	sess := newTestSession(t, workedExampleRows(t))

	assert.True(t, sess.Expire(testNow))
	assert.Equal(t, StatusExpired, sess.Status)
	assert.Nil(t, sess.Current)
	assert.Nil(t, sess.Imported)
	assert.False(t, sess.Expire(testNow), "expired is terminal")

	_, err := sess.DeleteRows([]string{"1"}, testNow)
	assert.ErrorIs(t, err, common.ErrInvalidState)
	_, err = sess.Commit(context.Background(), &fakeSink{}, testNow)
	assert.ErrorIs(t, err, common.ErrInvalidState)
}
