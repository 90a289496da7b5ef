package runlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	st, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func TestSQLite_Lifecycle(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	id, err := st.Start(ctx, "2024Q1", "json")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entries, err := st.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusRunning, entries[0].Status)
	assert.Nil(t, entries[0].CompletedAt)

	require.NoError(t, st.Complete(ctx, id, Counts{Submissions: 2, Emitted: 1, Skipped: 1, FactsDropped: 4}))

	entries, err = st.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "2024Q1", e.Partition)
	assert.Equal(t, "json", e.Mode)
	assert.Equal(t, StatusComplete, e.Status)
	require.NotNil(t, e.CompletedAt)
	assert.Equal(t, Counts{Submissions: 2, Emitted: 1, Skipped: 1, FactsDropped: 4}, e.Counts)
	assert.Empty(t, e.Error)

	last, err := st.LastSuccess(ctx, "2024Q1", "json")
	require.NoError(t, err)
	require.NotNil(t, last)
}

func TestSQLite_Fail(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	id, err := st.Start(ctx, "2023Q4", "parquet")
	require.NoError(t, err)
	require.NoError(t, st.Fail(ctx, id, Counts{Tables: 1}, "schema mismatch"))

	entries, err := st.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusFailed, entries[0].Status)
	assert.Equal(t, "schema mismatch", entries[0].Error)
	assert.Equal(t, int64(1), entries[0].Counts.Tables)

	last, err := st.LastSuccess(ctx, "2023Q4", "parquet")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestSQLite_UnknownRun(t *testing.T) {
	st := newTestSQLite(t)
	err := st.Complete(context.Background(), "nope", Counts{})
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestSQLite_ListNewestFirst(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	for _, p := range []string{"2023Q3", "2023Q4", "2024Q1"} {
		_, err := st.Start(ctx, p, "json")
		require.NoError(t, err)
	}

	entries, err := st.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2024Q1", entries[0].Partition)
	assert.Equal(t, "2023Q4", entries[1].Partition)
}

func TestNop(t *testing.T) {
	var s Store = Nop{}
	id, err := s.Start(context.Background(), "2024Q1", "json")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.NoError(t, s.Complete(context.Background(), id, Counts{}))
	assert.NoError(t, s.Close())
}
