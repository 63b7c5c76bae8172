package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbcheck/nbcheck/internal/runner"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleReport(notebook string) *runner.Report {
	return &runner.Report{
		Notebook: notebook,
		Started:  time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
		Duration: 3 * time.Second,
		Cells: []runner.CellResult{
			{Index: 1, State: runner.StatePassed, Duration: time.Second},
			{Index: 2, State: runner.StateFailed, Reason: "content mismatch", Duration: 2 * time.Second},
			{Index: 3, State: runner.StateSkipped},
		},
	}
}

func TestRecordAndReadRun(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	runID, err := store.RecordRun(ctx, sampleReport("lesson1.ipynb"))
	require.NoError(t, err)
	require.Positive(t, runID)

	runs, err := store.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, runID, run.ID)
	assert.Equal(t, "lesson1.ipynb", run.Notebook)
	assert.True(t, run.Started.Equal(time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, 3*time.Second, run.Duration)
	assert.Equal(t, 1, run.Passed)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 0, run.Errored)
	assert.Equal(t, 1, run.Skipped)

	cells, err := store.RunCells(ctx, runID)
	require.NoError(t, err)
	require.Len(t, cells, 3)
	assert.Equal(t, 1, cells[0].Index)
	assert.Equal(t, string(runner.StatePassed), cells[0].State)
	assert.Equal(t, "content mismatch", cells[1].Reason)
	assert.Equal(t, 2*time.Second, cells[1].Duration)
}

func TestRecentRunsNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a.ipynb", "b.ipynb", "c.ipynb"} {
		_, err := store.RecordRun(ctx, sampleReport(name))
		require.NoError(t, err)
	}

	runs, err := store.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c.ipynb", runs[0].Notebook)
	assert.Equal(t, "a.ipynb", runs[2].Notebook)

	limited, err := store.RecentRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRunCellsUnknownRun(t *testing.T) {
	store := openTestStore(t)

	cells, err := store.RunCells(context.Background(), 9999)
	require.NoError(t, err)
	assert.Empty(t, cells)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := Open(path)
	require.NoError(t, err)
	_, err = store.RecordRun(context.Background(), sampleReport("x.ipynb"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	runs, err := reopened.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1, "existing data survives reopening")
}
