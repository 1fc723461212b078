package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := NewStorage(filepath.Join(t.TempDir(), "sdp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPreferences(t *testing.T) {
	store := newTestStorage(t)

	_, ok, err := store.GetPreference("sdp-settings")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.PutPreference("sdp-settings", `{"darkMode":true}`))
	require.NoError(t, store.PutPreference("sdp-settings", `{"darkMode":false}`))

	value, ok, err := store.GetPreference("sdp-settings")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"darkMode":false}`, value)
}

func TestPreferencesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sdp.db")
	store, err := NewStorage(path)
	require.NoError(t, err)
	require.NoError(t, store.PutPreference("k", "v"))
	require.NoError(t, store.Close())

	store, err = NewStorage(path)
	require.NoError(t, err)
	defer store.Close()
	value, ok, err := store.GetPreference("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", value)
}

func TestRunsAndSteps(t *testing.T) {
	store := newTestStorage(t)

	run, err := store.CreateRun("pipeline", "count=10")
	require.NoError(t, err)
	assert.Equal(t, "running", run.Status)

	step, err := store.CreateStepExecution(run.ID, "generate", "10")
	require.NoError(t, err)
	require.NoError(t, store.UpdateStepExecution(step.ID, "success", "students.xlsx", 120*time.Millisecond))
	require.NoError(t, store.UpdateRunStatus(run.ID, "success", time.Second))

	got, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "success", got.Status)
	assert.Equal(t, "pipeline", got.Kind)
	require.NotNil(t, got.Duration)
	assert.Equal(t, "1s", *got.Duration)

	steps, err := store.GetStepExecutions(run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "students.xlsx", steps[0].Output)
	assert.NotNil(t, steps[0].FinishedAt)

	runs, err := store.GetRuns(10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = store.GetRun(999)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStageStats(t *testing.T) {
	store := newTestStorage(t)
	run, err := store.CreateRun("stage", "")
	require.NoError(t, err)

	record := func(stage, status string, d time.Duration) {
		step, err := store.CreateStepExecution(run.ID, stage, "")
		require.NoError(t, err)
		require.NoError(t, store.UpdateStepExecution(step.ID, status, "", d))
	}
	record("generate", "success", 100*time.Millisecond)
	record("generate", "failed", 300*time.Millisecond)
	record("upload", "success", 50*time.Millisecond)
	_, err = store.CreateStepExecution(run.ID, "process", "")
	require.NoError(t, err)

	stats, err := store.GetStageStats()
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, "generate", stats[0].Stage)
	assert.Equal(t, 2, stats[0].Runs)
	assert.Equal(t, 1, stats[0].Successes)
	assert.Equal(t, 1, stats[0].Failures)
	assert.Equal(t, 200*time.Millisecond, stats[0].AvgDuration)
	assert.Equal(t, "failed", stats[0].LastStatus)
	assert.Equal(t, "upload", stats[1].Stage)
}

func TestMigrationsApplyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sdp.db")
	store, err := NewStorage(path)
	require.NoError(t, err)
	v, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
	require.NoError(t, store.Close())

	store, err = NewStorage(path)
	require.NoError(t, err)
	defer store.Close()
	v, err = store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestStageHistory(t *testing.T) {
	store := newTestStorage(t)
	run, err := store.CreateRun("stage", "")
	require.NoError(t, err)
	for _, input := range []string{"10", "20", "30"} {
		_, err := store.CreateStepExecution(run.ID, "generate", input)
		require.NoError(t, err)
	}
	_, err = store.CreateStepExecution(run.ID, "upload", "a.csv")
	require.NoError(t, err)

	steps, err := store.GetStageHistory("generate", 2)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "30", steps[0].Input)
	assert.Equal(t, "20", steps[1].Input)
	assert.Nil(t, steps[0].FinishedAt)
}
