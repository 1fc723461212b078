package runner

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sdpdash/gateway/gatewaytest"
	"sdpdash/runner/storage"
)

func newHistory(t *testing.T) *storage.Storage {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "sdp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunPipeline(t *testing.T) {
	f := newFixture(t)
	store := newHistory(t)
	f.deps.History = store
	var out bytes.Buffer

	res, err := RunPipeline(context.Background(), f.deps, RunPipelineOptions{
		Count:            12,
		OutputDir:        f.srv.Dir(),
		StreamToTerminal: true,
		Out:              &out,
	})
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.EqualValues(t, 12, res.Rows)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, []Kind{Generate, Process, Upload}, []Kind{res.Steps[0].Name, res.Steps[1].Name, res.Steps[2].Name})
	for _, st := range res.Steps {
		assert.Equal(t, Success, st.Status)
	}
	assert.Len(t, f.srv.Students(), 12)
	assert.Contains(t, out.String(), "🏁 Pipeline finished")

	run, err := store.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "pipeline", run.Kind)
	assert.Equal(t, "success", run.Status)
	steps, err := store.GetStepExecutions(res.RunID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "upload", steps[2].Stage)
	runs, err := store.GetRuns(10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRunPipelineStopsAtFailure(t *testing.T) {
	f := newFixture(t)
	store := newHistory(t)
	f.deps.History = store
	f.srv.Fail(gatewaytest.OpProcess, http.StatusBadRequest, `{"error":"Invalid Excel file"}`)

	res, err := RunPipeline(context.Background(), f.deps, RunPipelineOptions{Count: 3, OutputDir: f.srv.Dir()})
	require.Error(t, err)
	assert.Equal(t, "failed", res.Status)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, Error, res.Steps[1].Status)
	assert.Equal(t, "Invalid Excel file", res.Steps[1].Output)
	assert.Equal(t, 0, f.srv.Calls(gatewaytest.OpUpload))

	run, err := store.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "failed", run.Status)
}

func TestLocateOutputFallsBackToNewest(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "a.csv")
	newer := filepath.Join(dir, "b.csv")
	require.NoError(t, os.WriteFile(older, nil, 0644))
	require.NoError(t, os.WriteFile(newer, nil, 0644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	path, err := LocateOutput(dir, "a.csv", ".csv")
	require.NoError(t, err)
	assert.Equal(t, older, path)

	path, err = LocateOutput(dir, "missing.csv", ".csv")
	require.NoError(t, err)
	assert.Equal(t, newer, path)

	_, err = LocateOutput(dir, "", ".xlsx")
	assert.ErrorIs(t, err, ErrFileNotFound)
}
