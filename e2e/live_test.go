//go:build e2e

package e2e

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sdpdash/config"
	"sdpdash/logging"
	"sdpdash/shell"
)

// liveShell connects to the backend named by SDP_API_URL. SDP_OUTPUT_DIR is
// where that backend writes generated files.
func liveShell(t *testing.T) (*shell.Shell, string) {
	t.Helper()
	if os.Getenv("SDP_API_URL") == "" || os.Getenv("SDP_OUTPUT_DIR") == "" {
		t.Skip("SDP_API_URL and SDP_OUTPUT_DIR must be set")
	}
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.DataDir = t.TempDir()
	cfg.PollInterval = time.Hour

	logger, err := logging.New(testing.Verbose())
	require.NoError(t, err)
	sh, err := shell.New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { sh.Close() })
	return sh, cfg.OutputDir
}

func recordCount(t *testing.T, def int) int {
	v := os.Getenv("SDP_E2E_COUNT")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	require.NoError(t, err)
	return n
}

func TestLiveSmoke(t *testing.T) {
	sh, dir := liveShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	rep, err := New(sh, dir, WithOutput(os.Stdout)).Run(ctx, recordCount(t, 10))
	require.NoError(t, err)
	require.Positive(t, rep.Rows)
}

func TestLivePerformance(t *testing.T) {
	if testing.Short() {
		t.Skip("performance run skipped in short mode")
	}
	sh, dir := liveShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Minute)
	defer cancel()

	rep, err := New(sh, dir, WithOutput(os.Stdout)).Run(ctx, recordCount(t, 1_000_000))
	if rep != nil {
		rep.Summary(os.Stdout)
	}
	require.NoError(t, err)
}
