package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrFileNotFound is returned when a stage's output file cannot be located
// for the next stage.
var ErrFileNotFound = errors.New("stage output not found")

// RunPipeline drives generate, process and upload in order through the same
// pages the dashboard uses, recording the whole run when deps.History is set.
// It stops at the first failing stage.
func RunPipeline(ctx context.Context, deps Deps, opts RunPipelineOptions) (*PipelineResult, error) {
	startTime := time.Now()
	deps = deps.withDefaults()
	if opts.Count <= 0 {
		opts.Count = DefaultCount
	}
	out := opts.Out
	if out == nil || !opts.StreamToTerminal {
		out = io.Discard
	}

	result := &PipelineResult{
		Steps:  make([]StepResult, 0, 3),
		Status: "running",
	}

	if deps.History != nil {
		run, err := deps.History.CreateRun("pipeline", strconv.Itoa(opts.Count))
		if err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		result.RunID = run.ID
	}

	fail := func(err error) (*PipelineResult, error) {
		result.Status = "failed"
		result.Duration = time.Since(startTime)
		result.Error = err
		if deps.History != nil {
			_ = deps.History.UpdateRunStatus(result.RunID, "failed", result.Duration)
		}
		return result, err
	}

	gen := NewGeneratePage(deps)
	defer gen.Close()
	gen.attachRun(result.RunID)
	gen.SetCount(opts.Count)
	st, err := executeStage(ctx, out, gen.stage, gen.Run)
	result.Steps = append(result.Steps, st)
	if err != nil {
		return fail(err)
	}

	xlsx, err := LocateOutput(opts.OutputDir, gen.State().File, ".xlsx")
	if err != nil {
		return fail(err)
	}
	proc := NewProcessPage(deps)
	defer proc.Close()
	proc.attachRun(result.RunID)
	if err := proc.SelectFile(xlsx); err != nil {
		return fail(err)
	}
	st, err = executeStage(ctx, out, proc.stage, proc.Run)
	result.Steps = append(result.Steps, st)
	if err != nil {
		return fail(err)
	}

	csvPath, err := LocateOutput(opts.OutputDir, proc.State().File, ".csv")
	if err != nil {
		return fail(err)
	}
	up := NewUploadPage(deps)
	defer up.Close()
	up.attachRun(result.RunID)
	if err := up.SelectFile(csvPath); err != nil {
		return fail(err)
	}
	st, err = executeStage(ctx, out, up.stage, up.Run)
	result.Steps = append(result.Steps, st)
	if err != nil {
		return fail(err)
	}
	result.Rows = int64(up.State().Count)

	result.Status = "success"
	result.Duration = time.Since(startTime)
	if deps.History != nil {
		if err := deps.History.UpdateRunStatus(result.RunID, "success", result.Duration); err != nil {
			return nil, fmt.Errorf("failed to update run status: %w", err)
		}
	}

	fmt.Fprintf(out, "\n🏁 Pipeline finished in %s. %d records in the database.\n", result.Duration.Round(time.Millisecond), result.Rows)
	return result, nil
}

// executeStage runs one page synchronously and reports its outcome.
func executeStage(ctx context.Context, out io.Writer, s *stage, run func(context.Context) error) (StepResult, error) {
	fmt.Fprintln(out, "→", s.kind)

	err := run(ctx)
	st := s.State()
	res := StepResult{
		Name:     s.kind,
		Status:   st.Status,
		Output:   st.Summary,
		Duration: st.Duration,
	}
	if err != nil {
		res.Status = Error
		res.Error = err
		res.Output = st.Error
		fmt.Fprintln(out, "❌ Step failed:", userMessage(err))
		return res, fmt.Errorf("stage '%s' failed: %w", s.kind, err)
	}

	fmt.Fprintf(out, "✅ Done: %s (%s)\n", st.Summary, st.Duration.Round(time.Millisecond))
	return res, nil
}

// LocateOutput resolves the file a stage reported inside dir. When the
// backend reports no name or a name that is not on disk, the newest file
// with ext is used instead.
func LocateOutput(dir, name, ext string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if name != "" {
		path := filepath.Join(dir, filepath.Base(name))
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read output directory: %w", err)
	}
	var (
		newest  string
		newestT time.Time
	)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestT) {
			newest, newestT = e.Name(), info.ModTime()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("%w: no %s file in %s", ErrFileNotFound, ext, dir)
	}
	return filepath.Join(dir, newest), nil
}
