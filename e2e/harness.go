// Package e2e drives the full generate, process, upload and report flow
// through the page controllers and records what each stage went through.
package e2e

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.uber.org/zap"

	"sdpdash/logging"
	"sdpdash/runner"
	"sdpdash/shell"
)

// DefaultStageTimeout bounds one stage. The backend, not the client, is the
// bottleneck for large record counts.
const DefaultStageTimeout = 25 * time.Minute

// ErrEmptyReport is returned when the report shows no rows after upload.
var ErrEmptyReport = errors.New("report has no rows")

// Step is what one stage did during a run.
type Step struct {
	Name        string
	Route       string
	Input       string
	Transitions []runner.Status
	Summary     string
	Error       string
	Duration    time.Duration
}

// Done reports whether the step went from Idle to Success. Loading may be
// missing when the stage settled before it was sampled.
func (s Step) Done() bool {
	switch len(s.Transitions) {
	case 2:
		return s.Transitions[0] == runner.Idle && s.Transitions[1] == runner.Success
	case 3:
		return s.Transitions[0] == runner.Idle && s.Transitions[1] == runner.Loading && s.Transitions[2] == runner.Success
	}
	return false
}

// Report is the outcome of Harness.Run.
type Report struct {
	Count int
	Steps []Step
	Rows  int
	Total time.Duration
}

// Option configures a Harness.
type Option func(*Harness)

// WithOutput prints progress lines to w.
func WithOutput(w io.Writer) Option {
	return func(h *Harness) { h.out = w }
}

// WithStageTimeout overrides DefaultStageTimeout.
func WithStageTimeout(d time.Duration) Option {
	return func(h *Harness) { h.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Harness) { h.logger = logging.OrNop(l) }
}

// Harness runs the four stage flow against one shell.
type Harness struct {
	sh        *shell.Shell
	outputDir string
	out       io.Writer
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a harness for sh. Generated and processed files are looked up
// in outputDir, the directory the backend writes into.
func New(sh *shell.Shell, outputDir string, opts ...Option) *Harness {
	h := &Harness{
		sh:        sh,
		outputDir: outputDir,
		out:       io.Discard,
		timeout:   DefaultStageTimeout,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// startable is the part of a stage page the harness drives.
type startable interface {
	Start(ctx context.Context) error
	State() runner.StageState
	Wait()
}

// Run generates count records, processes and uploads the produced files and
// opens the report. It stops at the first failed stage and returns the
// report so far alongside the error.
func (h *Harness) Run(ctx context.Context, count int) (*Report, error) {
	rep := &Report{Count: count}
	start := time.Now()
	defer func() { rep.Total = time.Since(start) }()

	h.sh.Navigate(ctx, "/generate")
	h.sh.Generate.SetCount(count)
	gen, err := h.stage(ctx, "Data Generation", "/generate", h.sh.Generate)
	rep.Steps = append(rep.Steps, gen)
	if err != nil {
		return rep, err
	}

	xlsx, err := runner.LocateOutput(h.outputDir, h.sh.Generate.State().File, ".xlsx")
	if err != nil {
		return rep, err
	}
	h.sh.Navigate(ctx, "/process")
	if err := h.sh.Process.SelectFile(xlsx); err != nil {
		return rep, err
	}
	fmt.Fprintf(h.out, "   Using file: %s\n", xlsx)
	proc, err := h.stage(ctx, "Data Processing", "/process", h.sh.Process)
	rep.Steps = append(rep.Steps, proc)
	if err != nil {
		return rep, err
	}

	csvPath, err := runner.LocateOutput(h.outputDir, h.sh.Process.State().File, ".csv")
	if err != nil {
		return rep, err
	}
	h.sh.Navigate(ctx, "/upload")
	if err := h.sh.Upload.SelectFile(csvPath); err != nil {
		return rep, err
	}
	fmt.Fprintf(h.out, "   Using file: %s\n", csvPath)
	up, err := h.stage(ctx, "Data Upload", "/upload", h.sh.Upload)
	rep.Steps = append(rep.Steps, up)
	if err != nil {
		return rep, err
	}

	fmt.Fprintln(h.out, "\n=== REPORT ===")
	reportStart := time.Now()
	h.sh.Navigate(ctx, "/report")
	st := h.sh.Report.State()
	step := Step{Name: "Report", Route: "/report", Duration: time.Since(reportStart), Error: st.Error}
	rep.Rows = len(st.Students)
	rep.Steps = append(rep.Steps, step)
	switch {
	case st.Error != "":
		return rep, fmt.Errorf("report failed: %s", st.Error)
	case rep.Rows == 0:
		return rep, ErrEmptyReport
	}
	fmt.Fprintf(h.out, "   Status: Done (%d rows, %d total)\n", rep.Rows, st.Total)
	return rep, nil
}

// stage starts page and waits for it to settle. The status is sampled
// before Start, right after Start returns and after Wait; a sample equal to
// the previous one is not recorded again.
func (h *Harness) stage(ctx context.Context, name, route string, page startable) (Step, error) {
	fmt.Fprintf(h.out, "\n=== %s ===\n", name)
	step := Step{Name: name, Route: route}
	step.Transitions = append(step.Transitions, page.State().Status)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	began := time.Now()
	if err := page.Start(ctx); err != nil {
		step.Error = err.Error()
		return step, fmt.Errorf("%s: %w", name, err)
	}
	started := page.State().Status
	step.Transitions = append(step.Transitions, started)
	h.logger.Debug("stage started", zap.String("stage", name), zap.String("status", string(started)))
	page.Wait()
	step.Duration = time.Since(began)

	st := page.State()
	step.Input = st.Input
	if st.Status != started {
		step.Transitions = append(step.Transitions, st.Status)
	}
	step.Summary = st.Summary
	h.logger.Debug("stage settled", zap.String("stage", name), zap.String("status", string(st.Status)), zap.Duration("duration", step.Duration))

	if st.Status != runner.Success {
		step.Error = st.Error
		fmt.Fprintf(h.out, "   Status: Failed (%s)\n", st.Error)
		return step, fmt.Errorf("%s failed: %s", name, st.Error)
	}
	fmt.Fprintf(h.out, "   Status: Done\n   Time: %s minutes (%dms)\n", minutes(step.Duration), step.Duration.Milliseconds())
	return step, nil
}

// Summary prints a table of every step.
func (r *Report) Summary(w io.Writer) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Step", "Status", "Time (min)", "Time (ms)")
	for _, s := range r.Steps {
		status := "Done"
		if s.Error != "" {
			status = "Failed"
		}
		t.Row(s.Name, status, minutes(s.Duration), fmt.Sprint(s.Duration.Milliseconds()))
	}
	fmt.Fprintf(w, "\n=== PIPELINE SUMMARY (%d records) ===\n", r.Count)
	fmt.Fprintln(w, t.String())
	fmt.Fprintf(w, "Total: %s minutes\n", minutes(r.Total))
}

func minutes(d time.Duration) string {
	return fmt.Sprintf("%.2f", d.Minutes())
}
