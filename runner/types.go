package runner

import (
	"context"
	"errors"
	"io"
	"time"

	"sdpdash/gateway"
	"sdpdash/runner/storage"
	"sdpdash/toast"
)

var (
	// ErrNoInput is returned when a stage is run without a count or file.
	ErrNoInput = errors.New("no input selected")
	// ErrBusy is returned when a stage is run while its previous call is in flight.
	ErrBusy = errors.New("stage already running")
	// ErrWrongFileType is returned when a selected file has a disallowed extension.
	ErrWrongFileType = errors.New("unsupported file type")
)

// Kind names a pipeline stage.
type Kind string

const (
	Generate Kind = "generate"
	Process  Kind = "process"
	Upload   Kind = "upload"
	Report   Kind = "report"
)

// Status is a stage's position in its state machine.
type Status string

const (
	Idle    Status = "idle"
	Loading Status = "loading"
	Success Status = "success"
	Error   Status = "error"
)

// NextStep is the navigation offered after a stage succeeds.
type NextStep struct {
	Label string `json:"label"`
	Route string `json:"route"`
}

// Preview is a bounded sample of the stage's output.
type Preview struct {
	Rows      []gateway.Student `json:"rows"`
	Synthetic bool              `json:"synthetic"`
}

// MaxPreviewRows bounds every preview.
const MaxPreviewRows = 15

// StageState is the observable state of one stage page. Success implies
// Summary is set and Error is empty; Error implies the reverse.
type StageState struct {
	Kind       Kind          `json:"kind"`
	Status     Status        `json:"status"`
	Input      string        `json:"input"`
	Summary    string        `json:"summary,omitempty"`
	Error      string        `json:"error,omitempty"`
	File       string        `json:"file,omitempty"`
	Count      int           `json:"count,omitempty"`
	Next       *NextStep     `json:"next,omitempty"`
	Preview    *Preview      `json:"preview,omitempty"`
	StartedAt  time.Time     `json:"startedAt,omitempty"`
	FinishedAt time.Time     `json:"finishedAt,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Message is the inline text shown under the stage's action.
func (s StageState) Message() string {
	switch s.Status {
	case Success:
		return s.Summary
	case Error:
		return "Error: " + s.Error
	}
	return ""
}

// Gateway is the part of the backend client the pages call.
type Gateway interface {
	Generate(ctx context.Context, count int) (*gateway.GenerateResult, error)
	Process(ctx context.Context, file gateway.File) (*gateway.ProcessResult, error)
	Upload(ctx context.Context, file gateway.File) (*gateway.UploadResult, error)
	ListStudents(ctx context.Context, q gateway.StudentQuery) (*gateway.StudentPage, error)
	ListClasses(ctx context.Context) ([]string, error)
	AnalyticsSummary(ctx context.Context) (*gateway.Analytics, error)
	Export(ctx context.Context, format gateway.ExportFormat, filter gateway.ExportFilter) (io.ReadCloser, error)
	SubmitFeatureRequest(ctx context.Context, fr gateway.FeatureRequest) error
}

// Toaster shows user-facing messages.
type Toaster interface {
	Success(msg string) toast.Toast
	Error(msg string) toast.Toast
}

// History records stage invocations. *storage.Storage satisfies it.
type History interface {
	CreateRun(kind, input string) (*storage.Run, error)
	UpdateRunStatus(runID int, status string, duration time.Duration) error
	CreateStepExecution(runID int, stage, input string) (*storage.StepExecution, error)
	UpdateStepExecution(stepID int, status, output string, duration time.Duration) error
}

// PipelineResult represents the result of running a pipeline
type PipelineResult struct {
	Status   string        `json:"status"` // "success" or "failed"
	RunID    int           `json:"run_id"`
	Steps    []StepResult  `json:"steps"`
	Rows     int64         `json:"rows"`
	Duration time.Duration `json:"duration"`
	Error    error         `json:"error,omitempty"`
}

// StepResult represents the result of executing a single stage
type StepResult struct {
	Name     Kind          `json:"name"`
	Status   Status        `json:"status"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
	Error    error         `json:"error,omitempty"`
}

// RunPipelineOptions configures how the pipeline should be executed
type RunPipelineOptions struct {
	Count            int    // records to generate
	OutputDir        string // where the backend writes generated files; empty means the working directory
	StreamToTerminal bool   // If true, print progress lines
	Out              io.Writer
}
