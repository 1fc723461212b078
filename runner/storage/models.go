package storage

import "time"

// Run is one recorded invocation: a single stage or a full pipeline run.
type Run struct {
	ID         int        `json:"id"`
	Kind       string     `json:"kind"`   // "stage" or "pipeline"
	Status     string     `json:"status"` // "running", "success", "failed"
	Input      string     `json:"input"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Duration   *string    `json:"duration,omitempty"`
}

// StepExecution is one stage call made within a run.
type StepExecution struct {
	ID         int        `json:"id"`
	RunID      int        `json:"run_id"`
	Stage      string     `json:"stage"`
	Status     string     `json:"status"` // "running", "success", "failed"
	Input      string     `json:"input"`
	Output     string     `json:"output"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Duration   *string    `json:"duration,omitempty"`
}
