package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateStepExecution records the start of one stage call
func (s *Storage) CreateStepExecution(runID int, stage, input string) (*StepExecution, error) {
	now := time.Now()
	result, err := s.db.Exec(
		"INSERT INTO step_executions (run_id, stage, status, input, started_at) VALUES (?, ?, ?, ?, ?)",
		runID, stage, "running", input, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create step execution: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get step execution ID: %w", err)
	}

	return &StepExecution{
		ID:        int(id),
		RunID:     runID,
		Stage:     stage,
		Status:    "running",
		Input:     input,
		StartedAt: now,
	}, nil
}

// UpdateStepExecution updates step execution with output, status, and finish time
func (s *Storage) UpdateStepExecution(stepID int, status, output string, duration time.Duration) error {
	now := time.Now()
	_, err := s.db.Exec(
		"UPDATE step_executions SET status = ?, output = ?, finished_at = ?, duration = ?, duration_ms = ? WHERE id = ?",
		status, output, now, duration.String(), duration.Milliseconds(), stepID,
	)
	if err != nil {
		return fmt.Errorf("failed to update step execution: %w", err)
	}
	return nil
}

const stepColumns = "id, run_id, stage, status, input, output, started_at, finished_at, duration"

// GetStepExecutions returns the steps of one run in execution order.
func (s *Storage) GetStepExecutions(runID int) ([]*StepExecution, error) {
	rows, err := s.db.Query(
		"SELECT "+stepColumns+" FROM step_executions WHERE run_id = ? ORDER BY id ASC",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query step executions: %w", err)
	}
	defer rows.Close()

	var steps []*StepExecution
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// GetStageHistory returns the latest executions of stage across all runs,
// newest first.
func (s *Storage) GetStageHistory(stage string, limit int) ([]*StepExecution, error) {
	rows, err := s.db.Query(
		"SELECT "+stepColumns+" FROM step_executions WHERE stage = ? ORDER BY id DESC LIMIT ?",
		stage, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage history: %w", err)
	}
	defer rows.Close()

	steps := make([]*StepExecution, 0, limit)
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func scanStep(sc scanner) (*StepExecution, error) {
	var (
		step       StepExecution
		output     sql.NullString
		finishedAt sql.NullTime
		duration   sql.NullString
	)
	if err := sc.Scan(&step.ID, &step.RunID, &step.Stage, &step.Status, &step.Input, &output, &step.StartedAt, &finishedAt, &duration); err != nil {
		return nil, fmt.Errorf("failed to scan step execution: %w", err)
	}

	step.Output = output.String
	if finishedAt.Valid {
		step.FinishedAt = &finishedAt.Time
	}
	if duration.Valid {
		step.Duration = &duration.String
	}
	return &step, nil
}
