package storage

import (
	"fmt"
	"time"
)

// StageStats summarizes finished executions of one stage
type StageStats struct {
	Stage       string        `json:"stage"`
	Runs        int           `json:"runs"`
	Successes   int           `json:"successes"`
	Failures    int           `json:"failures"`
	AvgDuration time.Duration `json:"avg_duration"`
	LastStatus  string        `json:"last_status"`
}

// GetStageStats returns per-stage counters ordered by stage name
func (s *Storage) GetStageStats() ([]StageStats, error) {
	query := `
		SELECT
			se.stage,
			COUNT(*),
			SUM(CASE WHEN se.status = 'success' THEN 1 ELSE 0 END),
			SUM(CASE WHEN se.status = 'failed' THEN 1 ELSE 0 END),
			COALESCE(AVG(se.duration_ms), 0),
			(SELECT last.status FROM step_executions last
			 WHERE last.stage = se.stage AND last.status != 'running'
			 ORDER BY last.id DESC LIMIT 1)
		FROM step_executions se
		WHERE se.status != 'running'
		GROUP BY se.stage
		ORDER BY se.stage
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage stats: %w", err)
	}
	defer rows.Close()

	stats := make([]StageStats, 0)
	for rows.Next() {
		var stat StageStats
		var avgMS float64
		if err := rows.Scan(&stat.Stage, &stat.Runs, &stat.Successes, &stat.Failures, &avgMS, &stat.LastStatus); err != nil {
			return nil, fmt.Errorf("failed to scan stage stats: %w", err)
		}
		stat.AvgDuration = time.Duration(avgMS * float64(time.Millisecond))
		stats = append(stats, stat)
	}

	return stats, rows.Err()
}
