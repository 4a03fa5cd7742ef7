package repository

import (
	"context"
	"fmt"

	"idx-signals/models"
	"idx-signals/observability"
)

// CreatePipelineRun persists one stage execution's audit record.
func (r *Repository) CreatePipelineRun(ctx context.Context, run *models.PipelineRun) error {
	if r == nil {
		return nil
	}

	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()

	_, err := r.db.Exec(ctx, `
		INSERT INTO pipeline_runs (id, stage, as_of, rows_written, rows_stale, rows_missing, error_count, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, run.ID, run.Stage, run.AsOf.Time, run.RowsWritten, run.RowsStale, run.RowsMissing, run.ErrorCount, run.DurationMs, run.CreatedAt)

	timer.ObserveDB("insert", "pipeline_runs")
	if err != nil {
		metrics.RecordDBError("insert", "pipeline_runs")
		return fmt.Errorf("failed to create pipeline run: %w", err)
	}
	return nil
}

// GetPipelineRuns returns recent run records, optionally filtered by stage.
func (r *Repository) GetPipelineRuns(ctx context.Context, stage models.PipelineStage, limit int) ([]models.PipelineRun, error) {
	if r == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()

	query := `
		SELECT id, stage, as_of, rows_written, rows_stale, rows_missing, error_count, duration_ms, created_at
		FROM pipeline_runs
		WHERE ($1 = '' OR stage = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, string(stage), limit)
	timer.ObserveDB("select", "pipeline_runs")
	if err != nil {
		metrics.RecordDBError("select", "pipeline_runs")
		return nil, fmt.Errorf("failed to query pipeline runs: %w", err)
	}
	defer rows.Close()

	var runs []models.PipelineRun
	for rows.Next() {
		var run models.PipelineRun
		err := rows.Scan(&run.ID, &run.Stage, &run.AsOf.Time, &run.RowsWritten, &run.RowsStale,
			&run.RowsMissing, &run.ErrorCount, &run.DurationMs, &run.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipeline run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
