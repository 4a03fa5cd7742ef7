package models

import (
	"time"

	"github.com/google/uuid"
)

// PipelineStage identifies which stage a run record belongs to.
type PipelineStage string

const (
	StageIngest   PipelineStage = "ingest"
	StageBroker   PipelineStage = "broker_agg"
	StageSnapshot PipelineStage = "snapshot"
)

// PipelineRun is the audit record of one stage execution: how many rows
// were written, how many were stale or missing, and how many per-symbol
// errors were absorbed. Persisted so silent partial failure stays
// observable after the fact.
type PipelineRun struct {
	ID          uuid.UUID     `json:"id"`
	Stage       PipelineStage `json:"stage"`
	AsOf        Date          `json:"as_of"`
	RowsWritten int           `json:"rows_written"`
	RowsStale   int           `json:"rows_stale"`
	RowsMissing int           `json:"rows_missing"`
	ErrorCount  int           `json:"error_count"`
	DurationMs  int64         `json:"duration_ms"`
	CreatedAt   time.Time     `json:"created_at"`
}

// NewPipelineRun creates a run record for the given stage and date.
func NewPipelineRun(stage PipelineStage, asOf Date) *PipelineRun {
	return &PipelineRun{
		ID:        uuid.New(),
		Stage:     stage,
		AsOf:      asOf,
		CreatedAt: time.Now(),
	}
}
