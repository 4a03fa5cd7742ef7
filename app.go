package main

import (
	"context"
	"fmt"
	"time"

	"idx-signals/broker"
	"idx-signals/config"
	"idx-signals/filestore"
	"idx-signals/ingest"
	"idx-signals/models"
	"idx-signals/observability"
	"idx-signals/registry"
	"idx-signals/repository"
	"idx-signals/signal"
	"idx-signals/snapshot"
)

// App wires the pipeline stages and the signal engine behind one
// orchestrator. The repository may be nil; audit writes then no-op.
type App struct {
	cfg       *config.Config
	store     *filestore.Store
	repo      *repository.Repository
	ingest    *ingest.Stage
	broker    *broker.Stage
	assembler *snapshot.Assembler
	engine    *signal.Engine
}

// NewApp creates the orchestrator. engine may be nil when no model
// artifact is deployed; prediction endpoints then return 503.
func NewApp(cfg *config.Config, store *filestore.Store, repo *repository.Repository,
	ingestStage *ingest.Stage, brokerStage *broker.Stage,
	assembler *snapshot.Assembler, engine *signal.Engine) *App {
	return &App{
		cfg:       cfg,
		store:     store,
		repo:      repo,
		ingest:    ingestStage,
		broker:    brokerStage,
		assembler: assembler,
		engine:    engine,
	}
}

func (a *App) shutdown() {
	if a.repo != nil {
		a.repo.Close()
	}
}

// LoadSymbols reads the ticker universe from the configured registry file.
func (a *App) LoadSymbols() ([]string, error) {
	return registry.Load(a.cfg.Data.TickersPath)
}

// RunPipeline runs ingest, broker aggregation, and snapshot assembly for
// one as-of date. A skipped or failed networked stage does not stop the
// snapshot from being attempted; the snapshot fallback handles gaps.
func (a *App) RunPipeline(ctx context.Context, asOf models.Date, sourceHint string) (*snapshot.Report, error) {
	symbols, err := a.LoadSymbols()
	if err != nil {
		return nil, fmt.Errorf("load symbol registry: %w", err)
	}

	if rep, err := a.RunIngest(ctx, asOf, symbols, sourceHint); err != nil {
		observability.Error("ingest stage failed", "as_of", asOf.String(), "error", err.Error())
	} else if !rep.Skipped {
		if _, err := a.RunBrokerAgg(ctx, asOf, symbols); err != nil {
			observability.Error("broker stage failed", "as_of", asOf.String(), "error", err.Error())
		}
	}

	return a.RunSnapshot(ctx, asOf, symbols)
}

// RunIngest runs the price ingestion stage and records its audit row.
func (a *App) RunIngest(ctx context.Context, asOf models.Date, symbols []string, sourceHint string) (*ingest.Report, error) {
	start := time.Now()
	rep, err := a.ingest.Run(ctx, asOf, symbols, sourceHint)
	if err != nil {
		return nil, err
	}

	run := models.NewPipelineRun(models.StageIngest, asOf)
	run.RowsWritten = rep.Rows
	run.RowsStale = rep.FellBack
	run.RowsMissing = rep.Missing
	run.ErrorCount = rep.FetchErrors
	run.DurationMs = time.Since(start).Milliseconds()
	a.audit(ctx, run)
	return rep, nil
}

// RunBrokerAgg runs the broker aggregation stage and records its audit row.
func (a *App) RunBrokerAgg(ctx context.Context, asOf models.Date, symbols []string) (*broker.Report, error) {
	start := time.Now()
	rep, err := a.broker.Run(ctx, asOf, symbols)
	if err != nil {
		return nil, err
	}

	run := models.NewPipelineRun(models.StageBroker, asOf)
	run.RowsWritten = rep.Rows
	run.RowsMissing = rep.EmptySymbols
	run.ErrorCount = rep.FetchErrors
	run.DurationMs = time.Since(start).Milliseconds()
	a.audit(ctx, run)
	return rep, nil
}

// RunSnapshot builds the snapshot for asOf and records its audit row.
func (a *App) RunSnapshot(ctx context.Context, asOf models.Date, symbols []string) (*snapshot.Report, error) {
	start := time.Now()
	rep, err := a.assembler.Build(asOf, symbols)
	if err != nil {
		return nil, err
	}

	run := models.NewPipelineRun(models.StageSnapshot, asOf)
	run.RowsWritten = rep.Rows
	run.RowsStale = rep.StaleSymbols
	run.DurationMs = time.Since(start).Milliseconds()
	a.audit(ctx, run)
	return rep, nil
}

func (a *App) audit(ctx context.Context, run *models.PipelineRun) {
	if a.repo == nil {
		return
	}
	if err := a.repo.CreatePipelineRun(ctx, run); err != nil {
		observability.Warn("audit write failed",
			"stage", string(run.Stage), "error", err.Error())
	}
}

// Snapshot returns the persisted snapshot for the requested date (zero
// means latest), with the date actually served.
func (a *App) Snapshot(requested models.Date) ([]models.SnapshotRow, models.Date, error) {
	return a.assembler.Load(requested)
}

// SnapshotRow returns one symbol's row from the snapshot served for the
// requested date.
func (a *App) SnapshotRow(requested models.Date, symbol string) (*models.SnapshotRow, models.Date, error) {
	rows, served, err := a.assembler.Load(requested)
	if err != nil {
		return nil, models.Date{}, err
	}
	for i := range rows {
		if rows[i].Symbol == symbol {
			return &rows[i], served, nil
		}
	}
	return nil, served, &models.SymbolNotFoundError{Symbol: symbol}
}

// BrokerAgg returns the broker aggregate file served for the requested
// date (zero means latest).
func (a *App) BrokerAgg(requested models.Date) ([]models.BrokerDailyAggregate, models.Date, error) {
	date, ok, err := a.store.FindBrokerAggOnOrBefore(requested)
	if err != nil {
		return nil, models.Date{}, err
	}
	if !ok {
		return nil, models.Date{}, fmt.Errorf("no broker aggregates available on or before %s", requested)
	}
	aggs, err := a.store.ReadBrokerAgg(date)
	return aggs, date, err
}

// Predict scores one symbol from the snapshot served for the date.
func (a *App) Predict(requested models.Date, symbol string, threshold float64) (*models.Prediction, error) {
	if a.engine == nil {
		return nil, fmt.Errorf("no model artifact loaded")
	}
	rows, _, err := a.assembler.Load(requested)
	if err != nil {
		return nil, err
	}
	return a.engine.ScoreSymbol(rows, symbol, threshold)
}

// PredictBatch scores every scoreable row in the served snapshot, capped
// at the configured batch limit.
func (a *App) PredictBatch(requested models.Date, threshold float64) ([]models.Prediction, models.Date, error) {
	if a.engine == nil {
		return nil, models.Date{}, fmt.Errorf("no model artifact loaded")
	}
	rows, served, err := a.assembler.Load(requested)
	if err != nil {
		return nil, models.Date{}, err
	}
	if limit := a.cfg.Signal.PredictBatchLimit; len(rows) > limit {
		rows = rows[:limit]
	}
	return a.engine.Score(rows, threshold), served, nil
}

// Signals sweeps the snapshots in [from, to] and emits the surviving
// signals, enriched with current prices from the latest snapshot.
// limitPerDay caps each day's emissions at the strongest N; zero means
// no cap. The persisted copy, when a repository exists, is best-effort.
func (a *App) Signals(ctx context.Context, from, to models.Date, threshold float64, limitPerDay int) ([]models.Signal, error) {
	if a.engine == nil {
		return nil, fmt.Errorf("no model artifact loaded")
	}

	dates, err := a.store.SnapshotDates()
	if err != nil {
		return nil, err
	}

	latest, _, err := a.assembler.Load(models.Date{})
	if err != nil {
		return nil, err
	}

	var all []models.Signal
	for _, d := range dates {
		if !from.IsZero() && d.Time.Before(from.Time) {
			continue
		}
		if !to.IsZero() && d.Time.After(to.Time) {
			continue
		}
		rows, err := a.store.ReadSnapshot(d)
		if err != nil {
			return nil, err
		}
		day := a.engine.Signals(rows, latest, threshold)
		if limitPerDay > 0 && len(day) > limitPerDay {
			day = day[:limitPerDay]
		}
		all = append(all, day...)
	}

	if a.repo != nil {
		if err := a.repo.CreateSignals(ctx, all); err != nil {
			observability.Warn("signal audit write failed", "error", err.Error())
		}
	}
	return all, nil
}

// Explain returns scoring bullets for one symbol in the served snapshot.
func (a *App) Explain(requested models.Date, symbol string, threshold float64) (float64, []string, models.Date, error) {
	if a.engine == nil {
		return 0, nil, models.Date{}, fmt.Errorf("no model artifact loaded")
	}
	row, served, err := a.SnapshotRow(requested, symbol)
	if err != nil {
		return 0, nil, models.Date{}, err
	}
	prob, bullets := a.engine.Explain(row, threshold)
	return prob, bullets, served, nil
}
