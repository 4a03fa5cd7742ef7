package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"idx-signals/observability"
)

// Scheduler runs the full pipeline on a cron schedule. It wraps each run
// with panic recovery and skips a tick when the previous run is still in
// flight, so a slow vendor cannot stack overlapping pipelines.
type Scheduler struct {
	cron *cron.Cron
	run  func(ctx context.Context) error
}

// New creates a scheduler around one pipeline run function.
func New(run func(ctx context.Context) error) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
		run: run,
	}
}

// Start registers the schedule and begins ticking. An empty spec is a
// no-op, so deployments without PIPELINE_CRON run on demand only.
func (s *Scheduler) Start(spec string) error {
	if spec == "" {
		observability.Info("no pipeline schedule configured, running on demand only")
		return nil
	}

	_, err := s.cron.AddFunc(spec, func() {
		observability.Info("scheduled pipeline run starting", "schedule", spec)
		if err := s.run(context.Background()); err != nil {
			observability.Error("scheduled pipeline run failed", "error", err.Error())
		}
	})
	if err != nil {
		return fmt.Errorf("invalid pipeline schedule %q: %w", spec, err)
	}

	s.cron.Start()
	observability.Info("pipeline schedule registered", "schedule", spec)
	return nil
}

// Stop halts the scheduler and waits for an in-flight run to finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
