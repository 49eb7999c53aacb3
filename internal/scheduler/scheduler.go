// Package scheduler runs time-based sync cycles on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"calmirror/internal/syncer"

	"github.com/robfig/cron/v3"
)

// Runner performs a sync run.
type Runner interface {
	RunSync(ctx context.Context, hint *syncer.Hint) *syncer.Result
}

// Scheduler invokes a full sync on every tick of its schedules.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	logger *slog.Logger
}

// New creates a Scheduler. Ticks that fire while a previous tick of the same
// schedule is still running are skipped; overlap with runs started elsewhere
// is handled by the syncer's run guard.
func New(logger *slog.Logger, runner Runner) *Scheduler {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	return &Scheduler{cron: c, runner: runner, logger: logger}
}

// Every returns the schedule spec for a fixed interval.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Add registers spec, a standard five-field cron expression or a descriptor
// such as "@hourly" or "@every 15m", to run a full sync. Runs use ctx.
func (s *Scheduler) Add(ctx context.Context, spec string) error {
	return s.AddFunc(ctx, spec, "sync", s.tick)
}

// AddFunc registers fn under spec. name only labels log output.
func (s *Scheduler) AddFunc(ctx context.Context, spec, name string, fn func(context.Context)) error {
	job := func() {
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	}
	if _, err := s.cron.AddFunc(spec, job); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.logger.Info("Scheduled job.", "job", name, "schedule", spec)
	return nil
}

// Start begins running schedules in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res := s.runner.RunSync(ctx, nil)
	s.logger.Info("Scheduled sync finished.", "status", res.Status, "summary", res.Summary)
}
