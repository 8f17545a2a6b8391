// Package scheduler runs recurring batch passes on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates a scheduler using the standard 5-field parser
// (min, hour, dom, month, dow). Panicking jobs are recovered and a job still
// running when its next tick arrives is skipped.
func NewScheduler() *Scheduler {
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelInfo))
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &Scheduler{cron: c}
}

// AddJob schedules task under expr. The task receives the context passed to Run.
func (s *Scheduler) AddJob(ctx context.Context, name, expr string, task func(context.Context)) error {
	_, err := s.cron.AddFunc(expr, func() {
		slog.Info("Scheduler: job started", "job", name)
		task(ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid expression %q for %s: %w", expr, name, err)
	}
	slog.Debug("Scheduler.AddJob: scheduled", "job", name, "expr", expr)
	return nil
}

// Run starts the scheduler and blocks until ctx is canceled, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	slog.Info("Scheduler.Run: stopping")
	<-s.cron.Stop().Done()
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}
