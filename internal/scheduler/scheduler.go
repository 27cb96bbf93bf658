// Package scheduler runs a job on a cron schedule for watch mode.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs a Job once at start and then on every schedule tick.
// A tick that fires while the previous run is still going is skipped.
type Scheduler struct {
	spec   string
	job    Job
	cron   *cron.Cron
	logger *slog.Logger
	wg     sync.WaitGroup
}

// New creates a Scheduler for a standard five-field cron expression or a
// descriptor such as "@every 10m". Pass nil logger to use the default logger.
func New(spec string, job Job, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", spec, err)
	}
	logger = logger.With("component", "scheduler")
	return &Scheduler{
		spec:   spec,
		job:    job,
		cron:   cron.New(cron.WithLogger(cronLogger{logger})),
		logger: logger,
	}, nil
}

// Start runs the job immediately and registers it on the schedule. It is
// non-blocking. Runs stop once ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	l := cronLogger{s.logger}
	job := cron.NewChain(cron.Recover(l), cron.SkipIfStillRunning(l)).
		Then(cron.FuncJob(func() { s.run(ctx) }))

	if _, err := s.cron.AddJob(s.spec, job); err != nil {
		return fmt.Errorf("registering job: %w", err)
	}

	// Run immediately.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		job.Run()
	}()

	s.cron.Start()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
	return nil
}

// Wait blocks until ctx passed to Start is cancelled and in-flight runs have
// returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.job(ctx); err != nil {
		s.logger.Error("scheduled run failed", "error", err)
		return
	}
	s.logger.Debug("scheduled run finished")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
