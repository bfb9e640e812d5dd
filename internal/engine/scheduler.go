package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Cycler runs one reconciliation cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (CycleReport, error)
}

// Scheduler runs cycles on a cron schedule until its context is cancelled.
//
// Overlapping runs are skipped rather than queued, and a panicking cycle is
// recovered and logged so the loop keeps going.
type Scheduler struct {
	cycler Cycler
	spec   string
	logger *slog.Logger
}

// EverySpec returns the cron descriptor for a fixed interval.
func EverySpec(d time.Duration) string {
	if d <= 0 {
		d = DefaultInterval
	}
	return "@every " + d.String()
}

// NewScheduler validates spec and creates a Scheduler. An empty spec runs
// every DefaultInterval.
func NewScheduler(c Cycler, spec string, logger *slog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = EverySpec(DefaultInterval)
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cycler: c, spec: spec, logger: logger}, nil
}

// Spec returns the schedule expression.
func (s *Scheduler) Spec() string {
	return s.spec
}

// Run runs one cycle immediately, then on schedule. It blocks until ctx is
// done and waits for a running cycle to finish before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	clog := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	job := cron.FuncJob(func() { s.runOnce(ctx) })
	if _, err := c.AddJob(s.spec, job); err != nil {
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}

	s.logger.Info("scheduler starting", "schedule", s.spec)
	s.runOnce(ctx)
	c.Start()

	<-ctx.Done()
	s.logger.Info("scheduler stopping")
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.cycler.RunCycle(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("cycle failed", "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
