// Package scheduler runs the periodic jobs of the news assistant (premium
// digests, conversation cleanup) on cron expressions.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*[]cron.Option)

// WithLocation evaluates cron expressions in loc instead of the server zone.
func WithLocation(loc *time.Location) Option {
	return func(opts *[]cron.Option) { *opts = append(*opts, cron.WithLocation(loc)) }
}

// slogLogger adapts slog to cron.Logger.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("Scheduler: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("Scheduler: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	logger := slogLogger{}
	// Standard 5-field parser (min, hour, dom, month, dow). A run still in
	// progress skips the next tick instead of overlapping it.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	cronOpts := []cron.Option{
		cron.WithParser(parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	}
	for _, opt := range opts {
		opt(&cronOpts)
	}
	c := cron.New(cronOpts...)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start()
	return &Scheduler{cron: c, ctx: ctx, cancel: cancel}
}

// AddJob schedules task under name using the provided cron expression.
// It returns an error if the expression is invalid. The task context is
// canceled by Stop.
func (s *Scheduler) AddJob(name, expr string, task func(ctx context.Context)) error {
	id, err := s.cron.AddFunc(expr, func() {
		start := time.Now()
		slog.Debug("Scheduler: job started", "job", name)
		task(s.ctx)
		slog.Debug("Scheduler: job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return err
	}
	slog.Info("Scheduler: job registered", "job", name, "expr", expr, "next", s.cron.Entry(id).Next)
	return nil
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop cancels running jobs and waits for them to return, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		slog.Warn("Scheduler: stop timed out with jobs still running")
	}
}
