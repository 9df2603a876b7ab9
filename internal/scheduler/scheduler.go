// Package scheduler runs the periodic maintenance jobs: the stale-call sweep
// and the expired-status purge.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"realtime-core/pkg/logger"
	"realtime-core/pkg/metrics"
)

// JobFunc performs one run of a job and reports how many records it touched
type JobFunc func(ctx context.Context) (int, error)

// Job is a named function run on a fixed interval
type Job struct {
	Name     string
	Interval time.Duration
	Run      JobFunc
}

// Scheduler runs jobs until its context is cancelled
type Scheduler struct {
	jobs []Job
}

// New creates a scheduler. Jobs with a non-positive interval are rejected.
func New(jobs ...Job) (*Scheduler, error) {
	for _, job := range jobs {
		if job.Interval <= 0 {
			return nil, fmt.Errorf("job %q: interval must be positive", job.Name)
		}
		if job.Run == nil {
			return nil, fmt.Errorf("job %q: run function is nil", job.Name)
		}
	}
	return &Scheduler{jobs: jobs}, nil
}

// Start runs every job once immediately and then on its interval.
// It blocks until ctx is cancelled and always returns nil; failed runs are
// logged and retried on the next tick.
func (s *Scheduler) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	logger.Info("Starting scheduled job",
		zap.String("job", job.Name),
		zap.Duration("interval", job.Interval))

	s.RunOnce(ctx, job)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Scheduled job stopped", zap.String("job", job.Name))
			return
		case <-ticker.C:
			s.RunOnce(ctx, job)
		}
	}
}

// RunOnce executes a single run of job and records its outcome
func (s *Scheduler) RunOnce(ctx context.Context, job Job) {
	start := time.Now()
	n, err := job.Run(ctx)
	metrics.JobDurationSeconds.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.JobRunsTotal.WithLabelValues(job.Name, "error").Inc()
		logger.Error("Scheduled job failed",
			zap.String("job", job.Name),
			zap.Error(err))
		return
	}

	metrics.JobRunsTotal.WithLabelValues(job.Name, "success").Inc()
	if n > 0 {
		logger.Info("Scheduled job completed",
			zap.String("job", job.Name),
			zap.Int("affected", n))
	}
}
