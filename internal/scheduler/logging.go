package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/adl/internal/observability/context"
	obslogger "github.com/smallbiznis/adl/internal/observability/logger"
	"go.uber.org/zap"
)

type jobRun struct {
	job            string
	name           string
	runID          string
	startedAt      time.Time
	processedCount int
	errorCount     int
}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

// startJobRun tags ctx with a fresh run id that ingestion and dispatch
// copy onto their activity entries.
func (s *Scheduler) startJobRun(ctx context.Context, job, name string) (context.Context, *jobRun) {
	run := &jobRun{
		job:       job,
		name:      name,
		runID:     s.genID.Generate().String(),
		startedAt: s.clock.Now(),
	}
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	ctx = obscontext.WithRunID(ctx, run.runID)
	ctx = obscontext.WithJob(ctx, name)
	return ctx, run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	s.logger(ctx).Info("scheduler.job.start")
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	fields := []zap.Field{
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("error_count", run.errorCount),
	}
	log := s.logger(ctx)
	if run.errorCount > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}
