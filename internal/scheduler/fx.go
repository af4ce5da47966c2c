package scheduler

import (
	"context"

	aggservice "github.com/smallbiznis/adl/internal/aggregation/service"
	"github.com/smallbiznis/adl/internal/config"
	"github.com/smallbiznis/adl/internal/dispatch"
	"github.com/smallbiznis/adl/internal/ingestion"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(
		func(s *ingestion.Service) Ingestor { return s },
		func(s *aggservice.Service) Aggregator { return s },
		func(e *dispatch.Engine) Dispatcher { return e },
	),
	fx.Provide(New),
	fx.Invoke(NewScheduler),
)

// NewScheduler runs the job loop for the lifetime of the app. Stop waits
// for running jobs to return or for the stop deadline.
func NewScheduler(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if !cfg.Scheduler.Enabled {
		sched.log.Info("scheduler disabled")
		return
	}

	var (
		cancel context.CancelFunc
		done   = make(chan struct{})
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				sched.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
