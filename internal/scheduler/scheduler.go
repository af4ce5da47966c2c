package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/adl/internal/clock"
	"github.com/smallbiznis/adl/internal/config"
	"github.com/smallbiznis/adl/internal/dispatch"
	dispatchdomain "github.com/smallbiznis/adl/internal/dispatch/domain"
	"github.com/smallbiznis/adl/internal/ingestion"
	"github.com/smallbiznis/adl/internal/lock"
	obsmetrics "github.com/smallbiznis/adl/internal/observability/metrics"
	stationdomain "github.com/smallbiznis/adl/internal/station/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

const (
	JobIngest          = "ingest"
	JobDispatch        = "dispatch"
	JobAggregateHourly = "aggregate_hourly"
	JobAggregateDaily  = "aggregate_daily"
)

type Ingestor interface {
	RunConnection(ctx context.Context, connectionID int64, opts ingestion.Options) (map[int64]int, error)
}

type Aggregator interface {
	AggregateHourly(ctx context.Context, connectionID int64) (int, error)
	AggregateDaily(ctx context.Context, from *time.Time) (int, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, channelID int64) (dispatch.Result, error)
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Locker      lock.Locker
	Settings    *config.SettingsHolder
	Stations    stationdomain.Repository
	Channels    dispatchdomain.Repository
	Ingestion   Ingestor
	Aggregation Aggregator
	Dispatch    Dispatcher
	Config      Config `optional:"true"`
}

type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	locker      lock.Locker
	settings    *config.SettingsHolder
	stations    stationdomain.Repository
	channels    dispatchdomain.Repository
	ingestion   Ingestor
	aggregation Aggregator
	dispatch    Dispatcher
	due         *dueTracker
	daily       *dailyTrigger

	slots    chan struct{}
	running  sync.WaitGroup
	mu       sync.Mutex
	inflight map[string]struct{}
}

// job is one unit of scheduled work. kind labels metrics; name keys the
// task lock and the due tracker.
type job struct {
	kind string
	name string
	run  func(ctx context.Context) (int, error)
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Locker == nil ||
		p.Stations == nil || p.Channels == nil || p.Ingestion == nil || p.Aggregation == nil || p.Dispatch == nil {
		return nil, ErrInvalidConfig
	}
	settings := p.Settings
	if settings == nil {
		settings = config.NewStaticSettings(config.DefaultSettings())
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         cfg,
		genID:       p.GenID,
		clock:       p.Clock,
		locker:      p.Locker,
		settings:    settings,
		stations:    p.Stations,
		channels:    p.Channels,
		ingestion:   p.Ingestion,
		aggregation: p.Aggregation,
		dispatch:    p.Dispatch,
		due:         newDueTracker(),
		daily:       &dailyTrigger{},
		slots:       make(chan struct{}, cfg.Concurrency),
		inflight:    make(map[string]struct{}),
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, j job) error {
	started := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()
	key := lock.TaskKey(j.name)
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.TaskLockTTL)
	if err != nil {
		schedMetrics.IncJobError(j.kind, err)
		return fmt.Errorf("%s: acquire task lock: %w", j.name, err)
	}
	if !ok {
		schedMetrics.IncLockContended(obsmetrics.LockScopeTask)
		schedMetrics.IncBatchDeferred(j.kind, obsmetrics.BatchDeferredReasonLockHeld)
		s.log.Info("job still running elsewhere, skipping", zap.String("job", j.name))
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn("failed to release task lock", zap.String("job", j.name), zap.Error(err))
		}
	}()

	ctx, run := s.startJobRun(ctx, j.kind, j.name)
	s.logJobStart(ctx, run)
	schedMetrics.IncJobRun(j.kind)

	processed, err := j.run(ctx)
	run.AddProcessed(processed)
	schedMetrics.ObserveJobDuration(j.kind, time.Since(started))
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(j.kind)
	}
	schedMetrics.IncJobError(j.kind, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", j.name, err)
}

// Tick starts every due job in the background and returns once they are
// launched. Job failures are logged; the returned error only covers
// finding due work.
func (s *Scheduler) Tick(ctx context.Context) error {
	jobs, err := s.dueJobs(ctx, s.clock.Now())
	for _, j := range jobs {
		s.launch(ctx, j, func(jobErr error) {
			s.log.Warn("scheduled job failed", zap.String("job", j.name), zap.Error(jobErr))
		})
	}
	return err
}

// RunOnce starts every due job and waits for those jobs, joining their
// errors.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	jobs, err := s.dueJobs(ctx, s.clock.Now())

	var (
		mu   sync.Mutex
		done []<-chan struct{}
	)
	for _, j := range jobs {
		done = append(done, s.launch(ctx, j, func(jobErr error) {
			mu.Lock()
			err = errors.Join(err, jobErr)
			mu.Unlock()
		}))
	}
	for _, d := range done {
		<-d
	}
	return err
}

// Wait blocks until every launched job has returned.
func (s *Scheduler) Wait() {
	s.running.Wait()
}

// launch runs j on its own goroutine once a concurrency slot frees up and
// returns a channel closed when it is done. j must already be marked in
// flight by dueJobs.
func (s *Scheduler) launch(ctx context.Context, j job, onErr func(error)) <-chan struct{} {
	done := make(chan struct{})
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer close(done)
		defer s.finish(j.name)
		select {
		case s.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-s.slots }()
		if err := s.runJob(ctx, j); err != nil {
			onErr(err)
		}
	}()
	return done
}

// claim marks name in flight when it is due and not already running. A
// running job is not claimed, so it comes due again on the next tick after
// it returns.
func (s *Scheduler) claim(name string, every time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[name]; busy {
		return false
	}
	if !s.due.claim(name, every, now) {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

// start marks name in flight unless it is already running.
func (s *Scheduler) start(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[name]; busy {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Scheduler) finish(name string) {
	s.mu.Lock()
	delete(s.inflight, name)
	s.mu.Unlock()
}

func (s *Scheduler) dueJobs(ctx context.Context, now time.Time) ([]job, error) {
	var (
		jobs []job
		err  error
	)
	settings := s.settings.Get()

	if s.isJobEnabled(JobIngest) || s.isJobEnabled(JobAggregateHourly) {
		conns, listErr := s.stations.ListConnections(ctx, s.db, true)
		if listErr != nil {
			err = errors.Join(err, fmt.Errorf("list connections: %w", listErr))
		}
		for _, conn := range conns {
			if s.isJobEnabled(JobIngest) {
				name := jobName(JobIngest, conn.ID)
				if s.claim(name, time.Duration(conn.IntervalMinutes)*time.Minute, now) {
					jobs = append(jobs, s.ingestJob(name, conn.ID))
				}
			}
			if s.isJobEnabled(JobAggregateHourly) {
				name := jobName(JobAggregateHourly, conn.ID)
				if s.claim(name, settings.HourlyAggregationEvery, now) {
					jobs = append(jobs, s.hourlyJob(name, conn.ID))
				}
			}
		}
	}

	if s.isJobEnabled(JobDispatch) {
		channels, listErr := s.channels.ListChannels(ctx, s.db, true)
		if listErr != nil {
			err = errors.Join(err, fmt.Errorf("list dispatch channels: %w", listErr))
		}
		for _, ch := range channels {
			name := jobName(JobDispatch, ch.ID)
			if s.claim(name, time.Duration(ch.DataCheckInterval)*time.Minute, now) {
				jobs = append(jobs, s.dispatchJob(name, ch.ID))
			}
		}
	}

	if s.isJobEnabled(JobAggregateDaily) {
		fire, dueErr := s.daily.due(settings, now)
		if dueErr != nil {
			err = errors.Join(err, dueErr)
		}
		if fire && s.start(JobAggregateDaily) {
			jobs = append(jobs, s.dailyJob())
		}
	}
	return jobs, err
}

func (s *Scheduler) ingestJob(name string, connectionID int64) job {
	return job{kind: JobIngest, name: name, run: func(ctx context.Context) (int, error) {
		results, err := s.ingestion.RunConnection(ctx, connectionID, ingestion.Options{})
		total := 0
		for _, n := range results {
			total += n
		}
		s.logger(ctx).Info("ingestion results",
			zap.Int64("connection_id", connectionID),
			zap.Any("saved_by_station", results),
		)
		return total, err
	}}
}

func (s *Scheduler) hourlyJob(name string, connectionID int64) job {
	return job{kind: JobAggregateHourly, name: name, run: func(ctx context.Context) (int, error) {
		return s.aggregation.AggregateHourly(ctx, connectionID)
	}}
}

func (s *Scheduler) dispatchJob(name string, channelID int64) job {
	return job{kind: JobDispatch, name: name, run: func(ctx context.Context) (int, error) {
		res, err := s.dispatch.Dispatch(ctx, channelID)
		s.logger(ctx).Info("dispatch results",
			zap.Int64("channel_id", channelID),
			zap.Int("n_sent_total", res.Sent),
			zap.Int("stations_failed", res.Failed),
		)
		return res.Sent, err
	}}
}

func (s *Scheduler) dailyJob() job {
	return job{kind: JobAggregateDaily, name: JobAggregateDaily, run: func(ctx context.Context) (int, error) {
		return s.aggregation.AggregateDaily(ctx, nil)
	}}
}

func jobName(kind string, id int64) string {
	return kind + ":" + strconv.FormatInt(id, 10)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.Tick(ctx); err != nil {
			s.log.Warn("scheduler tick failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			s.Wait()
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(kind string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, kind) {
			return true
		}
	}
	return false
}
