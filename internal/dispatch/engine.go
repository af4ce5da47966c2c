package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	activitydomain "github.com/smallbiznis/adl/internal/activity/domain"
	aggdomain "github.com/smallbiznis/adl/internal/aggregation/domain"
	"github.com/smallbiznis/adl/internal/clock"
	"github.com/smallbiznis/adl/internal/config"
	"github.com/smallbiznis/adl/internal/dispatch/domain"
	obsdomain "github.com/smallbiznis/adl/internal/observation/domain"
	obscontext "github.com/smallbiznis/adl/internal/observability/context"
	"github.com/smallbiznis/adl/internal/observability/logger"
	"github.com/smallbiznis/adl/internal/observability/metrics"
	"github.com/smallbiznis/adl/internal/observability/tracing"
	stationdomain "github.com/smallbiznis/adl/internal/station/domain"
	"github.com/smallbiznis/adl/internal/units"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// ErrStore marks failures reading or writing dispatch state. Sink failures
// are not store errors; they are recorded per station and the run goes on.
var ErrStore = errors.New("dispatch_store_error")

const (
	defaultParallelism = 4
	defaultMaxRecords  = 5000
	defaultSendTimeout = time.Minute
)

type Params struct {
	fx.In

	Lifecycle    fx.Lifecycle `optional:"true"`
	DB           *gorm.DB
	Log          *zap.Logger
	Cfg          config.Config
	Clock        clock.Clock
	Repo         domain.Repository
	Cursors      *CursorStore
	Stations     stationdomain.Repository
	Observations obsdomain.Repository
	Aggregates   aggdomain.Repository
	Activity     activitydomain.Service
	Sinks        *SinkRegistry
	Units        *units.Registry  `optional:"true"`
	Metrics      *metrics.Metrics `optional:"true"`
}

// Result summarises one channel run.
type Result struct {
	Stations int
	Sent     int
	Failed   int
}

type Engine struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          config.DispatchConfig
	clock        clock.Clock
	repo         domain.Repository
	cursors      *CursorStore
	stations     stationdomain.Repository
	observations obsdomain.Repository
	aggregates   aggdomain.Repository
	activity     activitydomain.Service
	registry     *SinkRegistry
	units        *units.Registry
	metrics      *metrics.Metrics

	mu    sync.Mutex
	sinks map[int64]cachedSink
}

// cachedSink is reused until the channel row changes.
type cachedSink struct {
	version time.Time
	sink    Sink
}

func NewEngine(p Params) *Engine {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	reg := p.Units
	if reg == nil {
		reg = units.Default()
	}
	m := p.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	cursors := p.Cursors
	if cursors == nil {
		cursors = NewCursorStore(p.DB, p.Repo)
	}
	cfg := p.Cfg.Dispatch
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = defaultMaxRecords
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	e := &Engine{
		db:           p.DB,
		log:          p.Log.Named("dispatch.engine"),
		cfg:          cfg,
		clock:        clk,
		repo:         p.Repo,
		cursors:      cursors,
		stations:     p.Stations,
		observations: p.Observations,
		aggregates:   p.Aggregates,
		activity:     p.Activity,
		registry:     p.Sinks,
		units:        reg,
		metrics:      m,
		sinks:        make(map[int64]cachedSink),
	}
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error {
				e.Close()
				return nil
			},
		})
	}
	return e
}

// Close releases every cached sink that holds resources.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cached := range e.sinks {
		e.closeSink(cached.sink)
		delete(e.sinks, id)
	}
}

func (e *Engine) closeSink(s Sink) {
	closer, ok := s.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		e.log.Warn("failed to close sink", zap.String("kind", s.Kind()), zap.Error(err))
	}
}

func (e *Engine) sinkFor(ch domain.Channel) (Sink, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cached, ok := e.sinks[ch.ID]; ok {
		if cached.version.Equal(ch.UpdatedAt) {
			return cached.sink, nil
		}
		e.closeSink(cached.sink)
		delete(e.sinks, ch.ID)
	}
	factory, err := e.registry.Factory(ch.Kind)
	if err != nil {
		return nil, err
	}
	sink, err := factory.New(ch)
	if err != nil {
		return nil, fmt.Errorf("build %s sink: %w", ch.Kind, err)
	}
	e.sinks[ch.ID] = cachedSink{version: ch.UpdatedAt, sink: sink}
	return sink, nil
}

// Dispatch sends every linked, non-excluded station's unsent data to the
// channel's sink. Stations run concurrently; a failing station does not
// stop the others.
func (e *Engine) Dispatch(ctx context.Context, channelID int64) (Result, error) {
	var result Result

	ch, err := e.repo.FindChannel(ctx, e.db, channelID)
	if err != nil {
		return result, fmt.Errorf("%w: load channel: %w", ErrStore, err)
	}
	if ch == nil {
		return result, domain.ErrChannelNotFound
	}

	ctx = obscontext.WithChannelID(ctx, ch.ID)
	log := logger.WithContext(ctx, e.log).With(
		zap.Int64("channel_id", ch.ID),
		zap.String("sink", ch.Kind),
	)
	if !ch.Enabled {
		log.Info("channel disabled, skipping")
		return result, nil
	}
	if err := ch.Validate(); err != nil {
		return result, err
	}
	if len(ch.ParameterMappings) == 0 {
		log.Info("channel has no parameter mappings, skipping")
		return result, nil
	}

	sink, err := e.sinkFor(*ch)
	if err != nil {
		return result, err
	}

	links, err := e.stations.ListLinks(ctx, e.db, ch.ConnectionID, false)
	if err != nil {
		return result, fmt.Errorf("%w: list station links: %w", ErrStore, err)
	}

	mappings := make(map[int64]domain.ChannelParameterMapping, len(ch.ParameterMappings))
	paramIDs := make([]int64, 0, len(ch.ParameterMappings))
	for _, m := range ch.ParameterMappings {
		mappings[m.ParameterID] = m
		paramIDs = append(paramIDs, m.ParameterID)
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(e.cfg.Parallelism)

	for _, link := range links {
		if ch.Excludes(link.StationID) {
			continue
		}
		result.Stations++
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("dispatch station %d panicked: %v", link.StationID, r)
				}
				if err != nil {
					mu.Lock()
					result.Failed++
					if errors.Is(err, ErrStore) {
						errs = append(errs, err)
					}
					mu.Unlock()
				}
			}()
			run := &stationSend{
				engine:   e,
				channel:  *ch,
				sink:     sink,
				link:     link,
				mappings: mappings,
				paramIDs: paramIDs,
				log:      logger.WithStation(log, link.StationID, link.Station.Name),
			}
			sent, err := run.execute(ctx)
			mu.Lock()
			result.Sent += sent
			mu.Unlock()
			return err
		})
	}
	_ = g.Wait()

	log.Info("channel dispatch completed",
		zap.Int("stations", result.Stations),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
	)
	return result, errors.Join(errs...)
}

// stationSend carries one station's dispatch for one channel.
type stationSend struct {
	engine   *Engine
	channel  domain.Channel
	sink     Sink
	link     stationdomain.StationLink
	mappings map[int64]domain.ChannelParameterMapping
	paramIDs []int64
	log      *zap.Logger
}

func (s *stationSend) execute(ctx context.Context) (sent int, err error) {
	e := s.engine
	ctx = obscontext.WithStationID(ctx, s.link.StationID)
	ctx, span := tracing.Start(ctx, "dispatch.send_station",
		attribute.Int64("channel.id", s.channel.ID),
		attribute.Int64("station.id", s.link.StationID),
		attribute.String("sink.kind", s.channel.Kind),
	)
	defer func() { tracing.End(span, err) }()

	lastSent, err := e.cursors.LastSent(ctx, s.channel.ID, s.link.StationID)
	if err != nil {
		return 0, fmt.Errorf("%w: read cursor: %w", ErrStore, err)
	}

	samples, err := s.load(ctx, lastSent)
	if err != nil {
		return 0, err
	}
	payload := buildPayload(s.link.Station, samples, s.mappings, e.units, s.log)
	if len(payload) == 0 {
		s.log.Debug("nothing new to send")
		return 0, nil
	}

	channelID := s.channel.ID
	entry, err := e.activity.Start(ctx, activitydomain.StartParams{
		StationLinkID: s.link.ID,
		Direction:     activitydomain.DirectionPush,
		ChannelID:     &channelID,
		TaskID:        obscontext.RunIDFromContext(ctx),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: start activity: %w", ErrStore, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	n, last, sendErr := s.sink.SendStationData(sendCtx, domain.StationTarget{
		Channel: s.channel,
		Link:    s.link,
		Station: s.link.Station,
	}, payload)
	cancel()

	if n > len(payload) {
		n = len(payload)
	}
	var cursorErr error
	if n > 0 && last != nil {
		if _, err := e.cursors.Advance(ctx, s.channel.ID, s.link.StationID, *last, e.clock.Now().UTC()); err != nil {
			cursorErr = fmt.Errorf("%w: advance cursor: %w", ErrStore, err)
		}
	}

	outcome := activitydomain.Outcome{
		Success:      sendErr == nil && cursorErr == nil,
		RecordsCount: n,
	}
	if n > 0 {
		start := payload[0].Timestamp
		end := payload[n-1].Timestamp
		outcome.ObsStart = &start
		outcome.ObsEnd = &end
	}
	runErr := errors.Join(sendErr, cursorErr)
	if runErr != nil {
		outcome.Message = runErr.Error()
	} else {
		outcome.Message = fmt.Sprintf("Sent %d records.", n)
	}
	if err := e.activity.Finish(context.WithoutCancel(ctx), entry, outcome); err != nil {
		s.log.Error("failed to finish activity entry", zap.Error(err))
	}

	e.metrics.RecordDispatched(ctx, s.channel.Kind, n)
	if runErr != nil {
		e.metrics.RecordDispatchFailure(ctx, s.channel.Kind)
		s.log.Error("station dispatch failed", zap.Int("sent", n), zap.Int("payload", len(payload)), zap.Error(runErr))
		return n, runErr
	}
	s.log.Info("station dispatch completed", zap.Int("sent", n))
	return n, nil
}

// load reads samples after the cursor and never before the channel start
// date; the later of the two bounds wins.
func (s *stationSend) load(ctx context.Context, lastSent *time.Time) ([]sample, error) {
	e := s.engine
	from := s.channel.StartDate
	limit := e.cfg.MaxRecords

	if s.channel.SendAggregatedData {
		rows, err := e.aggregates.List(ctx, e.db, s.channel.AggregationPeriod, aggdomain.Query{
			StationID:    s.link.StationID,
			ConnectionID: s.channel.ConnectionID,
			ParameterIDs: s.paramIDs,
			After:        lastSent,
			From:         from,
			Limit:        limit,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: list aggregates: %w", ErrStore, err)
		}
		return trimPartialTail(fromAggregates(rows, s.mappings, s.log), len(rows) >= limit), nil
	}

	rows, err := e.observations.List(ctx, e.db, obsdomain.Query{
		StationID:    s.link.StationID,
		ConnectionID: s.channel.ConnectionID,
		ParameterIDs: s.paramIDs,
		After:        lastSent,
		From:         from,
		Limit:        limit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list observations: %w", ErrStore, err)
	}
	return trimPartialTail(fromObservations(rows), len(rows) >= limit), nil
}
