package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/smallbiznis/adl/internal/aggregation/domain"
	"github.com/smallbiznis/adl/internal/clock"
	"github.com/smallbiznis/adl/internal/config"
	obsdomain "github.com/smallbiznis/adl/internal/observation/domain"
	"github.com/smallbiznis/adl/internal/observability/logger"
	"github.com/smallbiznis/adl/internal/observability/metrics"
	"github.com/smallbiznis/adl/internal/observability/tracing"
	stationdomain "github.com/smallbiznis/adl/internal/station/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// hourlyScanSpan bounds how many hours of raw rows are loaded at once.
const hourlyScanSpan = 24 * time.Hour

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Settings     *config.SettingsHolder
	Repo         domain.Repository
	Stations     stationdomain.Repository
	Observations obsdomain.Repository
	Metrics      *metrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	settings     *config.SettingsHolder
	repo         domain.Repository
	stations     stationdomain.Repository
	observations obsdomain.Repository
	metrics      *metrics.Metrics
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	settings := p.Settings
	if settings == nil {
		settings = config.NewStaticSettings(config.DefaultSettings())
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("aggregation.service"),
		clock:        clk,
		settings:     settings,
		repo:         p.Repo,
		stations:     p.Stations,
		observations: p.Observations,
		metrics:      p.Metrics,
	}
}

// AggregateHourly rolls up sub-daily observations of every station of a
// connection into hourly buckets, up to one hour before the current hour.
func (s *Service) AggregateHourly(ctx context.Context, connectionID int64) (written int, err error) {
	ctx, span := tracing.Start(ctx, "aggregation.hourly", attribute.Int64("connection.id", connectionID))
	defer func() { tracing.End(span, err) }()
	log := logger.WithContext(ctx, s.log).With(zap.Int64("connection_id", connectionID))

	conn, err := s.stations.FindConnection(ctx, s.db, connectionID)
	if err != nil {
		return 0, err
	}
	if conn == nil {
		return 0, stationdomain.ErrConnectionNotFound
	}
	links, err := s.stations.ListLinks(ctx, s.db, conn.ID, false)
	if err != nil {
		return 0, err
	}

	to := s.clock.Now().UTC().Truncate(time.Hour).Add(-time.Hour)
	params := newParamCache(s)
	notDaily := false

	for _, link := range links {
		from, err := s.hourlyStart(ctx, link)
		if err != nil {
			return written, err
		}
		if from == nil {
			log.Debug("no observations to aggregate", zap.Int64("station_id", link.StationID))
			continue
		}

		start := from.UTC().Truncate(time.Hour)
		stationWritten := 0
		for cur := start; cur.Before(to); {
			next := cur.Add(hourlyScanSpan)
			if next.After(to) {
				next = to
			}
			rows, err := s.observations.List(ctx, s.db, obsdomain.Query{
				StationID:    link.StationID,
				ConnectionID: conn.ID,
				From:         &cur,
				Before:       &next,
				IsDaily:      &notDaily,
			})
			if err != nil {
				return written, err
			}
			aggs, err := s.rollup(ctx, params, rows, func(t time.Time) time.Time {
				return t.UTC().Truncate(time.Hour)
			})
			if err != nil {
				return written, err
			}
			if err := s.repo.Upsert(ctx, s.db, domain.PeriodHourly, aggs, 0); err != nil {
				return written, fmt.Errorf("save hourly aggregates: %w", err)
			}
			stationWritten += len(aggs)
			cur = next
		}

		written += stationWritten
		log.Debug("hourly aggregation done",
			zap.Int64("station_id", link.StationID),
			zap.Time("from", start),
			zap.Time("to", to),
			zap.Int("buckets", stationWritten),
		)
	}

	s.metrics.RecordAggregatesWritten(ctx, string(domain.PeriodHourly), written)
	log.Info("aggregated hourly records", zap.Int("count", written))
	return written, nil
}

func (s *Service) hourlyStart(ctx context.Context, link stationdomain.StationLink) (*time.Time, error) {
	if link.AggregateFromDate != nil {
		return link.AggregateFromDate, nil
	}
	last, err := s.repo.LastBucket(ctx, s.db, domain.PeriodHourly, link.StationID, link.ConnectionID)
	if err != nil || last != nil {
		return last, err
	}
	return s.observations.EarliestTime(ctx, s.db, link.StationID, link.ConnectionID)
}

// AggregateDaily rolls up all observations into days of the configured
// aggregation timezone, up to the start of today. A nil from resumes from
// the last daily bucket or the earliest observation.
func (s *Service) AggregateDaily(ctx context.Context, from *time.Time) (written int, err error) {
	ctx, span := tracing.Start(ctx, "aggregation.daily")
	defer func() { tracing.End(span, err) }()
	log := logger.WithContext(ctx, s.log)

	loc := s.settings.Get().DailyLocation()
	if from == nil {
		from, err = s.repo.LastBucket(ctx, s.db, domain.PeriodDaily, 0, 0)
		if err != nil {
			return 0, err
		}
	}
	if from == nil {
		from, err = s.observations.EarliestTime(ctx, s.db, 0, 0)
		if err != nil {
			return 0, err
		}
	}
	if from == nil {
		log.Warn("no observation records to aggregate")
		return 0, nil
	}

	start := startOfDay(*from, loc)
	end := startOfDay(s.clock.Now(), loc)
	params := newParamCache(s)

	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		next := day.AddDate(0, 0, 1)
		rows, err := s.observations.List(ctx, s.db, obsdomain.Query{From: &day, Before: &next})
		if err != nil {
			return written, err
		}
		if len(rows) == 0 {
			continue
		}
		bucket := day.UTC()
		aggs, err := s.rollup(ctx, params, rows, func(time.Time) time.Time { return bucket })
		if err != nil {
			return written, err
		}
		if err := s.repo.Upsert(ctx, s.db, domain.PeriodDaily, aggs, 0); err != nil {
			return written, fmt.Errorf("save daily aggregates: %w", err)
		}
		written += len(aggs)
	}

	s.metrics.RecordAggregatesWritten(ctx, string(domain.PeriodDaily), written)
	log.Info("aggregated daily records",
		zap.Time("from", start),
		zap.Time("to", end),
		zap.Int("count", written),
	)
	return written, nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

type groupKey struct {
	bucket       int64
	stationID    int64
	connectionID int64
	parameterID  int64
}

// rollup groups rows by bucket and series and computes the statistics.
func (s *Service) rollup(ctx context.Context, params *paramCache, rows []obsdomain.Record, bucketOf func(time.Time) time.Time) ([]domain.Aggregate, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	groups := make(map[groupKey][]float64)
	ids := make([]int64, 0)
	for _, row := range rows {
		b := bucketOf(row.Time)
		key := groupKey{
			bucket:       b.UnixNano(),
			stationID:    row.StationID,
			connectionID: row.ConnectionID,
			parameterID:  row.ParameterID,
		}
		groups[key] = append(groups[key], row.Value)
		ids = append(ids, row.ParameterID)
	}
	if err := params.load(ctx, ids); err != nil {
		return nil, err
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.bucket != b.bucket {
			return a.bucket < b.bucket
		}
		if a.stationID != b.stationID {
			return a.stationID < b.stationID
		}
		if a.connectionID != b.connectionID {
			return a.connectionID < b.connectionID
		}
		return a.parameterID < b.parameterID
	})

	now := s.clock.Now()
	out := make([]domain.Aggregate, 0, len(keys))
	for _, k := range keys {
		agg := summarise(groups[k], params.circular(k.parameterID))
		agg.Bucket = time.Unix(0, k.bucket).UTC()
		agg.StationID = k.stationID
		agg.ConnectionID = k.connectionID
		agg.ParameterID = k.parameterID
		agg.UpdatedAt = now
		out = append(out, agg)
	}
	return out, nil
}

// summarise computes min, max, sum, count and the mean of values. The mean
// is circular for directional parameters and 0 when it is undefined.
func summarise(values []float64, circular bool) domain.Aggregate {
	agg := domain.Aggregate{
		MinValue:     values[0],
		MaxValue:     values[0],
		RecordsCount: len(values),
	}
	for _, v := range values {
		agg.MinValue = min(agg.MinValue, v)
		agg.MaxValue = max(agg.MaxValue, v)
		agg.SumValue += v
	}
	if circular {
		agg.AvgValue, _ = CircularMean(values)
	} else {
		agg.AvgValue = agg.SumValue / float64(len(values))
	}
	return agg
}

// paramCache remembers which parameters are directional for one run.
type paramCache struct {
	svc    *Service
	method map[int64]bool
}

func newParamCache(s *Service) *paramCache {
	return &paramCache{svc: s, method: make(map[int64]bool)}
}

func (c *paramCache) load(ctx context.Context, ids []int64) error {
	missing := make([]int64, 0)
	seen := make(map[int64]struct{})
	for _, id := range ids {
		if _, ok := c.method[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return nil
	}
	params, err := c.svc.stations.ListParameters(ctx, c.svc.db, missing)
	if err != nil {
		return err
	}
	for _, id := range missing {
		c.method[id] = false
	}
	for _, p := range params {
		c.method[p.ID] = p.IsCircular()
	}
	return nil
}

func (c *paramCache) circular(id int64) bool {
	return c.method[id]
}
