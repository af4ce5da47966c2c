package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	activitydomain "github.com/smallbiznis/adl/internal/activity/domain"
	"github.com/smallbiznis/adl/internal/clock"
	"github.com/smallbiznis/adl/internal/config"
	"github.com/smallbiznis/adl/internal/lock"
	obsdomain "github.com/smallbiznis/adl/internal/observation/domain"
	obscontext "github.com/smallbiznis/adl/internal/observability/context"
	"github.com/smallbiznis/adl/internal/observability/logger"
	"github.com/smallbiznis/adl/internal/observability/metrics"
	"github.com/smallbiznis/adl/internal/qc"
	"github.com/smallbiznis/adl/internal/source"
	stationdomain "github.com/smallbiznis/adl/internal/station/domain"
	"github.com/smallbiznis/adl/internal/units"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// ErrStore marks failures of the observation store. They abort the current
// station and the remaining batches of the connection run.
var ErrStore = errors.New("observation_store_error")

const (
	defaultChunkSize   = 1000
	qcMessageChunkSize = 1000
	defaultBatchSize   = 1
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Cfg          config.Config
	GenID        *snowflake.Node
	Clock        clock.Clock
	Stations     stationdomain.Repository
	Observations obsdomain.Repository
	Activity     activitydomain.Service
	Sources      *source.Registry
	Locker       lock.Locker
	Units        *units.Registry  `optional:"true"`
	QCRegistry   *qc.Registry     `optional:"true"`
	Metrics      *metrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          config.Config
	genID        *snowflake.Node
	clock        clock.Clock
	stations     stationdomain.Repository
	observations obsdomain.Repository
	activity     activitydomain.Service
	sources      *source.Registry
	locker       lock.Locker
	units        *units.Registry
	pipelines    *pipelines
	metrics      *metrics.Metrics
	sched        *metrics.SchedulerMetrics
}

func NewService(p Params) *Service {
	log := p.Log.Named("ingestion.service")
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
	return &Service{
		db:           p.DB,
		log:          log,
		cfg:          p.Cfg,
		genID:        p.GenID,
		clock:        clk,
		stations:     p.Stations,
		observations: p.Observations,
		activity:     p.Activity,
		sources:      p.Sources,
		locker:       p.Locker,
		units:        reg,
		pipelines:    newPipelines(log, p.QCRegistry),
		metrics:      m,
		sched:        metrics.Scheduler(),
	}
}

// RunConnection ingests every enabled station of a connection, batch_size
// stations at a time, and returns the saved count per station id.
func (s *Service) RunConnection(ctx context.Context, connectionID int64, opts Options) (map[int64]int, error) {
	conn, err := s.stations.FindConnection(ctx, s.db, connectionID)
	if err != nil {
		return nil, fmt.Errorf("%w: load connection: %w", ErrStore, err)
	}
	if conn == nil {
		return nil, stationdomain.ErrConnectionNotFound
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.Int64("connection_id", conn.ID),
		zap.String("plugin", conn.PluginID),
	)
	results := make(map[int64]int)
	if !conn.Enabled {
		log.Info("connection disabled, skipping")
		return results, nil
	}

	if _, err := s.sources.Get(conn.PluginID); err != nil {
		return nil, err
	}

	links, err := s.stations.ListLinks(ctx, s.db, conn.ID, true)
	if err != nil {
		return nil, fmt.Errorf("%w: list station links: %w", ErrStore, err)
	}
	if len(links) == 0 {
		log.Info("no enabled stations")
		return results, nil
	}

	if opts.TaskID == "" {
		opts.TaskID = obscontext.RunIDFromContext(ctx)
	}

	batchSize := conn.BatchSize
	if batchSize < defaultBatchSize {
		batchSize = defaultBatchSize
	}

	var mu sync.Mutex
	for start := 0; start < len(links); start += batchSize {
		end := min(start+batchSize, len(links))

		var g errgroup.Group
		g.SetLimit(batchSize)
		for _, link := range links[start:end] {
			link := link
			g.Go(func() error {
				saved, err := s.ProcessStation(ctx, *conn, link, opts)
				mu.Lock()
				results[link.StationID] = saved
				mu.Unlock()
				if err == nil {
					return nil
				}
				if errors.Is(err, ErrStore) {
					return err
				}
				log.Warn("station ingestion failed",
					zap.Int64("station_id", link.StationID),
					zap.Error(err),
				)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			log.Error("aborting connection run", zap.Int("remaining_stations", len(links)-end), zap.Error(err))
			return results, err
		}
		s.sched.AddBatchProcessed(obscontext.JobFromContext(ctx), "station", end-start)
	}

	return results, nil
}
