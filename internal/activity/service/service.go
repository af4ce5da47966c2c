package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/adl/internal/activity/domain"
	"github.com/smallbiznis/adl/internal/clock"
	"github.com/smallbiznis/adl/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("activity.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: clk,
	}
}

func (s *Service) Start(ctx context.Context, params domain.StartParams) (*domain.Entry, error) {
	switch params.Direction {
	case domain.DirectionPull, domain.DirectionPush:
	default:
		return nil, fmt.Errorf("%w: direction %q", domain.ErrInvalidEntry, params.Direction)
	}
	if params.StationLinkID == 0 {
		return nil, fmt.Errorf("%w: missing station link", domain.ErrInvalidEntry)
	}

	entry := &domain.Entry{
		ID:                s.genID.Generate(),
		Time:              s.clock.Now(),
		StationLinkID:     params.StationLinkID,
		Direction:         params.Direction,
		DispatchChannelID: params.ChannelID,
		Status:            domain.StatusRunning,
	}
	if taskID := strings.TrimSpace(params.TaskID); taskID != "" {
		entry.TaskID = &taskID
	}

	err := s.repo.Insert(ctx, s.db, entry)
	if db.IsDuplicateKeyErr(err) {
		// replicas sharing a snowflake node id can collide
		s.log.Warn("activity id collision, retrying", zap.Int64("id", entry.ID.Int64()))
		entry.ID = s.genID.Generate()
		err = s.repo.Insert(ctx, s.db, entry)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Finish closes a running entry. The duration is measured from the entry
// time to now.
func (s *Service) Finish(ctx context.Context, entry *domain.Entry, outcome domain.Outcome) error {
	if entry == nil {
		return domain.ErrEntryNotFound
	}
	if entry.Finished() {
		return domain.ErrEntryFinished
	}

	closed := *entry
	closed.Success = outcome.Success
	closed.Status = domain.StatusFailed
	if outcome.Success {
		closed.Status = domain.StatusCompleted
	}
	if msg := strings.TrimSpace(outcome.Message); msg != "" {
		closed.Message = &msg
	}
	closed.RecordsCount = outcome.RecordsCount
	closed.MessagesCount = outcome.MessagesCount
	closed.ObsStartTime = utcPtr(outcome.ObsStart)
	closed.ObsEndTime = utcPtr(outcome.ObsEnd)
	closed.DurationMS = max(s.clock.Now().Sub(entry.Time).Milliseconds(), 0)

	updated, err := s.repo.Complete(ctx, s.db, &closed)
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrEntryFinished
	}

	*entry = closed
	s.log.Debug("activity finished",
		zap.String("entry_id", entry.ID.String()),
		zap.String("direction", string(entry.Direction)),
		zap.String("status", string(entry.Status)),
		zap.Int("records", entry.RecordsCount),
		zap.Int64("duration_ms", entry.DurationMS),
	)
	return nil
}

func (s *Service) List(ctx context.Context, filter domain.Filter) ([]domain.Entry, error) {
	return s.repo.List(ctx, s.db, filter)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
