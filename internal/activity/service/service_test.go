package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/adl/internal/activity/domain"
	"github.com/smallbiznis/adl/internal/activity/repository"
	"github.com/smallbiznis/adl/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *clock.FakeClock) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Entry{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clk,
	})
	return svc, clk
}

func TestStartFinishRecordsDurationAndBounds(t *testing.T) {
	ctx := context.Background()
	svc, clk := newTestService(t)

	entry, err := svc.Start(ctx, domain.StartParams{StationLinkID: 4, Direction: domain.DirectionPull, TaskID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, entry.Status)
	require.NotNil(t, entry.TaskID)

	clk.Advance(1500 * time.Millisecond)
	obsStart := time.Date(2025, 5, 1, 6, 0, 0, 0, time.UTC)
	obsEnd := obsStart.Add(time.Hour)
	require.NoError(t, svc.Finish(ctx, entry, domain.Outcome{
		Success:      true,
		Message:      "Processed 12 records.",
		RecordsCount: 12,
		ObsStart:     &obsStart,
		ObsEnd:       &obsEnd,
	}))

	assert.Equal(t, domain.StatusCompleted, entry.Status)
	assert.Equal(t, int64(1500), entry.DurationMS)

	entries, err := svc.List(ctx, domain.Filter{StationLinkID: 4})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 12, entries[0].RecordsCount)
	assert.True(t, entries[0].Success)
	require.NotNil(t, entries[0].ObsEndTime)
	assert.True(t, entries[0].ObsEndTime.Equal(obsEnd))
}

func TestFinishTwiceIsRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	entry, err := svc.Start(ctx, domain.StartParams{StationLinkID: 9, Direction: domain.DirectionPush})
	require.NoError(t, err)
	require.NoError(t, svc.Finish(ctx, entry, domain.Outcome{Success: false, Message: "sink down"}))
	assert.Equal(t, domain.StatusFailed, entry.Status)

	err = svc.Finish(ctx, entry, domain.Outcome{Success: true})
	assert.ErrorIs(t, err, domain.ErrEntryFinished)

	// a stale copy that still looks running is rejected by the store
	stale := *entry
	stale.Status = domain.StatusRunning
	err = svc.Finish(ctx, &stale, domain.Outcome{Success: true})
	assert.ErrorIs(t, err, domain.ErrEntryFinished)

	failed, err := svc.List(ctx, domain.Filter{FailedOnly: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].Message)
	assert.Equal(t, "sink down", *failed[0].Message)
}

func TestListFiltersAndOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	svc, clk := newTestService(t)
	channel := int64(77)

	for i := 0; i < 3; i++ {
		_, err := svc.Start(ctx, domain.StartParams{StationLinkID: 1, Direction: domain.DirectionPull})
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}
	_, err := svc.Start(ctx, domain.StartParams{StationLinkID: 1, Direction: domain.DirectionPush, ChannelID: &channel})
	require.NoError(t, err)

	pulls, err := svc.List(ctx, domain.Filter{StationLinkID: 1, Direction: domain.DirectionPull, Limit: 2})
	require.NoError(t, err)
	require.Len(t, pulls, 2)
	assert.True(t, pulls[0].Time.After(pulls[1].Time))

	pushes, err := svc.List(ctx, domain.Filter{ChannelID: &channel})
	require.NoError(t, err)
	require.Len(t, pushes, 1)
	assert.Equal(t, domain.DirectionPush, pushes[0].Direction)

	_, err = svc.Start(ctx, domain.StartParams{StationLinkID: 1, Direction: "sideways"})
	assert.ErrorIs(t, err, domain.ErrInvalidEntry)
}

type collidingRepo struct {
	domain.Repository
	inserts int
}

func (r *collidingRepo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	r.inserts++
	if r.inserts == 1 {
		return fmt.Errorf("insert activity: %w", gorm.ErrDuplicatedKey)
	}
	return r.Repository.Insert(ctx, db, entry)
}

func TestStartRetriesIDCollisionOnce(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Entry{}))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo := &collidingRepo{Repository: repository.Provide()}
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repo,
		Clock: clock.NewFakeClock(time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)),
	})

	entry, err := svc.Start(context.Background(), domain.StartParams{StationLinkID: 9, Direction: domain.DirectionPush})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.inserts)

	stored, err := svc.List(context.Background(), domain.Filter{StationLinkID: 9})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, entry.ID, stored[0].ID)
}
