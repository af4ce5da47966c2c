package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/adl/internal/dispatch/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindChannel(ctx context.Context, db *gorm.DB, id int64) (*domain.Channel, error) {
	var ch domain.Channel
	err := db.WithContext(ctx).
		Preload("ParameterMappings", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("ParameterMappings.Parameter").
		Preload("StationExclusions").
		Where("id = ?", id).
		Take(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *repo) ListChannels(ctx context.Context, db *gorm.DB, enabledOnly bool) ([]domain.Channel, error) {
	var channels []domain.Channel
	query := db.WithContext(ctx).Order("id ASC")
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}
	if err := query.Find(&channels).Error; err != nil {
		return nil, err
	}
	return channels, nil
}

func (r *repo) FindStatus(ctx context.Context, db *gorm.DB, channelID, stationID int64) (*domain.StationChannelDispatchStatus, error) {
	var status domain.StationChannelDispatchStatus
	err := db.WithContext(ctx).
		Where("channel_id = ? AND station_id = ?", channelID, stationID).
		Take(&status).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (r *repo) AdvanceStatus(ctx context.Context, db *gorm.DB, channelID, stationID int64, t time.Time, now time.Time) error {
	t = t.UTC()
	moved, err := r.moveStatus(ctx, db, channelID, stationID, t, now)
	if err != nil || moved {
		return err
	}

	status := domain.StationChannelDispatchStatus{
		ChannelID:       channelID,
		StationID:       stationID,
		LastSentObsTime: &t,
		UpdatedAt:       now.UTC(),
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&status)
	if res.Error != nil || res.RowsAffected > 0 {
		return res.Error
	}

	// a concurrent writer created the row first
	_, err = r.moveStatus(ctx, db, channelID, stationID, t, now)
	return err
}

// moveStatus updates an existing cursor only when t is later than the stored
// value. The guard lives in the WHERE clause so it stays portable across
// dialects.
func (r *repo) moveStatus(ctx context.Context, db *gorm.DB, channelID, stationID int64, t, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.StationChannelDispatchStatus{}).
		Where("channel_id = ? AND station_id = ?", channelID, stationID).
		Where("last_sent_obs_time IS NULL OR last_sent_obs_time < ?", t).
		Updates(map[string]any{
			"last_sent_obs_time": t,
			"updated_at":         now.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.StationChannelDispatchStatus{}).
		Where("channel_id = ? AND station_id = ?", channelID, stationID).
		Count(&count).Error
	return count > 0, err
}
