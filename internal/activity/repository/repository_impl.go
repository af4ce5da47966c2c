package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/adl/internal/activity/domain"
	"gorm.io/gorm"
)

const defaultListLimit = 100

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) Complete(ctx context.Context, db *gorm.DB, entry *domain.Entry) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("id = ? AND status = ?", entry.ID, domain.StatusRunning).
		Updates(map[string]any{
			"status":         entry.Status,
			"success":        entry.Success,
			"message":        entry.Message,
			"duration_ms":    entry.DurationMS,
			"records_count":  entry.RecordsCount,
			"messages_count": entry.MessagesCount,
			"obs_start_time": entry.ObsStartTime,
			"obs_end_time":   entry.ObsEndTime,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Entry, error) {
	var entry domain.Entry
	err := db.WithContext(ctx).Where("id = ?", id).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.Filter) ([]domain.Entry, error) {
	stmt := db.WithContext(ctx).Model(&domain.Entry{})
	if filter.StationLinkID != 0 {
		stmt = stmt.Where("station_link_id = ?", filter.StationLinkID)
	}
	if filter.Direction != "" {
		stmt = stmt.Where("direction = ?", filter.Direction)
	}
	if filter.ChannelID != nil {
		stmt = stmt.Where("dispatch_channel_id = ?", *filter.ChannelID)
	}
	if filter.FailedOnly {
		stmt = stmt.Where("status = ?", domain.StatusFailed)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var entries []domain.Entry
	if err := stmt.Order("time desc, id desc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
