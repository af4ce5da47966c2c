package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/adl/internal/aggregation/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultChunkSize = 500

var upsertConflict = clause.OnConflict{
	Columns: []clause.Column{
		{Name: "bucket"},
		{Name: "station_id"},
		{Name: "connection_id"},
		{Name: "parameter_id"},
	},
	DoUpdates: clause.AssignmentColumns([]string{
		"min_value",
		"max_value",
		"avg_value",
		"sum_value",
		"records_count",
		"updated_at",
	}),
}

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func table(db *gorm.DB, period domain.Period) (*gorm.DB, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPeriod, period)
	}
	return db.Table(period.Table()), nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, period domain.Period, rows []domain.Aggregate, chunkSize int) error {
	if len(rows) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	for start := 0; start < len(rows); start += chunkSize {
		end := min(start+chunkSize, len(rows))
		chunk := rows[start:end]
		query, err := table(db.WithContext(ctx), period)
		if err != nil {
			return err
		}
		if err := query.Clauses(upsertConflict).Create(&chunk).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) LastBucket(ctx context.Context, db *gorm.DB, period domain.Period, stationID, connectionID int64) (*time.Time, error) {
	query, err := table(db.WithContext(ctx), period)
	if err != nil {
		return nil, err
	}
	var row domain.Aggregate
	err = scope(query, stationID, connectionID).
		Select("bucket").
		Order("bucket DESC").
		Limit(1).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := row.Bucket.UTC()
	return &t, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, period domain.Period, q domain.Query) ([]domain.Aggregate, error) {
	query, err := table(db.WithContext(ctx), period)
	if err != nil {
		return nil, err
	}
	query = scope(query, q.StationID, q.ConnectionID)
	if len(q.ParameterIDs) > 0 {
		query = query.Where("parameter_id IN ?", q.ParameterIDs)
	}
	if q.After != nil {
		query = query.Where("bucket > ?", q.After.UTC())
	}
	if q.From != nil {
		query = query.Where("bucket >= ?", q.From.UTC())
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var rows []domain.Aggregate
	if err := query.Order("bucket ASC").Order("parameter_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func scope(db *gorm.DB, stationID, connectionID int64) *gorm.DB {
	if stationID != 0 {
		db = db.Where("station_id = ?", stationID)
	}
	if connectionID != 0 {
		db = db.Where("connection_id = ?", connectionID)
	}
	return db
}
