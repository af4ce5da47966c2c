package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrInvalidPeriod = errors.New("invalid_aggregation_period")

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, period Period, rows []Aggregate, chunkSize int) error
	// LastBucket returns the newest bucket; zero ids match any.
	LastBucket(ctx context.Context, db *gorm.DB, period Period, stationID, connectionID int64) (*time.Time, error)
	List(ctx context.Context, db *gorm.DB, period Period, q Query) ([]Aggregate, error)
}
