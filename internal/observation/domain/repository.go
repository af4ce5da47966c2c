package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	// UpsertBatch writes records in chunks; the last write per key wins.
	UpsertBatch(ctx context.Context, db *gorm.DB, records []Record, chunkSize int) error
	ResolveIDs(ctx context.Context, db *gorm.DB, stationID, connectionID int64, keys []Key) (map[Key]int64, error)
	InsertQCMessages(ctx context.Context, db *gorm.DB, messages []QCMessage, chunkSize int) error
	LatestTime(ctx context.Context, db *gorm.DB, stationID, connectionID int64) (*time.Time, error)
	// LatestTime and EarliestTime treat a zero station or connection id as any.
	EarliestTime(ctx context.Context, db *gorm.DB, stationID, connectionID int64) (*time.Time, error)
	History(ctx context.Context, db *gorm.DB, stationID, connectionID, parameterID int64, before time.Time, limit int) ([]Record, error)
	List(ctx context.Context, db *gorm.DB, q Query) ([]Record, error)
	ListQCMessages(ctx context.Context, db *gorm.DB, obsRecordID int64) ([]QCMessage, error)
}
