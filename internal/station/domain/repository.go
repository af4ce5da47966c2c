package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrParameterUnitLocked = errors.New("parameter_unit_locked")
	ErrInvalidInterval     = errors.New("invalid_interval")
	ErrConnectionNotFound  = errors.New("connection_not_found")
	ErrParameterNotFound   = errors.New("parameter_not_found")
)

type Repository interface {
	FindConnection(ctx context.Context, db *gorm.DB, id int64) (*NetworkConnection, error)
	ListConnections(ctx context.Context, db *gorm.DB, enabledOnly bool) ([]NetworkConnection, error)
	ListLinks(ctx context.Context, db *gorm.DB, connectionID int64, enabledOnly bool) ([]StationLink, error)
	FindLink(ctx context.Context, db *gorm.DB, connectionID, stationID int64) (*StationLink, error)
	ListMappings(ctx context.Context, db *gorm.DB, linkID int64) ([]VariableMapping, error)
	FindParameter(ctx context.Context, db *gorm.DB, id int64) (*DataParameter, error)
	ListParameters(ctx context.Context, db *gorm.DB, ids []int64) ([]DataParameter, error)
	UpdateParameterUnit(ctx context.Context, db *gorm.DB, id int64, unitSymbol string, now time.Time) error
	ListStations(ctx context.Context, db *gorm.DB, ids []int64) ([]Station, error)
}
