package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrChannelNotFound = errors.New("dispatch_channel_not_found")
	ErrInvalidChannel  = errors.New("invalid_dispatch_channel")
)

type Repository interface {
	// FindChannel loads a channel with its mappings and exclusions.
	FindChannel(ctx context.Context, db *gorm.DB, id int64) (*Channel, error)
	ListChannels(ctx context.Context, db *gorm.DB, enabledOnly bool) ([]Channel, error)
	FindStatus(ctx context.Context, db *gorm.DB, channelID, stationID int64) (*StationChannelDispatchStatus, error)
	// AdvanceStatus moves the cursor forward to t; an older t is ignored.
	AdvanceStatus(ctx context.Context, db *gorm.DB, channelID, stationID int64, t time.Time, now time.Time) error
}
