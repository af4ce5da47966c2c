package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrEntryFinished = errors.New("activity_entry_finished")
	ErrEntryNotFound = errors.New("activity_entry_not_found")
	ErrInvalidEntry  = errors.New("invalid_activity_entry")
)

type StartParams struct {
	StationLinkID int64
	Direction     Direction
	ChannelID     *int64
	TaskID        string
}

type Outcome struct {
	Success       bool
	Message       string
	RecordsCount  int
	MessagesCount int
	ObsStart      *time.Time
	ObsEnd        *time.Time
}

type Filter struct {
	StationLinkID int64
	Direction     Direction
	ChannelID     *int64
	FailedOnly    bool
	Limit         int
}

type Service interface {
	Start(ctx context.Context, params StartParams) (*Entry, error)
	Finish(ctx context.Context, entry *Entry, outcome Outcome) error
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	// Complete updates a running entry; it reports false when the entry
	// was already finished.
	Complete(ctx context.Context, db *gorm.DB, entry *Entry) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Entry, error)
	List(ctx context.Context, db *gorm.DB, filter Filter) ([]Entry, error)
}
