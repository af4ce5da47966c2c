package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Direction string

const (
	DirectionPull Direction = "pull"
	DirectionPush Direction = "push"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Entry records one station pull or one channel push.
type Entry struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	Time              time.Time    `gorm:"not null;index"`
	StationLinkID     int64        `gorm:"not null;index"`
	Direction         Direction    `gorm:"type:varchar(8);not null"`
	DispatchChannelID *int64       `gorm:"index"`
	Status            Status       `gorm:"type:varchar(16);not null"`
	Success           bool         `gorm:"not null"`
	Message           *string      `gorm:"type:text"`
	TaskID            *string      `gorm:"type:varchar(64)"`
	DurationMS        int64        `gorm:"column:duration_ms;not null"`
	RecordsCount      int          `gorm:"not null"`
	MessagesCount     int          `gorm:"not null"`
	ObsStartTime      *time.Time
	ObsEndTime        *time.Time
}

func (Entry) TableName() string { return "activity_log" }

func (e *Entry) Finished() bool {
	return e != nil && e.Status != StatusRunning
}
