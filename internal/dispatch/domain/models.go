// Package domain describes dispatch channels and their per-station cursors.
package domain

import (
	"fmt"
	"strings"
	"time"

	aggdomain "github.com/smallbiznis/adl/internal/aggregation/domain"
	stationdomain "github.com/smallbiznis/adl/internal/station/domain"
	"gorm.io/datatypes"
)

const (
	MinCheckIntervalMinutes = 1
	MaxCheckIntervalMinutes = 30
)

// Channel is a downstream destination fed from one network connection.
// Kind selects the sink implementation; Config is kind specific.
type Channel struct {
	ID                 int64                     `gorm:"primaryKey"`
	Name               string                    `gorm:"type:text;not null"`
	Kind               string                    `gorm:"type:text;not null"`
	ConnectionID       int64                     `gorm:"not null;index"`
	Enabled            bool                      `gorm:"not null"`
	DataCheckInterval  int                       `gorm:"not null;default:10"`
	StartDate          *time.Time                `gorm:"column:start_date"`
	SendAggregatedData bool                      `gorm:"not null"`
	AggregationPeriod  aggdomain.Period          `gorm:"type:text"`
	Config             datatypes.JSON            `gorm:"column:config"`
	ParameterMappings  []ChannelParameterMapping `gorm:"foreignKey:ChannelID"`
	StationExclusions  []StationExclusion        `gorm:"foreignKey:ChannelID"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (Channel) TableName() string { return "dispatch_channels" }

func (c Channel) Validate() error {
	if strings.TrimSpace(c.Kind) == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidChannel)
	}
	if c.DataCheckInterval < MinCheckIntervalMinutes || c.DataCheckInterval > MaxCheckIntervalMinutes {
		return fmt.Errorf("%w: data_check_interval %d outside [%d,%d]",
			ErrInvalidChannel, c.DataCheckInterval, MinCheckIntervalMinutes, MaxCheckIntervalMinutes)
	}
	if c.SendAggregatedData && !c.AggregationPeriod.Valid() {
		return fmt.Errorf("%w: aggregation_period %q", ErrInvalidChannel, c.AggregationPeriod)
	}
	return nil
}

// Excludes reports whether a station is opted out of this channel.
func (c Channel) Excludes(stationID int64) bool {
	for _, ex := range c.StationExclusions {
		if ex.StationID == stationID {
			return true
		}
	}
	return false
}

// ChannelParameterMapping renames a canonical parameter for the channel.
type ChannelParameterMapping struct {
	ID                 int64                       `gorm:"primaryKey"`
	ChannelID          int64                       `gorm:"not null;uniqueIndex:ux_channel_parameter"`
	ParameterID        int64                       `gorm:"not null;uniqueIndex:ux_channel_parameter"`
	Parameter          stationdomain.DataParameter `gorm:"foreignKey:ParameterID"`
	ChannelParameter   string                      `gorm:"type:text;not null"`
	ChannelUnit        *string                     `gorm:"type:text"`
	AggregationMeasure string                      `gorm:"type:text;not null;default:avg"`
}

func (ChannelParameterMapping) TableName() string { return "dispatch_channel_parameter_mappings" }

// TargetUnit is the unit the channel expects, or "" to keep the stored one.
func (m ChannelParameterMapping) TargetUnit() string {
	if m.ChannelUnit == nil {
		return ""
	}
	return strings.TrimSpace(*m.ChannelUnit)
}

type StationExclusion struct {
	ChannelID int64 `gorm:"primaryKey"`
	StationID int64 `gorm:"primaryKey"`
}

func (StationExclusion) TableName() string { return "dispatch_channel_station_exclusions" }

// StationChannelDispatchStatus is the per (channel, station) send cursor.
type StationChannelDispatchStatus struct {
	ChannelID       int64      `gorm:"primaryKey"`
	StationID       int64      `gorm:"primaryKey"`
	LastSentObsTime *time.Time `gorm:"column:last_sent_obs_time"`
	UpdatedAt       time.Time  `gorm:"not null"`
}

func (StationChannelDispatchStatus) TableName() string { return "station_channel_dispatch_status" }

// StationRecord is one time step of a station as sent to a sink.
type StationRecord struct {
	StationID int64              `json:"station_id"`
	WigosID   string             `json:"wigos_id"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

// StationTarget is what a sink knows about the station being sent.
type StationTarget struct {
	Channel Channel
	Link    stationdomain.StationLink
	Station stationdomain.Station
}
