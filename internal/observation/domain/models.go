// Package domain contains the canonical observation store models.
package domain

import (
	"time"

	"github.com/smallbiznis/adl/internal/qc"
)

const CurrentQCVersion = 1

// Record is one canonical observation. The primary key is the
// (time, station, connection, parameter) tuple; ID is a snowflake
// assigned on first insert and kept across upserts.
type Record struct {
	Time         time.Time `gorm:"primaryKey;column:time;not null"`
	StationID    int64     `gorm:"primaryKey;column:station_id;not null"`
	ConnectionID int64     `gorm:"primaryKey;column:connection_id;not null"`
	ParameterID  int64     `gorm:"primaryKey;column:parameter_id;not null"`
	ID           int64     `gorm:"column:id;not null;index"`
	Value        float64   `gorm:"not null"`
	IsDaily      bool      `gorm:"not null"`
	QCStatus     qc.Status `gorm:"column:qc_status;not null"`
	QCBits       qc.Bits   `gorm:"column:qc_bits;not null"`
	QCVersion    int       `gorm:"column:qc_version;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	ModifiedAt   time.Time `gorm:"not null"`
}

func (Record) TableName() string { return "observations" }

// Key identifies a record within one station and connection.
type Key struct {
	UnixNano    int64
	ParameterID int64
}

func KeyOf(t time.Time, parameterID int64) Key {
	return Key{UnixNano: t.UnixNano(), ParameterID: parameterID}
}

func (k Key) Time() time.Time {
	return time.Unix(0, k.UnixNano).UTC()
}

func (r Record) Key() Key {
	return KeyOf(r.Time, r.ParameterID)
}

// QCMessage explains one raised QC flag on a stored observation.
type QCMessage struct {
	ID          int64     `gorm:"primaryKey"`
	ObsRecordID int64     `gorm:"column:obs_record_id;not null;index"`
	ObsTime     time.Time `gorm:"column:obs_time;not null;index"`
	StationID   int64     `gorm:"not null"`
	ParameterID int64     `gorm:"not null"`
	CheckType   qc.Bits   `gorm:"column:check_type;not null"`
	Message     string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (QCMessage) TableName() string { return "qc_messages" }

// Query selects records in ascending time. Zero StationID or ConnectionID
// matches any.
type Query struct {
	StationID    int64
	ConnectionID int64
	ParameterIDs []int64
	After        *time.Time // exclusive
	From         *time.Time // inclusive
	Before       *time.Time // exclusive
	IsDaily      *bool
	Limit        int
}
