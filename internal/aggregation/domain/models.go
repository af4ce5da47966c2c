// Package domain holds the materialised hourly and daily observation rollups.
package domain

import (
	"time"
)

type Period string

const (
	PeriodHourly Period = "hourly"
	PeriodDaily  Period = "daily"
)

const (
	MeasureAvg = "avg"
	MeasureSum = "sum"
	MeasureMin = "min"
	MeasureMax = "max"
)

func (p Period) Valid() bool {
	return p == PeriodHourly || p == PeriodDaily
}

func (p Period) Table() string {
	if p == PeriodDaily {
		return DailyAggregate{}.TableName()
	}
	return HourlyAggregate{}.TableName()
}

// Aggregate is one (bucket, station, connection, parameter) rollup.
type Aggregate struct {
	Bucket       time.Time `gorm:"primaryKey;column:bucket;not null"`
	StationID    int64     `gorm:"primaryKey;column:station_id;not null"`
	ConnectionID int64     `gorm:"primaryKey;column:connection_id;not null"`
	ParameterID  int64     `gorm:"primaryKey;column:parameter_id;not null"`
	MinValue     float64   `gorm:"column:min_value;not null"`
	MaxValue     float64   `gorm:"column:max_value;not null"`
	AvgValue     float64   `gorm:"column:avg_value;not null"`
	SumValue     float64   `gorm:"column:sum_value;not null"`
	RecordsCount int       `gorm:"column:records_count;not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// Measure returns the named statistic.
func (a Aggregate) Measure(name string) (float64, bool) {
	switch name {
	case MeasureAvg, "":
		return a.AvgValue, true
	case MeasureSum:
		return a.SumValue, true
	case MeasureMin:
		return a.MinValue, true
	case MeasureMax:
		return a.MaxValue, true
	default:
		return 0, false
	}
}

type HourlyAggregate struct {
	Aggregate
}

func (HourlyAggregate) TableName() string { return "obs_agg_1h" }

type DailyAggregate struct {
	Aggregate
}

func (DailyAggregate) TableName() string { return "obs_agg_1d" }

// Query selects rollups in ascending bucket order. Zero ids match any.
type Query struct {
	StationID    int64
	ConnectionID int64
	ParameterIDs []int64
	After        *time.Time // exclusive
	From         *time.Time // inclusive
	Limit        int
}
