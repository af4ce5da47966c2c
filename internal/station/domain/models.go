// Package domain contains the station network metadata that drives ingestion.
package domain

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	AggregationStandard = "standard"
	AggregationCircular = "circular"

	MinIntervalMinutes = 1
	MaxIntervalMinutes = 30
)

type Unit struct {
	ID          int64  `gorm:"primaryKey"`
	Name        string `gorm:"type:text;not null"`
	Symbol      string `gorm:"type:text;not null;uniqueIndex"`
	Description string `gorm:"type:text"`
}

func (Unit) TableName() string { return "units" }

// DataParameter is a canonical observed quantity.
type DataParameter struct {
	ID                int64          `gorm:"primaryKey"`
	Name              string         `gorm:"type:text;not null"`
	UnitSymbol        string         `gorm:"column:unit;type:text;not null"`
	Category          string         `gorm:"type:text"`
	CustomUnitContext *string        `gorm:"type:text"`
	QCRules           datatypes.JSON `gorm:"column:qc_rules"`
	AggregationMethod string         `gorm:"type:text;not null;default:standard"`
	CreatedAt         time.Time      `gorm:"not null"`
	ModifiedAt        time.Time      `gorm:"not null;autoUpdateTime"`
}

func (DataParameter) TableName() string { return "data_parameters" }

// IsCircular reports whether values are angles averaged on the circle.
func (p DataParameter) IsCircular() bool {
	return p.AggregationMethod == AggregationCircular
}

// UnitContext returns the named conversion context, if any.
func (p DataParameter) UnitContext() string {
	if p.CustomUnitContext == nil {
		return ""
	}
	return strings.TrimSpace(*p.CustomUnitContext)
}

type Network struct {
	ID   int64  `gorm:"primaryKey"`
	Name string `gorm:"type:text;not null"`
	Type string `gorm:"type:text"`
}

func (Network) TableName() string { return "networks" }

type Station struct {
	ID                      int64      `gorm:"primaryKey"`
	NetworkID               int64      `gorm:"not null;uniqueIndex:ux_stations_network_station"`
	StationID               string     `gorm:"type:text;not null;uniqueIndex:ux_stations_network_station"`
	Name                    string     `gorm:"type:text;not null"`
	Latitude                float64    `gorm:"not null"`
	Longitude               float64    `gorm:"not null"`
	StationHeightAboveMSL   *float64   `gorm:"column:station_height_above_msl"`
	BarometerHeightAboveMSL *float64   `gorm:"column:barometer_height_above_msl"`
	ThermometerHeight       *float64   `gorm:"column:thermometer_height"`
	AnemometerHeight        *float64   `gorm:"column:anemometer_height"`
	RainSensorHeight        *float64   `gorm:"column:rain_sensor_height"`
	WSISeries               int        `gorm:"column:wsi_series;not null"`
	WSIIssuer               int        `gorm:"column:wsi_issuer;not null"`
	WSIIssueNumber          int        `gorm:"column:wsi_issue_number;not null"`
	WSILocal                string     `gorm:"column:wsi_local;type:text;not null"`
	WMOBlockNumber          *int       `gorm:"column:wmo_block_number"`
	WMOStationNumber        *string    `gorm:"column:wmo_station_number;type:text"`
	StationType             string     `gorm:"type:text"`
	Timezone                *string    `gorm:"type:text"`
	FirstCollectionDate     *time.Time `gorm:"column:first_collection_date"`
}

func (Station) TableName() string { return "stations" }

// WigosID renders the four-part WIGOS station identifier.
func (s Station) WigosID() string {
	return fmt.Sprintf("%d-%d-%d-%s", s.WSISeries, s.WSIIssuer, s.WSIIssueNumber, s.WSILocal)
}

type NetworkConnection struct {
	ID               int64          `gorm:"primaryKey"`
	Name             string         `gorm:"type:text;not null;uniqueIndex"`
	NetworkID        int64          `gorm:"not null;index"`
	PluginID         string         `gorm:"column:plugin;type:text;not null"`
	Enabled          bool           `gorm:"not null"`
	IntervalMinutes  int            `gorm:"not null;default:15"`
	StationsTimezone string         `gorm:"type:text;not null;default:UTC"`
	BatchSize        int            `gorm:"not null;default:10"`
	IsDailyData      bool           `gorm:"not null"`
	Config           datatypes.JSON `gorm:"column:config"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (NetworkConnection) TableName() string { return "network_connections" }

func (c NetworkConnection) Validate() error {
	if c.IntervalMinutes < MinIntervalMinutes || c.IntervalMinutes > MaxIntervalMinutes {
		return fmt.Errorf("%w: interval_minutes %d outside [%d,%d]",
			ErrInvalidInterval, c.IntervalMinutes, MinIntervalMinutes, MaxIntervalMinutes)
	}
	return nil
}

// Location resolves the connection-wide station timezone, UTC on error.
func (c NetworkConnection) Location() *time.Location {
	return loadLocation(c.StationsTimezone)
}

// StationLink binds a station to a connection.
type StationLink struct {
	ID                    int64          `gorm:"primaryKey"`
	ConnectionID          int64          `gorm:"not null;uniqueIndex:ux_station_links_connection_station"`
	StationID             int64          `gorm:"not null;uniqueIndex:ux_station_links_connection_station"`
	Station               Station        `gorm:"foreignKey:StationID"`
	Enabled               bool           `gorm:"not null"`
	UseConnectionTimezone bool           `gorm:"not null"`
	StationTimezone       string         `gorm:"type:text"`
	AggregateFromDate     *time.Time     `gorm:"column:aggregate_from_date"`
	Config                datatypes.JSON `gorm:"column:config"`
}

func (StationLink) TableName() string { return "station_links" }

// Location returns the timezone used to interpret naive adapter timestamps.
func (l StationLink) Location(conn NetworkConnection) *time.Location {
	if l.UseConnectionTimezone {
		return conn.Location()
	}
	if strings.TrimSpace(l.StationTimezone) != "" {
		return loadLocation(l.StationTimezone)
	}
	if l.Station.Timezone != nil && strings.TrimSpace(*l.Station.Timezone) != "" {
		return loadLocation(*l.Station.Timezone)
	}
	return conn.Location()
}

// VariableMapping translates an adapter field to a canonical parameter.
type VariableMapping struct {
	ID                  int64          `gorm:"primaryKey"`
	StationLinkID       int64          `gorm:"not null;index"`
	ParameterID         int64          `gorm:"not null"`
	Parameter           DataParameter  `gorm:"foreignKey:ParameterID"`
	SourceParameterName string         `gorm:"type:text;not null"`
	SourceParameterUnit string         `gorm:"type:text;not null"`
	QCRules             datatypes.JSON `gorm:"column:qc_rules"`
	ModifiedAt          time.Time      `gorm:"not null;autoUpdateTime"`
}

func (VariableMapping) TableName() string { return "variable_mappings" }

// Rules returns the mapping's own QC rules when present, else the parameter's.
func (m VariableMapping) Rules() []byte {
	if len(strings.TrimSpace(string(m.QCRules))) > 0 && string(m.QCRules) != "null" {
		return m.QCRules
	}
	return m.Parameter.QCRules
}

// RulesVersion changes whenever the effective QC rules may have changed.
func (m VariableMapping) RulesVersion() time.Time {
	if m.ModifiedAt.After(m.Parameter.ModifiedAt) {
		return m.ModifiedAt
	}
	return m.Parameter.ModifiedAt
}

func loadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
