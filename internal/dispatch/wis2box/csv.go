package wis2box

import (
	"bytes"
	"encoding/csv"
	"sort"
	"strconv"

	"github.com/smallbiznis/adl/internal/dispatch/domain"
	stationdomain "github.com/smallbiznis/adl/internal/station/domain"
)

// Header is the wis2box CSV-to-BUFR template column order.
var Header = []string{
	"wsi_series",
	"wsi_issuer",
	"wsi_issue_number",
	"wsi_local",
	"wmo_block_number",
	"wmo_station_number",
	"station_type",
	"year",
	"month",
	"day",
	"hour",
	"minute",
	"latitude",
	"longitude",
	"station_height_above_msl",
	"barometer_height_above_msl",
	"station_pressure",
	"msl_pressure",
	"geopotential_height",
	"thermometer_height",
	"air_temperature",
	"dewpoint_temperature",
	"relative_humidity",
	"method_of_ground_state_measurement",
	"ground_state",
	"method_of_snow_depth_measurement",
	"snow_depth",
	"precipitation_intensity",
	"anemometer_height",
	"time_period_of_wind",
	"wind_direction",
	"wind_speed",
	"maximum_wind_gust_direction_10_minutes",
	"maximum_wind_gust_speed_10_minutes",
	"maximum_wind_gust_direction_1_hour",
	"maximum_wind_gust_speed_1_hour",
	"maximum_wind_gust_direction_3_hours",
	"maximum_wind_gust_speed_3_hours",
	"rain_sensor_height",
	"total_precipitation_1_hour",
	"total_precipitation_3_hours",
	"total_precipitation_6_hours",
	"total_precipitation_12_hours",
	"total_precipitation_24_hours",
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func stationColumns(st stationdomain.Station) map[string]string {
	cols := map[string]string{
		"wsi_series":                 strconv.Itoa(st.WSISeries),
		"wsi_issuer":                 strconv.Itoa(st.WSIIssuer),
		"wsi_issue_number":           strconv.Itoa(st.WSIIssueNumber),
		"wsi_local":                  st.WSILocal,
		"station_type":               st.StationType,
		"latitude":                   formatFloat(st.Latitude),
		"longitude":                  formatFloat(st.Longitude),
		"station_height_above_msl":   optFloat(st.StationHeightAboveMSL),
		"barometer_height_above_msl": optFloat(st.BarometerHeightAboveMSL),
		"thermometer_height":         optFloat(st.ThermometerHeight),
		"anemometer_height":          optFloat(st.AnemometerHeight),
		"rain_sensor_height":         optFloat(st.RainSensorHeight),
	}
	if st.WMOBlockNumber != nil {
		cols["wmo_block_number"] = strconv.Itoa(*st.WMOBlockNumber)
	}
	if st.WMOStationNumber != nil {
		cols["wmo_station_number"] = *st.WMOStationNumber
	}
	return cols
}

// metadataColumns are filled from the station and the timestamp. Channel
// values never overwrite them.
var metadataColumns = func() map[string]struct{} {
	set := map[string]struct{}{
		"wmo_block_number":   {},
		"wmo_station_number": {},
		"year":               {},
		"month":              {},
		"day":                {},
		"hour":               {},
		"minute":             {},
	}
	for col := range stationColumns(stationdomain.Station{}) {
		set[col] = struct{}{}
	}
	return set
}()

// encodeRecord renders one time step as a header plus a single data row.
// Values whose channel name is not a template column are left out; values
// named like a metadata column are dropped and returned in shadowed.
func encodeRecord(st stationdomain.Station, rec domain.StationRecord) (body []byte, shadowed []string, err error) {
	cols := stationColumns(st)
	ts := rec.Timestamp.UTC()
	cols["year"] = strconv.Itoa(ts.Year())
	cols["month"] = strconv.Itoa(int(ts.Month()))
	cols["day"] = strconv.Itoa(ts.Day())
	cols["hour"] = strconv.Itoa(ts.Hour())
	cols["minute"] = strconv.Itoa(ts.Minute())
	for name, v := range rec.Values {
		if _, ok := metadataColumns[name]; ok {
			shadowed = append(shadowed, name)
			continue
		}
		cols[name] = formatFloat(v)
	}
	sort.Strings(shadowed)

	row := make([]string, len(Header))
	for i, col := range Header {
		row[i] = cols[col]
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return nil, nil, err
	}
	if err := w.Write(row); err != nil {
		return nil, nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), shadowed, nil
}
