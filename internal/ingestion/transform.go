package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/smallbiznis/adl/internal/qc"
	"github.com/smallbiznis/adl/internal/source"
	stationdomain "github.com/smallbiznis/adl/internal/station/domain"
	"github.com/smallbiznis/adl/internal/units"
)

var (
	ErrMissingObservationTime = errors.New("missing observation_time")
	ErrInvalidObservationTime = errors.New("observation_time is not a datetime")
)

// localise turns an adapter timestamp into UTC. Naive wall clocks are read
// in loc.
func localise(v any, loc *time.Location) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, ErrMissingObservationTime
	case time.Time:
		if t.IsZero() {
			return time.Time{}, ErrMissingObservationTime
		}
		return t.UTC(), nil
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, ErrMissingObservationTime
		}
		return t.UTC(), nil
	case source.NaiveTime:
		if t.Wall.IsZero() {
			return time.Time{}, ErrMissingObservationTime
		}
		return t.In(loc).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: got %T", ErrInvalidObservationTime, v)
	}
}

// numeric accepts finite numbers of any Go numeric kind.
func numeric(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// convertValue moves a source value into the parameter's unit.
func convertValue(reg *units.Registry, value float64, sourceUnit string, param stationdomain.DataParameter) (float64, error) {
	target := strings.TrimSpace(param.UnitSymbol)
	sourceUnit = strings.TrimSpace(sourceUnit)
	if target == "" || sourceUnit == target {
		return value, nil
	}
	var contexts []string
	if ctxName := param.UnitContext(); ctxName != "" {
		contexts = append(contexts, ctxName)
	}
	return reg.Convert(value, sourceUnit, target, contexts...)
}

func stationMeta(st stationdomain.Station) qc.StationMeta {
	return qc.StationMeta{
		StationID:   st.StationID,
		WigosID:     st.WigosID(),
		Latitude:    st.Latitude,
		Longitude:   st.Longitude,
		Elevation:   st.StationHeightAboveMSL,
		StationType: st.StationType,
	}
}
