package dispatch

import (
	"time"

	aggdomain "github.com/smallbiznis/adl/internal/aggregation/domain"
	"github.com/smallbiznis/adl/internal/dispatch/domain"
	obsdomain "github.com/smallbiznis/adl/internal/observation/domain"
	stationdomain "github.com/smallbiznis/adl/internal/station/domain"
	"github.com/smallbiznis/adl/internal/units"
	"go.uber.org/zap"
)

// sample is one stored value ready to be mapped onto a channel.
type sample struct {
	Time        time.Time
	ParameterID int64
	Value       float64
}

func fromObservations(rows []obsdomain.Record) []sample {
	out := make([]sample, len(rows))
	for i, row := range rows {
		out[i] = sample{Time: row.Time, ParameterID: row.ParameterID, Value: row.Value}
	}
	return out
}

// fromAggregates picks each mapping's measure; unknown measures are dropped.
func fromAggregates(rows []aggdomain.Aggregate, mappings map[int64]domain.ChannelParameterMapping, log *zap.Logger) []sample {
	out := make([]sample, 0, len(rows))
	for _, row := range rows {
		m, ok := mappings[row.ParameterID]
		if !ok {
			continue
		}
		value, ok := row.Measure(m.AggregationMeasure)
		if !ok {
			log.Warn("unknown aggregation measure",
				zap.Int64("parameter_id", row.ParameterID),
				zap.String("measure", m.AggregationMeasure),
			)
			continue
		}
		out = append(out, sample{Time: row.Bucket, ParameterID: row.ParameterID, Value: value})
	}
	return out
}

// trimPartialTail drops the samples sharing the last timestamp when a
// capped read may have cut that time step short. A single time step is
// kept whole.
func trimPartialTail(samples []sample, capped bool) []sample {
	if !capped || len(samples) == 0 {
		return samples
	}
	last := samples[len(samples)-1].Time
	cut := len(samples)
	for cut > 0 && samples[cut-1].Time.Equal(last) {
		cut--
	}
	if cut == 0 {
		return samples
	}
	return samples[:cut]
}

// buildPayload groups ascending samples by time and renames and converts
// values for the channel. Values that fail conversion are skipped.
func buildPayload(station stationdomain.Station, samples []sample, mappings map[int64]domain.ChannelParameterMapping, reg *units.Registry, log *zap.Logger) []domain.StationRecord {
	var (
		out     []domain.StationRecord
		current *domain.StationRecord
	)
	wigos := station.WigosID()

	for _, s := range samples {
		m, ok := mappings[s.ParameterID]
		if !ok {
			continue
		}
		value := s.Value
		if target := m.TargetUnit(); target != "" && target != m.Parameter.UnitSymbol {
			var contexts []string
			if ctxName := m.Parameter.UnitContext(); ctxName != "" {
				contexts = append(contexts, ctxName)
			}
			converted, err := reg.Convert(value, m.Parameter.UnitSymbol, target, contexts...)
			if err != nil {
				log.Warn("unit conversion failed, skipping value",
					zap.Int64("parameter_id", s.ParameterID),
					zap.String("from", m.Parameter.UnitSymbol),
					zap.String("to", target),
					zap.Error(err),
				)
				continue
			}
			value = converted
		}

		ts := s.Time.UTC()
		if current == nil || !current.Timestamp.Equal(ts) {
			out = append(out, domain.StationRecord{
				StationID: station.ID,
				WigosID:   wigos,
				Timestamp: ts,
				Values:    make(map[string]float64),
			})
			current = &out[len(out)-1]
		}
		current.Values[m.ChannelParameter] = value
	}
	return out
}
