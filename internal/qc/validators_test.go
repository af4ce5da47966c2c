package qc

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }
func boolp(v bool) *bool     { return &v }

var obsTime = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// history builds newest-first points spaced step apart before obsTime.
func history(step time.Duration, values ...float64) []HistoryPoint {
	out := make([]HistoryPoint, len(values))
	for i, v := range values {
		v := v
		out[i] = HistoryPoint{Value: &v, Time: obsTime.Add(-time.Duration(i+1) * step), QCStatus: StatusPass}
	}
	return out
}

func ctxWith(h []HistoryPoint) Context {
	return Context{
		Parameter: ParameterMeta{Name: "air_temperature", Unit: "degC", ObservationTime: obsTime},
		History:   h,
	}
}

func TestRangeValidator(t *testing.T) {
	v, err := NewRangeValidator(RangeConfig{MinValue: f64(0), MaxValue: f64(50)})
	require.NoError(t, err)

	assert.True(t, v.Validate(0, Context{}).Passed)
	assert.True(t, v.Validate(50, Context{}).Passed)

	low := v.Validate(-1, Context{})
	assert.False(t, low.Passed)
	assert.Equal(t, []Flag{FlagRange}, low.Flags)
	assert.Equal(t, "Value -1 below minimum: must be >= 0", low.Message)

	high := v.Validate(75, Context{})
	assert.False(t, high.Passed)
	assert.Equal(t, "Value 75 above maximum: must be <= 50", high.Message)
	assert.Equal(t, "<=", high.Evidence["operator"])

	exclusive, err := NewRangeValidator(RangeConfig{MinValue: f64(0), MaxValue: f64(50), InclusiveBounds: boolp(false)})
	require.NoError(t, err)
	assert.False(t, exclusive.Validate(0, Context{}).Passed)
	assert.False(t, exclusive.Validate(50, Context{}).Passed)
	assert.True(t, exclusive.Validate(25, Context{}).Passed)

	onlyMax, err := NewRangeValidator(RangeConfig{MaxValue: f64(10)})
	require.NoError(t, err)
	assert.True(t, onlyMax.Validate(-1e9, Context{}).Passed)

	_, err = NewRangeValidator(RangeConfig{MinValue: f64(5), MaxValue: f64(1)})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.False(t, v.HistoryRequirements().Needed)
}

func TestStepValidator(t *testing.T) {
	_, err := NewStepValidator(StepConfig{})
	require.ErrorIs(t, err, ErrInvalidConfig)

	v, err := NewStepValidator(StepConfig{MaxStepChange: f64(5), MaxStepChangePerMinute: f64(0.2)})
	require.NoError(t, err)
	assert.Equal(t, HistoryRequirements{Needed: true, Limit: 1, MinRequired: 1}, v.HistoryRequirements())

	// no history
	assert.True(t, v.Validate(100, ctxWith(nil)).Passed)

	// absolute step
	res := v.Validate(26, ctxWith(history(10*time.Minute, 20)))
	assert.False(t, res.Passed)
	assert.Equal(t, "Step change 6.00 exceeds maximum 5", res.Message)

	// rate: 4 over 10 minutes = 0.4/min
	res = v.Validate(24, ctxWith(history(10*time.Minute, 20)))
	assert.False(t, res.Passed)
	assert.Contains(t, res.Message, "Rate of change 0.40/min")

	// within both limits
	assert.True(t, v.Validate(21, ctxWith(history(10*time.Minute, 20))).Passed)

	// gap beyond default 30 minutes is ignored
	assert.True(t, v.Validate(80, ctxWith(history(31*time.Minute, 20))).Passed)

	// prior value missing
	h := history(time.Minute, 20)
	h[0].Value = nil
	assert.True(t, v.Validate(80, ctxWith(h)).Passed)
}

func TestPersistenceValidator(t *testing.T) {
	v, err := NewPersistenceValidator(PersistenceConfig{MaxIdenticalReadings: intp(4)})
	require.NoError(t, err)
	assert.Equal(t, 4, v.HistoryRequirements().Limit)

	// not enough history: needs max_identical-1 points
	assert.True(t, v.Validate(12.3, ctxWith(history(time.Hour, 12.3, 12.3))).Passed)

	res := v.Validate(12.3, ctxWith(history(time.Hour, 12.3, 12.3005, 12.3)))
	assert.False(t, res.Passed)
	assert.Equal(t, []Flag{FlagPersistence}, res.Flags)
	assert.Equal(t, 4, res.Evidence["identical_count"])

	// a break in the prefix resets the run
	assert.True(t, v.Validate(12.3, ctxWith(history(time.Hour, 12.3, 11, 12.3))).Passed)

	// zero readings are exempt by default
	assert.True(t, v.Validate(0, ctxWith(history(time.Hour, 0, 0, 0))).Passed)

	strict, err := NewPersistenceValidator(PersistenceConfig{MaxIdenticalReadings: intp(4), AllowZeroPersistence: boolp(false)})
	require.NoError(t, err)
	assert.False(t, strict.Validate(0, ctxWith(history(time.Hour, 0, 0, 0))).Passed)

	_, err = NewPersistenceValidator(PersistenceConfig{MaxIdenticalReadings: intp(1)})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSpikeValidator(t *testing.T) {
	v, err := NewSpikeValidator(SpikeConfig{ThresholdMultiplier: f64(3), LookbackSamples: intp(10), MinSamples: intp(5)})
	require.NoError(t, err)
	assert.Equal(t, HistoryRequirements{Needed: true, Limit: 10, MinRequired: 5}, v.HistoryRequirements())

	around20 := history(time.Hour, 20, 21, 19, 20, 21, 19, 20, 21, 19, 20)

	res := v.Validate(75, ctxWith(around20))
	assert.False(t, res.Passed)
	assert.Equal(t, []Flag{FlagSpike}, res.Flags)
	for _, key := range []string{"z_score", "mean", "stdev", "threshold", "sample_size"} {
		assert.Contains(t, res.Evidence, key)
	}
	assert.Equal(t, 10, res.Evidence["sample_size"])
	assert.InDelta(t, 20.0, res.Evidence["mean"], 1e-9)

	assert.True(t, v.Validate(21.5, ctxWith(around20)).Passed)

	// too few samples
	assert.True(t, v.Validate(75, ctxWith(history(time.Hour, 20, 21, 19))).Passed)

	// flat history has zero deviation
	assert.True(t, v.Validate(75, ctxWith(history(time.Hour, 20, 20, 20, 20, 20))).Passed)
}

func TestMeanStdevIsSampleDeviation(t *testing.T) {
	mean, stdev := meanStdev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-12)
	assert.InDelta(t, 2.138089935, stdev, 1e-9)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Spike Check", DisplayName("spike_check"))
	assert.Equal(t, "Range Check", DisplayName(TypeRange))
}

func TestBitsAndFlags(t *testing.T) {
	bits := BitRange | BitSpike
	assert.Equal(t, Bits(9), bits)
	assert.Equal(t, []Flag{FlagRange, FlagSpike}, bits.Flags())
	assert.True(t, bits.Has(FlagSpike))
	assert.False(t, bits.Has(FlagStep))
	assert.Equal(t, "NOT_EVALUATED", StatusNotEvaluated.String())
}

func TestRegistryCreateFromJSON(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{TypePersistence, TypeRange, TypeSpike, TypeStep}, r.Types())

	v, err := r.Create(TypeRange, json.RawMessage(`{"min_value": -10, "max_value": 10}`))
	require.NoError(t, err)
	assert.False(t, v.Validate(11, Context{}).Passed)

	_, err = r.Create(TypeStep, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = r.Create(TypeRange, json.RawMessage(`{"minimum": 1}`))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = r.Create("climatology_check", nil)
	assert.True(t, errors.Is(err, ErrUnknownValidator))

	err = r.Register(TypeRange, newRangeFromJSON, nil)
	assert.ErrorIs(t, err, ErrDuplicateValidator)

	schemas := r.Schemas()
	assert.Len(t, schemas, 4)
	assert.Equal(t, []string{"max_step_change"}, schemas[TypeStep]["required"])
}
