package dispatch

import (
	"testing"
	"time"

	"github.com/smallbiznis/adl/internal/dispatch/domain"
	stationdomain "github.com/smallbiznis/adl/internal/station/domain"
	"github.com/smallbiznis/adl/internal/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTrimPartialTail(t *testing.T) {
	a, b := t0, t0.Add(time.Hour)
	samples := []sample{{Time: a, ParameterID: 1}, {Time: a, ParameterID: 2}, {Time: b, ParameterID: 1}}

	assert.Len(t, trimPartialTail(samples, false), 3)
	assert.Len(t, trimPartialTail(samples, true), 2)

	single := samples[:2]
	assert.Len(t, trimPartialTail(single, true), 2)
	assert.Empty(t, trimPartialTail(nil, true))
}

func TestBuildPayloadSkipsUnconvertibleValues(t *testing.T) {
	bogus := "furlong"
	mappings := map[int64]domain.ChannelParameterMapping{
		1: {ParameterID: 1, ChannelParameter: "temp", Parameter: stationdomain.DataParameter{UnitSymbol: "degC"}},
		2: {ParameterID: 2, ChannelParameter: "rh", ChannelUnit: &bogus, Parameter: stationdomain.DataParameter{UnitSymbol: "%"}},
	}
	samples := []sample{
		{Time: t0, ParameterID: 1, Value: 21},
		{Time: t0, ParameterID: 2, Value: 80},
		{Time: t0.Add(time.Hour), ParameterID: 2, Value: 81},
		{Time: t0.Add(2 * time.Hour), ParameterID: 99, Value: 1},
	}

	out := buildPayload(stationdomain.Station{ID: 1, WSILocal: "x"}, samples, mappings, units.Default(), zap.NewNop())
	require.Len(t, out, 1)
	assert.Equal(t, map[string]float64{"temp": 21}, out[0].Values)
	assert.Equal(t, t0, out[0].Timestamp)
}
