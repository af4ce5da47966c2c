package ingestion

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/smallbiznis/adl/internal/source"
	stationdomain "github.com/smallbiznis/adl/internal/station/domain"
	"github.com/smallbiznis/adl/internal/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalise(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)

	aware := time.Date(2025, 5, 1, 10, 0, 0, 0, time.FixedZone("UTC+2", 2*3600))
	got, err := localise(aware, loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC), got)

	got, err = localise(source.Naive(2025, 5, 1, 10, 0, 0), loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 5, 1, 3, 0, 0, 0, time.UTC), got)

	_, err = localise(nil, loc)
	assert.ErrorIs(t, err, ErrMissingObservationTime)

	_, err = localise("2025-05-01T10:00:00", loc)
	assert.ErrorIs(t, err, ErrInvalidObservationTime)

	_, err = localise(1714550400, loc)
	assert.ErrorIs(t, err, ErrInvalidObservationTime)
}

func TestNumeric(t *testing.T) {
	for _, v := range []any{1, int64(2), float32(1.5), 2.5, uint8(3), json.Number("4.25")} {
		_, ok := numeric(v)
		assert.True(t, ok, "%T", v)
	}
	for _, v := range []any{"12", true, nil, math.NaN(), math.Inf(1), json.Number("x")} {
		_, ok := numeric(v)
		assert.False(t, ok, "%v", v)
	}
}

func TestConvertValueUsesParameterContext(t *testing.T) {
	reg := units.Default()
	param := stationdomain.DataParameter{UnitSymbol: "degC"}

	v, err := convertValue(reg, 32, "degF", param)
	require.NoError(t, err)
	assert.InDelta(t, 0, v, 1e-9)

	v, err = convertValue(reg, 12.5, "degC", param)
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)

	_, err = convertValue(reg, 1, "m/s", param)
	assert.Error(t, err)
}
