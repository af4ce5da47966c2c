package service

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCircularMean(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{name: "wraps north", values: []float64{350, 10}, want: 0},
		{name: "east", values: []float64{80, 90, 100}, want: 90},
		{name: "west of north", values: []float64{340, 350}, want: 345},
		{name: "negative inputs", values: []float64{-90}, want: 270},
		{name: "beyond a turn", values: []float64{370, 380}, want: 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CircularMean(tt.values)
			assert.True(t, ok)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.Less(t, got, 360.0)
			assert.InDelta(t, 0, angularDistance(tt.want, got), 1e-9)
		})
	}
}

func TestCircularMeanUndefined(t *testing.T) {
	_, ok := CircularMean(nil)
	assert.False(t, ok)

	_, ok = CircularMean([]float64{0, 180})
	assert.False(t, ok)

	_, ok = CircularMean([]float64{0, 120, 240})
	assert.False(t, ok)
}

func TestCircularMeanRoundTrip(t *testing.T) {
	for deg := 0.0; deg < 360; deg += 7.5 {
		spread := []float64{deg - 20, deg - 5, deg, deg + 5, deg + 20}
		got, ok := CircularMean(spread)
		assert.True(t, ok)
		assert.InDelta(t, 0, angularDistance(deg, got), 1e-9, "mean of spread around %v", deg)
	}
}

func angularDistance(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	return math.Min(d, 360-d)
}
