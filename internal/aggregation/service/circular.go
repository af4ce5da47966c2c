package service

import (
	"math"
)

// resultantEpsilon is the resultant length below which directions cancel out.
const resultantEpsilon = 1e-9

// CircularMean averages angles in degrees on the circle and normalises the
// result to [0, 360). It reports false when the mean direction is undefined,
// that is when values is empty or the vectors cancel out.
func CircularMean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	var s, c float64
	for _, v := range values {
		rad := v * math.Pi / 180
		s += math.Sin(rad)
		c += math.Cos(rad)
	}
	if math.Hypot(s, c) < resultantEpsilon*float64(len(values)) {
		return 0, false
	}
	return normaliseDegrees(math.Atan2(s, c) * 180 / math.Pi), true
}

func normaliseDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg -= 360
	}
	return deg
}
