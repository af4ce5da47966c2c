package qc

import (
	"encoding/json"
	"fmt"
	"math"
)

const (
	TypeSpike = "spike_check"

	defaultThresholdMultiplier = 3.0
	defaultLookbackSamples     = 20
	defaultMinSamples          = 5
)

type SpikeConfig struct {
	ThresholdMultiplier *float64 `json:"threshold_multiplier"`
	LookbackSamples     *int     `json:"lookback_samples"`
	MinSamples          *int     `json:"min_samples"`
}

type SpikeValidator struct {
	threshold  float64
	lookback   int
	minSamples int
}

func NewSpikeValidator(cfg SpikeConfig) (*SpikeValidator, error) {
	v := &SpikeValidator{
		threshold:  defaultThresholdMultiplier,
		lookback:   defaultLookbackSamples,
		minSamples: defaultMinSamples,
	}
	if cfg.ThresholdMultiplier != nil {
		v.threshold = *cfg.ThresholdMultiplier
	}
	if cfg.LookbackSamples != nil {
		v.lookback = *cfg.LookbackSamples
	}
	if cfg.MinSamples != nil {
		v.minSamples = *cfg.MinSamples
	}
	switch {
	case v.threshold <= 0:
		return nil, invalid(TypeSpike, "threshold_multiplier must be > 0")
	case v.minSamples < 2:
		return nil, invalid(TypeSpike, "min_samples must be >= 2")
	case v.lookback < v.minSamples:
		return nil, invalid(TypeSpike, "lookback_samples %d smaller than min_samples %d", v.lookback, v.minSamples)
	}
	return v, nil
}

func newSpikeFromJSON(raw json.RawMessage) (Validator, error) {
	var cfg SpikeConfig
	if err := decodeConfig(TypeSpike, raw, &cfg); err != nil {
		return nil, err
	}
	return NewSpikeValidator(cfg)
}

func (v *SpikeValidator) Type() string           { return TypeSpike }
func (v *SpikeValidator) SupportedFlags() []Flag { return []Flag{FlagSpike} }

func (v *SpikeValidator) HistoryRequirements() HistoryRequirements {
	return HistoryRequirements{Needed: true, Limit: v.lookback, MinRequired: v.minSamples}
}

func (v *SpikeValidator) Validate(value float64, ctx Context) Result {
	if len(ctx.History) < v.minSamples {
		return pass()
	}

	window := ctx.History
	if len(window) > v.lookback {
		window = window[:v.lookback]
	}
	values := make([]float64, 0, len(window))
	for _, point := range window {
		if point.Value != nil {
			values = append(values, *point.Value)
		}
	}
	if len(values) < v.minSamples || len(values) < 2 {
		return pass()
	}

	mean, stdev := meanStdev(values)
	if stdev <= 0 {
		return pass()
	}

	z := math.Abs(value-mean) / stdev
	if z > v.threshold {
		return fail(FlagSpike,
			fmt.Sprintf("Value %s is %.2f standard deviations from mean %.2f (threshold: %s)",
				formatValue(value), z, mean, formatValue(v.threshold)),
			map[string]any{
				"z_score":     z,
				"mean":        mean,
				"stdev":       stdev,
				"threshold":   v.threshold,
				"sample_size": len(values),
			},
		)
	}

	return pass()
}

// meanStdev returns the mean and sample (n-1) standard deviation.
func meanStdev(values []float64) (float64, float64) {
	var sum float64
	for _, x := range values {
		sum += x
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, x := range values {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)-1))
}

func (v *SpikeValidator) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"threshold_multiplier": map[string]any{"type": "number", "minimum": 0.1, "default": defaultThresholdMultiplier},
			"lookback_samples":     map[string]any{"type": "integer", "minimum": 5, "default": defaultLookbackSamples},
			"min_samples":          map[string]any{"type": "integer", "minimum": 3, "default": defaultMinSamples},
		},
		"required":             []string{"threshold_multiplier"},
		"additionalProperties": false,
	}
}
