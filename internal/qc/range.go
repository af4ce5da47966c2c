package qc

import (
	"encoding/json"
	"fmt"
)

const TypeRange = "range_check"

type RangeConfig struct {
	MinValue        *float64 `json:"min_value"`
	MaxValue        *float64 `json:"max_value"`
	InclusiveBounds *bool    `json:"inclusive_bounds"`
}

type RangeValidator struct {
	min       *float64
	max       *float64
	inclusive bool
}

func NewRangeValidator(cfg RangeConfig) (*RangeValidator, error) {
	inclusive := true
	if cfg.InclusiveBounds != nil {
		inclusive = *cfg.InclusiveBounds
	}
	if cfg.MinValue != nil && cfg.MaxValue != nil && *cfg.MinValue > *cfg.MaxValue {
		return nil, invalid(TypeRange, "min_value %g greater than max_value %g", *cfg.MinValue, *cfg.MaxValue)
	}
	return &RangeValidator{min: cfg.MinValue, max: cfg.MaxValue, inclusive: inclusive}, nil
}

func newRangeFromJSON(raw json.RawMessage) (Validator, error) {
	var cfg RangeConfig
	if err := decodeConfig(TypeRange, raw, &cfg); err != nil {
		return nil, err
	}
	return NewRangeValidator(cfg)
}

func (v *RangeValidator) Type() string           { return TypeRange }
func (v *RangeValidator) SupportedFlags() []Flag { return []Flag{FlagRange} }

func (v *RangeValidator) HistoryRequirements() HistoryRequirements {
	return HistoryRequirements{}
}

func (v *RangeValidator) Validate(value float64, _ Context) Result {
	if v.min != nil {
		failed := value < *v.min
		op := ">="
		if !v.inclusive {
			failed = value <= *v.min
			op = ">"
		}
		if failed {
			return fail(FlagRange,
				fmt.Sprintf("Value %s below minimum: must be %s %s", formatValue(value), op, formatValue(*v.min)),
				map[string]any{"min_value": *v.min, "operator": op},
			)
		}
	}

	if v.max != nil {
		failed := value > *v.max
		op := "<="
		if !v.inclusive {
			failed = value >= *v.max
			op = "<"
		}
		if failed {
			return fail(FlagRange,
				fmt.Sprintf("Value %s above maximum: must be %s %s", formatValue(value), op, formatValue(*v.max)),
				map[string]any{"max_value": *v.max, "operator": op},
			)
		}
	}

	return pass()
}

func (v *RangeValidator) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"min_value":        map[string]any{"type": []string{"number", "null"}},
			"max_value":        map[string]any{"type": []string{"number", "null"}},
			"inclusive_bounds": map[string]any{"type": "boolean", "default": true},
		},
		"additionalProperties": false,
	}
}
