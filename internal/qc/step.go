package qc

import (
	"encoding/json"
	"fmt"
	"math"
)

const (
	TypeStep = "step_check"

	defaultIgnoreAfterGapMinutes = 30
)

type StepConfig struct {
	MaxStepChange          *float64 `json:"max_step_change"`
	MaxStepChangePerMinute *float64 `json:"max_step_change_per_minute"`
	IgnoreAfterGapMinutes  *int     `json:"ignore_after_gap_minutes"`
}

type StepValidator struct {
	maxStep          float64
	maxStepPerMinute *float64
	ignoreAfterGap   float64
}

func NewStepValidator(cfg StepConfig) (*StepValidator, error) {
	if cfg.MaxStepChange == nil {
		return nil, invalid(TypeStep, "max_step_change is required")
	}
	if *cfg.MaxStepChange < 0 {
		return nil, invalid(TypeStep, "max_step_change must be >= 0")
	}
	if cfg.MaxStepChangePerMinute != nil && *cfg.MaxStepChangePerMinute < 0 {
		return nil, invalid(TypeStep, "max_step_change_per_minute must be >= 0")
	}
	gap := defaultIgnoreAfterGapMinutes
	if cfg.IgnoreAfterGapMinutes != nil {
		gap = *cfg.IgnoreAfterGapMinutes
	}
	if gap < 1 {
		return nil, invalid(TypeStep, "ignore_after_gap_minutes must be >= 1")
	}
	return &StepValidator{
		maxStep:          *cfg.MaxStepChange,
		maxStepPerMinute: cfg.MaxStepChangePerMinute,
		ignoreAfterGap:   float64(gap),
	}, nil
}

func newStepFromJSON(raw json.RawMessage) (Validator, error) {
	var cfg StepConfig
	if err := decodeConfig(TypeStep, raw, &cfg); err != nil {
		return nil, err
	}
	return NewStepValidator(cfg)
}

func (v *StepValidator) Type() string           { return TypeStep }
func (v *StepValidator) SupportedFlags() []Flag { return []Flag{FlagStep} }

func (v *StepValidator) HistoryRequirements() HistoryRequirements {
	return HistoryRequirements{Needed: true, Limit: 1, MinRequired: 1}
}

func (v *StepValidator) Validate(value float64, ctx Context) Result {
	if len(ctx.History) == 0 {
		return pass()
	}

	prev := ctx.History[0]
	current := ctx.Parameter.ObservationTime
	if prev.Value == nil || prev.Time.IsZero() || current.IsZero() {
		return pass()
	}

	gapMinutes := current.Sub(prev.Time).Minutes()
	if gapMinutes > v.ignoreAfterGap {
		return pass()
	}

	step := math.Abs(value - *prev.Value)
	if step > v.maxStep {
		return fail(FlagStep,
			fmt.Sprintf("Step change %.2f exceeds maximum %s", step, formatValue(v.maxStep)),
			map[string]any{"step_change": step, "max_allowed": v.maxStep},
		)
	}

	if v.maxStepPerMinute != nil && gapMinutes > 0 {
		rate := step / gapMinutes
		if rate > *v.maxStepPerMinute {
			return fail(FlagStep,
				fmt.Sprintf("Rate of change %.2f/min exceeds maximum %s/min", rate, formatValue(*v.maxStepPerMinute)),
				map[string]any{"rate": rate, "max_rate": *v.maxStepPerMinute},
			)
		}
	}

	return pass()
}

func (v *StepValidator) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"max_step_change":            map[string]any{"type": "number", "minimum": 0},
			"max_step_change_per_minute": map[string]any{"type": []string{"number", "null"}, "minimum": 0},
			"ignore_after_gap_minutes":   map[string]any{"type": "integer", "minimum": 1, "default": defaultIgnoreAfterGapMinutes},
		},
		"required":             []string{"max_step_change"},
		"additionalProperties": false,
	}
}
