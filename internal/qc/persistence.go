package qc

import (
	"encoding/json"
	"fmt"
	"math"
)

const (
	TypePersistence = "persistence_check"

	defaultMaxIdentical = 10
	defaultTolerance    = 0.001
)

type PersistenceConfig struct {
	MaxIdenticalReadings *int     `json:"max_identical_readings"`
	Tolerance            *float64 `json:"tolerance"`
	AllowZeroPersistence *bool    `json:"allow_zero_persistence"`
}

type PersistenceValidator struct {
	maxIdentical int
	tolerance    float64
	allowZero    bool
}

func NewPersistenceValidator(cfg PersistenceConfig) (*PersistenceValidator, error) {
	v := &PersistenceValidator{
		maxIdentical: defaultMaxIdentical,
		tolerance:    defaultTolerance,
		allowZero:    true,
	}
	if cfg.MaxIdenticalReadings != nil {
		v.maxIdentical = *cfg.MaxIdenticalReadings
	}
	if cfg.Tolerance != nil {
		v.tolerance = *cfg.Tolerance
	}
	if cfg.AllowZeroPersistence != nil {
		v.allowZero = *cfg.AllowZeroPersistence
	}
	if v.maxIdentical < 2 {
		return nil, invalid(TypePersistence, "max_identical_readings must be >= 2")
	}
	if v.tolerance < 0 {
		return nil, invalid(TypePersistence, "tolerance must be >= 0")
	}
	return v, nil
}

func newPersistenceFromJSON(raw json.RawMessage) (Validator, error) {
	var cfg PersistenceConfig
	if err := decodeConfig(TypePersistence, raw, &cfg); err != nil {
		return nil, err
	}
	return NewPersistenceValidator(cfg)
}

func (v *PersistenceValidator) Type() string           { return TypePersistence }
func (v *PersistenceValidator) SupportedFlags() []Flag { return []Flag{FlagPersistence} }

func (v *PersistenceValidator) HistoryRequirements() HistoryRequirements {
	return HistoryRequirements{Needed: true, Limit: v.maxIdentical, MinRequired: 1}
}

func (v *PersistenceValidator) Validate(value float64, ctx Context) Result {
	if len(ctx.History) == 0 || len(ctx.History) < v.maxIdentical-1 {
		return pass()
	}

	identical := 1
	for _, point := range ctx.History[:v.maxIdentical-1] {
		if point.Value == nil || math.Abs(value-*point.Value) > v.tolerance {
			break
		}
		identical++
	}

	if v.allowZero && math.Abs(value) <= v.tolerance {
		return pass()
	}

	if identical >= v.maxIdentical {
		return fail(FlagPersistence,
			fmt.Sprintf("Value %s repeated %d times (max %d)", formatValue(value), identical, v.maxIdentical),
			map[string]any{"identical_count": identical, "max_allowed": v.maxIdentical},
		)
	}

	return pass()
}

func (v *PersistenceValidator) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"max_identical_readings": map[string]any{"type": "integer", "minimum": 2, "default": defaultMaxIdentical},
			"tolerance":              map[string]any{"type": "number", "minimum": 0, "default": defaultTolerance},
			"allow_zero_persistence": map[string]any{"type": "boolean", "default": true},
		},
		"required":             []string{"max_identical_readings"},
		"additionalProperties": false,
	}
}
