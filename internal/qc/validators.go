// Package qc implements per-value quality control for observations.
package qc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("invalid_qc_config")

type Flag string

const (
	FlagRange       Flag = "RANGE"
	FlagStep        Flag = "STEP"
	FlagPersistence Flag = "PERSISTENCE"
	FlagSpike       Flag = "SPIKE"
)

// Bits is the persisted bitset of failed check kinds.
type Bits uint8

const (
	BitRange       Bits = 1 << 0
	BitStep        Bits = 1 << 1
	BitPersistence Bits = 1 << 2
	BitSpike       Bits = 1 << 3
)

var flagOrder = []Flag{FlagRange, FlagStep, FlagPersistence, FlagSpike}

// Bit returns the bit for a flag, or zero for flags without one.
func (f Flag) Bit() Bits {
	switch f {
	case FlagRange:
		return BitRange
	case FlagStep:
		return BitStep
	case FlagPersistence:
		return BitPersistence
	case FlagSpike:
		return BitSpike
	default:
		return 0
	}
}

func (b Bits) Has(f Flag) bool {
	bit := f.Bit()
	return bit != 0 && b&bit == bit
}

// Flags lists the flags set in b in bit order.
func (b Bits) Flags() []Flag {
	var out []Flag
	for _, f := range flagOrder {
		if b.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Status is the coarse QC classification persisted with each observation.
type Status int16

const (
	StatusNotEvaluated Status = 0
	StatusPass         Status = 1
	StatusSuspect      Status = 2
	StatusFail         Status = 3
	StatusMissing      Status = 4
	StatusEstimated    Status = 5
	StatusCorrected    Status = 6
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusSuspect:
		return "SUSPECT"
	case StatusFail:
		return "FAIL"
	case StatusMissing:
		return "MISSING"
	case StatusEstimated:
		return "ESTIMATED"
	case StatusCorrected:
		return "CORRECTED"
	case StatusNotEvaluated:
		return "NOT_EVALUATED"
	default:
		return fmt.Sprintf("Status(%d)", int16(s))
	}
}

type HistoryRequirements struct {
	Needed      bool
	Limit       int
	MinRequired int
}

// HistoryPoint is a prior observation of the same station and parameter.
type HistoryPoint struct {
	Value    *float64
	Time     time.Time
	QCStatus Status
}

type StationMeta struct {
	StationID   string
	WigosID     string
	Latitude    float64
	Longitude   float64
	Elevation   *float64
	StationType string
}

type ParameterMeta struct {
	Name            string
	Unit            string
	Category        string
	ObservationTime time.Time
}

// Context is everything a validator may look at besides the value itself.
// History is ordered newest first.
type Context struct {
	Station   StationMeta
	Parameter ParameterMeta
	History   []HistoryPoint
}

type Result struct {
	Passed     bool
	Flags      []Flag
	Confidence float64
	Message    string
	Evidence   map[string]any
}

func pass() Result {
	return Result{Passed: true, Confidence: 1}
}

func fail(flag Flag, message string, evidence map[string]any) Result {
	return Result{
		Passed:     false,
		Flags:      []Flag{flag},
		Confidence: 1,
		Message:    message,
		Evidence:   evidence,
	}
}

type Validator interface {
	Type() string
	SupportedFlags() []Flag
	HistoryRequirements() HistoryRequirements
	Validate(value float64, ctx Context) Result
	ConfigSchema() map[string]any
}

// DisplayName turns "spike_check" into "Spike Check".
func DisplayName(validatorType string) string {
	words := strings.Fields(strings.ReplaceAll(validatorType, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// decodeConfig strictly decodes raw JSON config into dst.
func decodeConfig(validatorType string, raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, validatorType, err)
	}
	return nil
}

func invalid(validatorType, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, validatorType, fmt.Sprintf(format, args...))
}

// formatValue renders a float the way operators expect to read it in messages.
func formatValue(v float64) string {
	return fmt.Sprintf("%g", v)
}
