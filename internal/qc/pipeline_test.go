package qc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type panickingValidator struct{}

func (panickingValidator) Type() string                             { return "broken_check" }
func (panickingValidator) SupportedFlags() []Flag                   { return nil }
func (panickingValidator) HistoryRequirements() HistoryRequirements { return HistoryRequirements{} }
func (panickingValidator) ConfigSchema() map[string]any             { return nil }
func (panickingValidator) Validate(float64, Context) Result         { panic("boom") }

type fixedValidator struct {
	kind   string
	result Result
	req    HistoryRequirements
}

func (v fixedValidator) Type() string                             { return v.kind }
func (v fixedValidator) SupportedFlags() []Flag                   { return []Flag{FlagRange} }
func (v fixedValidator) HistoryRequirements() HistoryRequirements { return v.req }
func (v fixedValidator) ConfigSchema() map[string]any             { return nil }
func (v fixedValidator) Validate(float64, Context) Result         { return v.result }

func rangeSpikePipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewBuilder(zap.NewNop()).
		WithRange(RangeConfig{MinValue: f64(0), MaxValue: f64(50)}).
		WithSpike(SpikeConfig{ThresholdMultiplier: f64(3), LookbackSamples: intp(10), MinSamples: intp(5)}).
		Build()
	require.NoError(t, err)
	return p
}

func TestRangeAndSpikeRaiseBothBits(t *testing.T) {
	p := rangeSpikePipeline(t)
	ctx := ctxWith(history(10*time.Minute, 20, 21, 19, 20, 21, 19, 20, 21, 19, 20))

	out := Evaluate(p, 75, ctx)

	assert.Equal(t, StatusSuspect, out.Status)
	assert.Equal(t, BitRange|BitSpike, out.Bits)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, FlagRange, out.Messages[0].Flag)
	assert.Equal(t, FlagSpike, out.Messages[1].Flag)
	assert.Contains(t, out.Messages[0].Text, "Range Check: Value 75 above maximum")
	assert.Contains(t, out.Messages[0].Text, "; Spike Check: Value 75 is")
	assert.Equal(t, out.Messages[0].Text, out.Messages[1].Text)
}

func TestEvaluateStatusAndBitsAgree(t *testing.T) {
	p := rangeSpikePipeline(t)
	ctx := ctxWith(history(10*time.Minute, 20, 21, 19, 20, 21, 19, 20, 21, 19, 20))

	for _, value := range []float64{-5, 0, 20, 21.5, 49, 50, 51, 75} {
		out := Evaluate(p, value, ctx)
		okStatus := out.Status == StatusPass || out.Status == StatusNotEvaluated
		assert.Equal(t, out.Bits == 0, okStatus, "value %v: status %s bits %d", value, out.Status, out.Bits)
	}

	empty := Evaluate(NewPipeline(nil), 1000, ctx)
	assert.Equal(t, StatusNotEvaluated, empty.Status)
	assert.Zero(t, empty.Bits)

	assert.Equal(t, StatusNotEvaluated, Evaluate(nil, 1, ctx).Status)

	passed := Evaluate(p, 20, ctx)
	assert.Equal(t, StatusPass, passed.Status)
	assert.Empty(t, passed.Messages)
}

func TestHistoryRequirementsIsMaxOverEnabled(t *testing.T) {
	p := NewPipeline(nil).
		Add(fixedValidator{kind: "a", req: HistoryRequirements{Needed: true, Limit: 3, MinRequired: 2}}).
		Add(fixedValidator{kind: "b", req: HistoryRequirements{Needed: true, Limit: 12, MinRequired: 1}}).
		Add(fixedValidator{kind: "c", req: HistoryRequirements{Needed: true, Limit: 50, MinRequired: 9}}, WithEnabled(false)).
		Add(fixedValidator{kind: "d", req: HistoryRequirements{Needed: false, Limit: 99}})

	assert.Equal(t, HistoryRequirements{Needed: true, Limit: 12, MinRequired: 2}, p.HistoryRequirements())

	built, err := NewBuilder(nil).
		WithStep(StepConfig{MaxStepChange: f64(1)}).
		WithPersistence(PersistenceConfig{MaxIdenticalReadings: intp(6)}).
		WithSpike(SpikeConfig{LookbackSamples: intp(15)}).
		Build()
	require.NoError(t, err)
	assert.Equal(t, 15, built.HistoryRequirements().Limit)
	assert.Equal(t, 5, built.HistoryRequirements().MinRequired)

	rangeOnly, err := NewBuilder(nil).WithRange(RangeConfig{MaxValue: f64(1)}).Build()
	require.NoError(t, err)
	assert.False(t, rangeOnly.HistoryRequirements().Needed)
}

func TestPipelineRecoversValidatorPanic(t *testing.T) {
	p := NewPipeline(zap.NewNop()).
		Add(panickingValidator{}).
		Add(fixedValidator{kind: "ok_check", result: Result{Passed: true, Confidence: 0.5}})

	res := p.Run(1, Context{})
	assert.True(t, res.Passed)
	assert.Equal(t, []string{"Broken Check: Validation error"}, res.Messages)
	assert.InDelta(t, 0.5, res.Confidence, 1e-12)
	assert.Len(t, res.Results, 1)
}

func TestPipelineFailFastAndConfidence(t *testing.T) {
	failing := fixedValidator{kind: "first_check", result: Result{Passed: false, Flags: []Flag{FlagStep}, Confidence: 0.2, Message: "bad"}}
	second := fixedValidator{kind: "second_check", result: Result{Passed: false, Flags: []Flag{FlagSpike}, Confidence: 1, Message: "worse"}}

	p := NewPipeline(nil).Add(failing, WithWeight(3), WithFailFast()).Add(second)
	res := p.Run(0, Context{})
	assert.False(t, res.Passed)
	assert.Equal(t, []Flag{FlagStep}, res.Flags)
	assert.Equal(t, []string{"first_check"}, res.FailedValidators())
	assert.InDelta(t, 0.2, res.Confidence, 1e-12)
	assert.Equal(t, "First Check: bad", res.SummaryMessage())

	p = NewPipeline(nil).Add(failing, WithWeight(3)).Add(second)
	res = p.Run(0, Context{})
	assert.Equal(t, []Flag{FlagStep, FlagSpike}, res.Flags)
	assert.InDelta(t, (0.2*3+1)/4, res.Confidence, 1e-12)
	assert.Equal(t, "First Check: bad; Second Check: worse", res.SummaryMessage())
	assert.True(t, res.HasFlag(FlagSpike))

	status, bits := res.Outcome()
	assert.Equal(t, StatusSuspect, status)
	assert.Equal(t, BitStep|BitSpike, bits)
}

func TestPipelineAddRemoveGet(t *testing.T) {
	p := rangeSpikePipeline(t)
	_, ok := p.Get(TypeSpike)
	assert.True(t, ok)

	assert.True(t, p.Remove(TypeSpike))
	assert.False(t, p.Remove(TypeSpike))
	_, ok = p.Get(TypeSpike)
	assert.False(t, ok)

	summary := p.Summary()
	assert.Equal(t, 1, summary.TotalValidators)
	assert.Equal(t, []string{TypeRange}, summary.ValidatorTypes)
	assert.Equal(t, []Flag{FlagRange}, summary.SupportedFlags)

	assert.Equal(t, "All QC checks passed", p.Run(10, Context{}).SummaryMessage())
}

func TestRunBatch(t *testing.T) {
	p := rangeSpikePipeline(t)
	results := p.RunBatch([]Input{{Value: 10}, {Value: 60}})
	require.Len(t, results, 2)
	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)
}

func TestBuildFromRulesSkipsUnknownAndInvalid(t *testing.T) {
	rules, err := ParseRules([]byte(`[
		{"type": "range_check", "config": {"min_value": -40, "max_value": 60}},
		{"type": "step_check", "value": {"max_step_change": 5}, "fail_fast": true},
		{"type": "climatology_check", "config": {}},
		{"type": "spike_check", "config": {"lookback_samples": 2}},
		{"type": "persistence_check", "config": {"max_identical_readings": 8}, "enabled": false}
	]`))
	require.NoError(t, err)
	require.Len(t, rules, 5)

	p, err := NewBuilder(nil).BuildFromRules(rules)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownValidator)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	entries := p.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, TypeRange, entries[0].Validator.Type())
	assert.Equal(t, TypeStep, entries[1].Validator.Type())
	assert.True(t, entries[1].FailFast)
	assert.False(t, entries[2].Enabled)
	assert.Equal(t, 1, p.HistoryRequirements().Limit)
}

func TestParseRulesObjectForm(t *testing.T) {
	rules, err := ParseRules([]byte(`{
		"spike_check": {"config": {"threshold_multiplier": 4}, "weight": 2},
		"range_check": {"config": {"max_value": 100}}
	}`))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, TypeRange, rules[0].Type)
	assert.Equal(t, TypeSpike, rules[1].Type)
	require.NotNil(t, rules[1].Weight)
	assert.Equal(t, 2.0, *rules[1].Weight)

	none, err := ParseRules(nil)
	assert.NoError(t, err)
	assert.Nil(t, none)

	_, err = ParseRules([]byte(`"range_check"`))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
