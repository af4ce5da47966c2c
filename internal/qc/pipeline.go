package qc

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const summaryAllPassed = "All QC checks passed"

// Entry is one validator slot in a pipeline.
type Entry struct {
	Validator Validator
	Weight    float64
	Enabled   bool
	FailFast  bool
}

type EntryOption func(*Entry)

func WithWeight(weight float64) EntryOption {
	return func(e *Entry) { e.Weight = weight }
}

func WithEnabled(enabled bool) EntryOption {
	return func(e *Entry) { e.Enabled = enabled }
}

func WithFailFast() EntryOption {
	return func(e *Entry) { e.FailFast = true }
}

// Pipeline runs validators in declaration order.
type Pipeline struct {
	entries []Entry
	log     *zap.Logger
}

func NewPipeline(log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{log: log}
}

func (p *Pipeline) Add(v Validator, opts ...EntryOption) *Pipeline {
	e := Entry{Validator: v, Weight: 1, Enabled: true}
	for _, opt := range opts {
		opt(&e)
	}
	p.entries = append(p.entries, e)
	return p
}

// Remove drops every entry of the given type and reports whether any existed.
func (p *Pipeline) Remove(validatorType string) bool {
	kept := p.entries[:0]
	for _, e := range p.entries {
		if e.Validator.Type() != validatorType {
			kept = append(kept, e)
		}
	}
	removed := len(kept) < len(p.entries)
	p.entries = kept
	return removed
}

func (p *Pipeline) Get(validatorType string) (Validator, bool) {
	for _, e := range p.entries {
		if e.Validator.Type() == validatorType {
			return e.Validator, true
		}
	}
	return nil, false
}

func (p *Pipeline) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Empty reports whether no enabled validator is configured.
func (p *Pipeline) Empty() bool {
	if p == nil {
		return true
	}
	for _, e := range p.entries {
		if e.Enabled {
			return false
		}
	}
	return true
}

// HistoryRequirements is the element-wise max over enabled validators that need history.
func (p *Pipeline) HistoryRequirements() HistoryRequirements {
	var req HistoryRequirements
	if p == nil {
		return req
	}
	for _, e := range p.entries {
		if !e.Enabled {
			continue
		}
		r := e.Validator.HistoryRequirements()
		if !r.Needed {
			continue
		}
		req.Needed = true
		req.Limit = max(req.Limit, r.Limit)
		req.MinRequired = max(req.MinRequired, r.MinRequired)
	}
	return req
}

type Summary struct {
	TotalValidators   int
	EnabledValidators int
	ValidatorTypes    []string
	SupportedFlags    []Flag
}

func (p *Pipeline) Summary() Summary {
	s := Summary{TotalValidators: len(p.entries)}
	seen := make(map[Flag]struct{})
	for _, e := range p.entries {
		if !e.Enabled {
			continue
		}
		s.EnabledValidators++
		s.ValidatorTypes = append(s.ValidatorTypes, e.Validator.Type())
		for _, f := range e.Validator.SupportedFlags() {
			if _, ok := seen[f]; !ok {
				seen[f] = struct{}{}
				s.SupportedFlags = append(s.SupportedFlags, f)
			}
		}
	}
	sort.Slice(s.SupportedFlags, func(i, j int) bool { return s.SupportedFlags[i] < s.SupportedFlags[j] })
	return s
}

type ValidatorResult struct {
	Type   string
	Result Result
}

type PipelineResult struct {
	Passed     bool
	Flags      []Flag
	Confidence float64
	Messages   []string
	Evidence   map[string]map[string]any
	Results    []ValidatorResult
}

func (r PipelineResult) SummaryMessage() string {
	if r.Passed {
		return summaryAllPassed
	}
	return strings.Join(r.Messages, "; ")
}

func (r PipelineResult) HasFlag(f Flag) bool {
	for _, got := range r.Flags {
		if got == f {
			return true
		}
	}
	return false
}

func (r PipelineResult) FailedValidators() []string {
	var out []string
	for _, vr := range r.Results {
		if !vr.Result.Passed {
			out = append(out, vr.Type)
		}
	}
	return out
}

// Bits ORs the bits of every raised flag.
func (r PipelineResult) Bits() Bits {
	var b Bits
	for _, f := range r.Flags {
		b |= f.Bit()
	}
	return b
}

// Run evaluates value against every enabled validator.
func (p *Pipeline) Run(value float64, ctx Context) PipelineResult {
	out := PipelineResult{
		Passed:   true,
		Evidence: make(map[string]map[string]any),
	}
	seen := make(map[Flag]struct{})
	var totalWeight, weighted float64

	for _, e := range p.entries {
		if !e.Enabled {
			continue
		}

		res, err := p.safeValidate(e.Validator, value, ctx)
		if err != nil {
			p.log.Error("qc validator failed",
				zap.String("validator", e.Validator.Type()),
				zap.Error(err),
			)
			out.Messages = append(out.Messages, DisplayName(e.Validator.Type())+": Validation error")
			continue
		}
		out.Results = append(out.Results, ValidatorResult{Type: e.Validator.Type(), Result: res})

		if !res.Passed {
			out.Passed = false
			flags := res.Flags
			if len(flags) == 0 {
				flags = e.Validator.SupportedFlags()
			}
			for _, f := range flags {
				if _, ok := seen[f]; !ok {
					seen[f] = struct{}{}
					out.Flags = append(out.Flags, f)
				}
			}
			if res.Message != "" {
				out.Messages = append(out.Messages, DisplayName(e.Validator.Type())+": "+res.Message)
			}
		}

		if len(res.Evidence) > 0 {
			out.Evidence[e.Validator.Type()] = res.Evidence
		}

		totalWeight += e.Weight
		weighted += res.Confidence * e.Weight

		if e.FailFast && !res.Passed {
			p.log.Debug("qc fail-fast triggered", zap.String("validator", e.Validator.Type()))
			break
		}
	}

	if totalWeight > 0 {
		out.Confidence = weighted / totalWeight
	}
	return out
}

func (p *Pipeline) safeValidate(v Validator, value float64, ctx Context) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return v.Validate(value, ctx), nil
}

type Input struct {
	Value   float64
	Context Context
}

func (p *Pipeline) RunBatch(inputs []Input) []PipelineResult {
	out := make([]PipelineResult, len(inputs))
	for i, in := range inputs {
		out[i] = p.Run(in.Value, in.Context)
	}
	return out
}

// Message is one persisted QC message for a raised flag.
type Message struct {
	Flag Flag
	Text string
}

// Outcome is what gets persisted for one observation.
type Outcome struct {
	Status     Status
	Bits       Bits
	Confidence float64
	Messages   []Message
}

// Evaluate runs p and maps the result to a persisted status. A nil or empty
// pipeline yields NOT_EVALUATED. A failure whose flags carry no bit is kept
// as PASS so that bits==0 always means PASS or NOT_EVALUATED.
func Evaluate(p *Pipeline, value float64, ctx Context) Outcome {
	if p.Empty() {
		return Outcome{Status: StatusNotEvaluated}
	}

	res := p.Run(value, ctx)
	out := Outcome{Confidence: res.Confidence, Bits: res.Bits()}
	if res.Passed || out.Bits == 0 {
		out.Status = StatusPass
		return out
	}

	out.Status = StatusSuspect
	summary := res.SummaryMessage()
	for _, f := range out.Bits.Flags() {
		out.Messages = append(out.Messages, Message{Flag: f, Text: summary})
	}
	return out
}

// Outcome maps an already computed result without re-running the pipeline.
func (r PipelineResult) Outcome() (Status, Bits) {
	bits := r.Bits()
	if r.Passed || bits == 0 {
		return StatusPass, bits
	}
	return StatusSuspect, bits
}
