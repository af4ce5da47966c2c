package qc

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Builder composes a pipeline fluently. Construction errors are collected
// and returned from Build; the offending validator is left out.
type Builder struct {
	pipeline *Pipeline
	registry *Registry
	log      *zap.Logger
	errs     []error
}

func NewBuilder(log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{
		pipeline: NewPipeline(log),
		registry: DefaultRegistry(),
		log:      log,
	}
}

// WithRegistry switches the factory registry used by BuildFromRules.
func (b *Builder) WithRegistry(r *Registry) *Builder {
	if r != nil {
		b.registry = r
	}
	return b
}

func (b *Builder) WithRange(cfg RangeConfig, opts ...EntryOption) *Builder {
	v, err := NewRangeValidator(cfg)
	return b.add(v, err, opts)
}

func (b *Builder) WithStep(cfg StepConfig, opts ...EntryOption) *Builder {
	v, err := NewStepValidator(cfg)
	return b.add(v, err, opts)
}

func (b *Builder) WithPersistence(cfg PersistenceConfig, opts ...EntryOption) *Builder {
	v, err := NewPersistenceValidator(cfg)
	return b.add(v, err, opts)
}

func (b *Builder) WithSpike(cfg SpikeConfig, opts ...EntryOption) *Builder {
	v, err := NewSpikeValidator(cfg)
	return b.add(v, err, opts)
}

func (b *Builder) WithValidator(v Validator, opts ...EntryOption) *Builder {
	if v == nil {
		return b.add(nil, fmt.Errorf("%w: nil validator", ErrInvalidConfig), opts)
	}
	return b.add(v, nil, opts)
}

func (b *Builder) add(v Validator, err error, opts []EntryOption) *Builder {
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.pipeline.Add(v, opts...)
	return b
}

func (b *Builder) Build() (*Pipeline, error) {
	return b.pipeline, errors.Join(b.errs...)
}

// BuildFromRules adds every rule through the registry. Unknown types and
// invalid configs are logged and skipped; the pipeline is always usable and
// the returned error lists what was skipped.
func (b *Builder) BuildFromRules(rules []Rule) (*Pipeline, error) {
	for _, rule := range rules {
		v, err := b.registry.Create(rule.Type, rule.Config)
		if err != nil {
			if errors.Is(err, ErrUnknownValidator) {
				b.log.Warn("unknown qc check type", zap.String("type", rule.Type))
			} else {
				b.log.Error("invalid qc check config", zap.String("type", rule.Type), zap.Error(err))
			}
			b.errs = append(b.errs, err)
			continue
		}
		b.pipeline.Add(v, rule.options()...)
	}
	return b.Build()
}
