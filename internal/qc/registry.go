package qc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrUnknownValidator   = errors.New("unknown_qc_validator")
	ErrDuplicateValidator = errors.New("duplicate_qc_validator")
)

// Factory builds a validator from its raw JSON config.
type Factory func(raw json.RawMessage) (Validator, error)

type registration struct {
	factory Factory
	schema  map[string]any
}

// Registry maps validator types to factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// DefaultRegistry returns the shared registry with the built-in validators.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]registration)}
	r.mustRegister(TypeRange, newRangeFromJSON, (&RangeValidator{}).ConfigSchema())
	r.mustRegister(TypeStep, newStepFromJSON, (&StepValidator{}).ConfigSchema())
	r.mustRegister(TypePersistence, newPersistenceFromJSON, (&PersistenceValidator{}).ConfigSchema())
	r.mustRegister(TypeSpike, newSpikeFromJSON, (&SpikeValidator{}).ConfigSchema())
	return r
}

func (r *Registry) mustRegister(validatorType string, factory Factory, schema map[string]any) {
	if err := r.Register(validatorType, factory, schema); err != nil {
		panic(err)
	}
}

func (r *Registry) Register(validatorType string, factory Factory, schema map[string]any) error {
	validatorType = strings.TrimSpace(validatorType)
	if validatorType == "" || factory == nil {
		return fmt.Errorf("%w: empty type or factory", ErrInvalidConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[validatorType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateValidator, validatorType)
	}
	r.entries[validatorType] = registration{factory: factory, schema: schema}
	return nil
}

func (r *Registry) Create(validatorType string, raw json.RawMessage) (Validator, error) {
	r.mu.RLock()
	reg, ok := r.entries[validatorType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownValidator, validatorType)
	}
	return reg.factory(raw)
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Schema(validatorType string) (map[string]any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[validatorType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownValidator, validatorType)
	}
	return reg.schema, nil
}

// Schemas returns the config schema of every registered validator.
func (r *Registry) Schemas() map[string]map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]map[string]any, len(r.entries))
	for t, reg := range r.entries {
		out[t] = reg.schema
	}
	return out
}
