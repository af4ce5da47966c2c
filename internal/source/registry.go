package source

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrAdapterNotFound  = errors.New("source_adapter_not_found")
	ErrDuplicateAdapter = errors.New("duplicate_source_adapter")
)

type Registry struct {
	mu            sync.RWMutex
	adapters      map[string]Adapter
	allowOverride bool
}

type RegistryOption func(*Registry)

// AllowOverride lets a later registration replace an adapter with the same id.
func AllowOverride() RegistryOption {
	return func(r *Registry) { r.allowOverride = true }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("%w: nil adapter", ErrAdapterNotFound)
	}
	id := strings.TrimSpace(adapter.ID())
	if id == "" {
		return errors.New("source adapter id is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[id]; exists && !r.allowOverride {
		return fmt.Errorf("%w: %s", ErrDuplicateAdapter, id)
	}
	r.adapters[id] = adapter
	return nil
}

func (r *Registry) Get(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, id)
	}
	return adapter, nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type RegistryParams struct {
	fx.In

	Log      *zap.Logger
	Adapters []Adapter `group:"source_adapters"`
}

// NewRegistryFromGroup registers every adapter contributed to the
// source_adapters value group.
func NewRegistryFromGroup(p RegistryParams) (*Registry, error) {
	r := NewRegistry()
	for _, adapter := range p.Adapters {
		if err := r.Register(adapter); err != nil {
			return nil, err
		}
	}
	p.Log.Named("source").Info("source adapters registered", zap.Strings("ids", r.IDs()))
	return r, nil
}

// AsAdapter annotates a constructor so its result joins the adapter group.
func AsAdapter(constructor any) any {
	return fx.Annotate(constructor,
		fx.As(new(Adapter)),
		fx.ResultTags(`group:"source_adapters"`),
	)
}
