package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/adl/internal/dispatch/domain"
	"go.uber.org/fx"
)

var (
	ErrSinkNotFound  = errors.New("dispatch sink not found")
	ErrDuplicateSink = errors.New("dispatch sink already registered")
)

// Sink delivers a station's payload. It returns how many leading records
// were delivered and the timestamp of the last one; a partial send returns
// both with a non-nil error.
type Sink interface {
	Kind() string
	SendStationData(ctx context.Context, target domain.StationTarget, payload []domain.StationRecord) (int, *time.Time, error)
}

// SinkFactory builds a sink from a channel's kind specific config.
type SinkFactory interface {
	Kind() string
	New(channel domain.Channel) (Sink, error)
}

type SinkRegistry struct {
	mu        sync.RWMutex
	factories map[string]SinkFactory
}

func NewSinkRegistry() *SinkRegistry {
	return &SinkRegistry{factories: make(map[string]SinkFactory)}
}

func (r *SinkRegistry) Register(f SinkFactory) error {
	kind := strings.TrimSpace(f.Kind())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[kind]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSink, kind)
	}
	r.factories[kind] = f
	return nil
}

func (r *SinkRegistry) Factory(kind string) (SinkFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[strings.TrimSpace(kind)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSinkNotFound, kind)
	}
	return f, nil
}

func (r *SinkRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

type SinkRegistryParams struct {
	fx.In

	Factories []SinkFactory `group:"dispatch_sinks"`
}

func NewSinkRegistryFromGroup(p SinkRegistryParams) (*SinkRegistry, error) {
	reg := NewSinkRegistry()
	for _, f := range p.Factories {
		if err := reg.Register(f); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// AsSinkFactory annotates a factory constructor for the sink group.
func AsSinkFactory(constructor any) any {
	return fx.Annotate(
		constructor,
		fx.As(new(SinkFactory)),
		fx.ResultTags(`group:"dispatch_sinks"`),
	)
}
