package source

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubAdapter struct {
	id string
}

func (a stubAdapter) ID() string    { return a.id }
func (a stubAdapter) Label() string { return "Stub " + a.id }
func (a stubAdapter) StationData(context.Context, Link, time.Time, time.Time) (RecordIterator, error) {
	return NewSliceIterator(nil), nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(stubAdapter{id: "b"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(stubAdapter{id: "a"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(stubAdapter{id: "a"}); !errors.Is(err, ErrDuplicateAdapter) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := r.Get("missing"); !errors.Is(err, ErrAdapterNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	got := r.IDs()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected ids %v", got)
	}

	override := NewRegistry(AllowOverride())
	_ = override.Register(stubAdapter{id: "a"})
	if err := override.Register(stubAdapter{id: "a"}); err != nil {
		t.Fatalf("expected override to be allowed: %v", err)
	}
}

func TestSliceIterator(t *testing.T) {
	ctx := context.Background()
	it := NewSliceIterator([]Record{{Values: map[string]any{"t": 1.0}}, {Values: map[string]any{"t": 2.0}}})
	n := 0
	for {
		_, ok, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		n++
	}
	if n != 2 {
		t.Fatalf("expected 2 records, got %d", n)
	}
	if _, ok, _ := it.Next(ctx); ok {
		t.Fatalf("iterator restarted")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, _, err := NewSliceIterator([]Record{{}}).Next(cancelled); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestNaiveTimeIn(t *testing.T) {
	nairobi := time.FixedZone("EAT", 3*3600)
	n := NaiveTime{Wall: time.Date(2025, 1, 1, 9, 0, 0, 0, time.FixedZone("X", -5*3600))}
	got := n.In(nairobi)
	if !got.Equal(time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected time %s", got)
	}
	if !Naive(2025, 1, 1, 9, 0, 0).In(nil).Equal(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("nil location should be UTC")
	}
}
