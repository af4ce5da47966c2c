package lock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/adl/internal/clock"
)

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryLocker is a process-local Locker for single-node runs and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	clock clock.Clock
	held  map[string]memoryEntry
}

func NewMemoryLocker(clk clock.Clock) *MemoryLocker {
	if clk == nil {
		clk = clock.System()
	}
	return &MemoryLocker{clock: clk, held: make(map[string]memoryEntry)}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := validate(key, ttl); err != nil {
		return "", false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if current, ok := l.held[key]; ok && now.Before(current.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = memoryEntry{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if current, ok := l.held[key]; ok && current.token == token {
		delete(l.held, key)
	}
	return nil
}

func (l *MemoryLocker) Sweep(context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key := range l.held {
		if strings.HasPrefix(key, stationKeyPrefix) || strings.HasPrefix(key, taskKeyPrefix) {
			delete(l.held, key)
			removed++
		}
	}
	return removed, nil
}

// Held reports whether key is currently locked.
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	current, ok := l.held[key]
	return ok && l.clock.Now().Before(current.expires)
}
