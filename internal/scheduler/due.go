package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/adl/internal/config"
)

// dueTracker remembers when each interval job last started. Jobs that
// never ran are due immediately.
type dueTracker struct {
	mu      sync.Mutex
	lastRun map[string]time.Time
}

func newDueTracker() *dueTracker {
	return &dueTracker{lastRun: make(map[string]time.Time)}
}

// claim reports whether name is due at now and, if so, marks it started.
func (d *dueTracker) claim(name string, every time.Duration, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lastRun[name]
	if ok && now.Before(last.Add(every)) {
		return false
	}
	d.lastRun[name] = now
	return true
}

// dailyTrigger fires once per activation of the daily aggregation cron
// schedule, rebuilding it when the settings change.
type dailyTrigger struct {
	mu       sync.Mutex
	spec     string
	schedule cron.Schedule
	next     time.Time
}

func dailySpec(s config.Settings) (string, error) {
	hour, minute, err := s.DailyClock()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CRON_TZ=%s %d %d * * *", s.DailyLocation().String(), minute, hour), nil
}

// due reports whether an activation passed since the last check. The
// first check after start, or after a settings change, only arms the
// trigger.
func (d *dailyTrigger) due(s config.Settings, now time.Time) (bool, error) {
	spec, err := dailySpec(s)
	if err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if spec != d.spec || d.schedule == nil {
		schedule, err := cron.ParseStandard(spec)
		if err != nil {
			return false, fmt.Errorf("parse daily schedule %q: %w", spec, err)
		}
		d.spec = spec
		d.schedule = schedule
		d.next = schedule.Next(now)
		return false, nil
	}
	if now.Before(d.next) {
		return false, nil
	}
	d.next = d.schedule.Next(now)
	return true, nil
}
