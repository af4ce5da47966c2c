package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/adl/internal/config"
)

// Config controls the scheduler loop and its jobs.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	TaskLockTTL time.Duration
	Concurrency int
	// EnabledJobs limits which job kinds run; empty runs all of them.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		JobTimeout:  30 * time.Minute,
		TaskLockTTL: time.Hour,
		Concurrency: 4,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.TaskLockTTL <= 0 {
		c.TaskLockTTL = defaults.TaskLockTTL
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	var jobs []string
	for _, job := range strings.Split(cfg.Scheduler.EnabledJobs, ",") {
		if job = strings.TrimSpace(job); job != "" {
			jobs = append(jobs, job)
		}
	}
	return Config{
		RunInterval: cfg.Scheduler.Tick,
		JobTimeout:  cfg.Scheduler.JobTimeout,
		TaskLockTTL: cfg.Lock.TaskTTL,
		Concurrency: cfg.Scheduler.Concurrency,
		EnabledJobs: jobs,
	}.withDefaults()
}
