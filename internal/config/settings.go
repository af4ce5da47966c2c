package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Settings are runtime knobs that operators may change without a restart.
type Settings struct {
	DailyAggregationTime     string        `mapstructure:"dailyAggregationTime"`
	DailyAggregationTimezone string        `mapstructure:"dailyAggregationTimezone"`
	HourlyAggregationEvery   time.Duration `mapstructure:"hourlyAggregationEvery"`
}

func DefaultSettings() Settings {
	return Settings{
		DailyAggregationTime:     "00:30",
		DailyAggregationTimezone: "UTC",
		HourlyAggregationEvery:   5 * time.Minute,
	}
}

// DailyClock returns the hour and minute of the daily aggregation run.
func (s Settings) DailyClock() (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s.DailyAggregationTime))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid daily aggregation time %q: %w", s.DailyAggregationTime, err)
	}
	return t.Hour(), t.Minute(), nil
}

// DailyLocation resolves the timezone used for the daily aggregation clock.
func (s Settings) DailyLocation() *time.Location {
	name := strings.TrimSpace(s.DailyAggregationTimezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

type SettingsHolder struct {
	current atomic.Value // holds Settings
}

// NewStaticSettings returns a holder that never reloads.
func NewStaticSettings(s Settings) *SettingsHolder {
	holder := &SettingsHolder{}
	holder.current.Store(s)
	return holder
}

func NewSettingsHolder(cfg Config) (*SettingsHolder, error) {
	v := viper.New()

	if cfg.SettingsPath != "" {
		v.SetConfigFile(cfg.SettingsPath)
	} else {
		v.SetConfigName("adl")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/adl")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ADL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSettings()
	v.SetDefault("settings.dailyAggregationTime", defaults.DailyAggregationTime)
	v.SetDefault("settings.dailyAggregationTimezone", defaults.DailyAggregationTimezone)
	v.SetDefault("settings.hourlyAggregationEvery", defaults.HourlyAggregationEvery)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var s Settings
	if err := v.UnmarshalKey("settings", &s); err != nil {
		return nil, err
	}
	if err := validateSettings(s); err != nil {
		return nil, err
	}

	holder := &SettingsHolder{}
	holder.current.Store(s)

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated Settings
			if err := v.UnmarshalKey("settings", &updated); err != nil {
				log.Printf("[adl-settings] reload failed: %v", err)
				return
			}
			if err := validateSettings(updated); err != nil {
				log.Printf("[adl-settings] invalid settings ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[adl-settings] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

func (h *SettingsHolder) Get() Settings {
	return h.current.Load().(Settings)
}

func validateSettings(s Settings) error {
	if _, _, err := s.DailyClock(); err != nil {
		return err
	}
	if tz := strings.TrimSpace(s.DailyAggregationTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("settings.dailyAggregationTimezone: %w", err)
		}
	}
	if s.HourlyAggregationEvery < time.Minute {
		return errors.New("settings.hourlyAggregationEvery must be at least 1m")
	}
	return nil
}
