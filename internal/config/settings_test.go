package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSettingsDailyClock(t *testing.T) {
	s := Settings{DailyAggregationTime: "06:45"}
	hour, minute, err := s.DailyClock()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hour != 6 || minute != 45 {
		t.Fatalf("expected 06:45, got %02d:%02d", hour, minute)
	}

	if _, _, err := (Settings{DailyAggregationTime: "25:00"}).DailyClock(); err == nil {
		t.Fatalf("expected error for invalid clock")
	}
}

func TestSettingsDailyLocationFallsBackToUTC(t *testing.T) {
	if loc := (Settings{DailyAggregationTimezone: "Nowhere/Invalid"}).DailyLocation(); loc != time.UTC {
		t.Fatalf("expected UTC fallback, got %s", loc)
	}
	if loc := (Settings{DailyAggregationTimezone: "Africa/Nairobi"}).DailyLocation(); loc.String() != "Africa/Nairobi" {
		t.Fatalf("expected Africa/Nairobi, got %s", loc)
	}
}

func TestNewSettingsHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "adl.yaml")
	content := "settings:\n  dailyAggregationTime: \"02:15\"\n  dailyAggregationTimezone: \"Africa/Nairobi\"\n  hourlyAggregationEvery: 10m\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	holder, err := NewSettingsHolder(Config{SettingsPath: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := holder.Get()
	if got.DailyAggregationTime != "02:15" {
		t.Fatalf("expected 02:15, got %q", got.DailyAggregationTime)
	}
	if got.HourlyAggregationEvery != 10*time.Minute {
		t.Fatalf("expected 10m, got %s", got.HourlyAggregationEvery)
	}
}

func TestValidateSettingsRejectsShortHourlyInterval(t *testing.T) {
	s := DefaultSettings()
	s.HourlyAggregationEvery = time.Second
	if err := validateSettings(s); err == nil {
		t.Fatalf("expected validation error")
	}
}
