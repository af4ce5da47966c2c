package wis2box

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	defaultBucket  = "wis2box-incoming"
	defaultTimeout = 60 * time.Second
	objectPrefix   = "incoming/"
)

// Config is the channel config of a wis2box channel.
type Config struct {
	Endpoint        string `json:"endpoint"`
	AccessKey       string `json:"access_key"`
	SecretKey       string `json:"secret_key"`
	Secure          bool   `json:"secure"`
	Bucket          string `json:"bucket"`
	DatasetID       string `json:"dataset_id"`
	HourlyAggregate bool   `json:"hourly_aggregate"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
}

func parseConfig(raw []byte) (Config, error) {
	var cfg Config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("decode wis2box config: %w", err)
		}
	}
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.DatasetID = strings.Trim(strings.TrimSpace(cfg.DatasetID), "/")
	if cfg.Bucket == "" {
		cfg.Bucket = defaultBucket
	}
	if cfg.Endpoint == "" {
		return cfg, fmt.Errorf("wis2box config: endpoint is required")
	}
	if cfg.DatasetID == "" {
		return cfg, fmt.Errorf("wis2box config: dataset_id is required")
	}
	return cfg, nil
}

func (c Config) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return defaultTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}
