package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/adl/internal/config"
)

// Config holds observability settings. Values come from the application
// config first and may be overridden by the standard OTEL_* variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel                 string
	LogFormat                string
	LogSampleInitial         int
	LogSampleAfter           int
	SlowQueryThreshold       time.Duration
	SeriesSlowQueryThreshold time.Duration

	TracesEnabled    bool
	MetricsEnabled   bool
	ExporterEndpoint string
	TracesProtocol   string
	MetricsProtocol  string
	SamplingRatio    float64
	MetricsInterval  time.Duration
}

func LoadConfig(cfg config.Config) Config {
	serviceName := firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), cfg.AppName, "adl")
	protocol := strings.ToLower(firstNonEmpty(os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"), "grpc"))
	otelEnabled := envBool("OTEL_ENABLED", strings.TrimSpace(cfg.OTLPEndpoint) != "")

	return Config{
		ServiceName: serviceName,
		Environment: firstNonEmpty(os.Getenv("DEPLOYMENT_ENV"), cfg.Environment),
		Version:     firstNonEmpty(os.Getenv("SERVICE_VERSION"), cfg.AppVersion),

		LogLevel:                 strings.ToLower(firstNonEmpty(os.Getenv("LOG_LEVEL"), "info")),
		LogFormat:                strings.ToLower(firstNonEmpty(os.Getenv("LOG_FORMAT"), "json")),
		LogSampleInitial:         envInt("LOG_SAMPLE_INITIAL", 100),
		LogSampleAfter:           envInt("LOG_SAMPLE_THEREAFTER", 100),
		SlowQueryThreshold:       envDuration("DATABASE_SLOW_QUERY", 500*time.Millisecond),
		SeriesSlowQueryThreshold: envDuration("DATABASE_SERIES_SLOW_QUERY", 5*time.Second),

		TracesEnabled:    envBool("OTEL_TRACES_ENABLED", otelEnabled),
		MetricsEnabled:   envBool("OTEL_METRICS_ENABLED", otelEnabled),
		ExporterEndpoint: firstNonEmpty(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), cfg.OTLPEndpoint),
		TracesProtocol:   strings.ToLower(firstNonEmpty(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL"), protocol)),
		MetricsProtocol:  strings.ToLower(firstNonEmpty(os.Getenv("OTEL_EXPORTER_OTLP_METRICS_PROTOCOL"), protocol)),
		SamplingRatio:    envFloat("OTEL_SAMPLING_RATIO", 0.1),
		MetricsInterval:  envDuration("OTEL_METRIC_EXPORT_INTERVAL", 30*time.Second),
	}
}

// Debug is true for an explicit debug level or a development environment.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
