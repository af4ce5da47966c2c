package observability

import (
	"testing"
	"time"

	"github.com/smallbiznis/adl/internal/config"
	"github.com/stretchr/testify/assert"
	gormlogger "gorm.io/gorm/logger"
)

func TestLoadConfigDefaultsFromAppConfig(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_PROTOCOL", "http")
	t.Setenv("OTEL_TRACES_ENABLED", "")
	t.Setenv("OTEL_METRICS_ENABLED", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DEPLOYMENT_ENV", "")
	t.Setenv("OTEL_SERVICE_NAME", "")

	cfg := LoadConfig(config.Config{AppName: "adl-test", Environment: "production", OTLPEndpoint: "collector:4317"})

	assert.Equal(t, "adl-test", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.TracesEnabled)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, "collector:4317", cfg.ExporterEndpoint)
	assert.Equal(t, "grpc", cfg.TracesProtocol)
	assert.Equal(t, "http", cfg.MetricsProtocol)
	assert.Equal(t, 30*time.Second, cfg.MetricsInterval)
	assert.False(t, cfg.Debug())
}

func TestLoadConfigDisablesExportWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_TRACES_ENABLED", "")
	t.Setenv("OTEL_METRICS_ENABLED", "true")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DEPLOYMENT_ENV", "")
	t.Setenv("OTEL_SERVICE_NAME", "")

	cfg := LoadConfig(config.Config{Environment: "local"})
	assert.Equal(t, "adl", cfg.ServiceName)
	assert.False(t, cfg.TracesEnabled)
	assert.True(t, cfg.MetricsEnabled)
	assert.True(t, cfg.Debug())
	assert.Equal(t, gormlogger.Info, cfg.gormLoggerConfig().Level)
}
