package observability

import (
	"github.com/smallbiznis/adl/internal/observability/logger"
	"github.com/smallbiznis/adl/internal/observability/metrics"
	"github.com/smallbiznis/adl/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	gormlogger "gorm.io/gorm/logger"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		func(cfg Config) logger.Config { return cfg.loggerConfig() },
		logger.New,
		func(cfg Config) logger.GormLoggerConfig { return cfg.gormLoggerConfig() },
		func(cfg Config) tracing.Config { return cfg.tracingConfig() },
		tracing.NewProvider,
		func(cfg Config) metrics.Config { return cfg.metricsConfig() },
		metrics.NewProvider,
		metrics.New,
	),
	// the tracer provider is only needed for its global registration
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
	fx.Invoke(func(cfg metrics.Config) { metrics.SchedulerWithConfig(cfg) }),
)

func (c Config) loggerConfig() logger.Config {
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.LogLevel,
		Format:              c.LogFormat,
		Debug:               c.Debug(),
		SamplingInitial:     c.LogSampleInitial,
		SamplingThereafter:  c.LogSampleAfter,
		IncludeCaller:       true,
		IncludeStackOnError: c.Debug(),
	}
}

func (c Config) gormLoggerConfig() logger.GormLoggerConfig {
	cfg := logger.DefaultGormLoggerConfig()
	cfg.SlowThreshold = c.SlowQueryThreshold
	cfg.SeriesSlowThreshold = c.SeriesSlowQueryThreshold
	if c.Debug() {
		cfg.Level = gormlogger.Info
	}
	return cfg
}

func (c Config) tracingConfig() tracing.Config {
	return tracing.Config{
		Enabled:          c.TracesEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.ExporterEndpoint,
		ExporterProtocol: c.TracesProtocol,
		SamplingRatio:    c.SamplingRatio,
	}
}

func (c Config) metricsConfig() metrics.Config {
	return metrics.Config{
		Enabled:          c.MetricsEnabled,
		ExporterEndpoint: c.ExporterEndpoint,
		ExporterProtocol: c.MetricsProtocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
		Interval:         c.MetricsInterval,
	}
}
