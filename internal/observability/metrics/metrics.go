package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
	Interval         time.Duration
}

// Metrics exposes application-level instruments.
type Metrics struct {
	observationsIngested metric.Int64Counter
	qcFailures           metric.Int64Counter
	recordsDispatched    metric.Int64Counter
	dispatchFailures     metric.Int64Counter
	aggregatesWritten    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "adl"
	}
	meter := provider.Meter(name)

	observationsIngested, err := meter.Int64Counter("adl_observations_ingested_total")
	if err != nil {
		return nil, err
	}
	qcFailures, err := meter.Int64Counter("adl_qc_failures_total")
	if err != nil {
		return nil, err
	}
	recordsDispatched, err := meter.Int64Counter("adl_dispatch_records_total")
	if err != nil {
		return nil, err
	}
	dispatchFailures, err := meter.Int64Counter("adl_dispatch_failures_total")
	if err != nil {
		return nil, err
	}
	aggregatesWritten, err := meter.Int64Counter("adl_aggregates_written_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		observationsIngested: observationsIngested,
		qcFailures:           qcFailures,
		recordsDispatched:    recordsDispatched,
		dispatchFailures:     dispatchFailures,
		aggregatesWritten:    aggregatesWritten,
	}, nil
}

// NewNoop returns instruments bound to a no-op provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordObservationsIngested adds saved observation rows for a plugin.
func (m *Metrics) RecordObservationsIngested(ctx context.Context, pluginID string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("plugin", strings.TrimSpace(pluginID)))
	m.observationsIngested.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordQCFailure increments failed QC checks by flag.
func (m *Metrics) RecordQCFailure(ctx context.Context, flag string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("flag", strings.TrimSpace(flag)))
	m.qcFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDispatched adds records delivered by a sink kind.
func (m *Metrics) RecordDispatched(ctx context.Context, sinkKind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("sink", strings.TrimSpace(sinkKind)))
	m.recordsDispatched.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordDispatchFailure increments failed station sends for a sink kind.
func (m *Metrics) RecordDispatchFailure(ctx context.Context, sinkKind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("sink", strings.TrimSpace(sinkKind)))
	m.dispatchFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAggregatesWritten adds upserted aggregate rows for a period.
func (m *Metrics) RecordAggregatesWritten(ctx context.Context, period string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("period", strings.TrimSpace(period)))
	m.aggregatesWritten.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"plugin": {},
	"flag":   {},
	"sink":   {},
	"period": {},
	"reason": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
