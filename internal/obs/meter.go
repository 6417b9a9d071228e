package obs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// Exporter names accepted by Config.Exporter.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Config holds the configuration for the meter setup.
type Config struct {
	// Enabled turns metric export on.
	Enabled bool

	// Exporter selects the export backend, ExporterStdout or ExporterOTLP.
	// Empty means stdout.
	Exporter string

	// Endpoint is the OTLP/HTTP endpoint, either host:port or a full URL.
	// Ignored by the stdout exporter.
	Endpoint string

	// ExportInterval is the time between exports. Default: 10s
	ExportInterval time.Duration

	// ExportTimeout is the timeout for each export. Default: 30s
	ExportTimeout time.Duration
}

// DefaultConfig returns a config with export disabled and the default cadence.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Exporter:       ExporterStdout,
		ExportInterval: 10 * time.Second,
		ExportTimeout:  30 * time.Second,
	}
}

// MeterSetup holds the meter provider and usage tracker.
type MeterSetup struct {
	meterProvider *sdkmetric.MeterProvider
	tracker       *Tracker
}

// NewMeterSetup creates a new meter setup with the provided config.
// It returns (nil, nil) when metrics are disabled; a nil *MeterSetup is
// safe to use, its Tracker records nothing.
func NewMeterSetup(ctx context.Context, cfg *Config) (*MeterSetup, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	timeout := cfg.ExportTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	reader := sdkmetric.NewPeriodicReader(
		exp,
		sdkmetric.WithInterval(interval),
		sdkmetric.WithTimeout(timeout),
	)

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String("switchboard"),
	)

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	otel.SetMeterProvider(meterProvider)
	meter := meterProvider.Meter("switchboard")

	tracker, err := NewTracker(meter)
	if err != nil {
		_ = meterProvider.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create usage tracker: %w", err)
	}

	return &MeterSetup{
		meterProvider: meterProvider,
		tracker:       tracker,
	}, nil
}

func newExporter(ctx context.Context, cfg *Config) (sdkmetric.Exporter, error) {
	switch cfg.Exporter {
	case "", ExporterStdout:
		return stdoutmetric.New()
	case ExporterOTLP:
		var opts []otlpmetrichttp.Option
		switch {
		case cfg.Endpoint == "":
		case strings.Contains(cfg.Endpoint, "://"):
			opts = append(opts, otlpmetrichttp.WithEndpointURL(cfg.Endpoint))
		default:
			// Bare host:port endpoints name a local collector without TLS.
			opts = append(opts,
				otlpmetrichttp.WithEndpoint(cfg.Endpoint),
				otlpmetrichttp.WithInsecure(),
			)
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown metrics exporter %q", cfg.Exporter)
	}
}

// Tracker returns the usage tracker, nil when metrics are disabled.
func (ms *MeterSetup) Tracker() *Tracker {
	if ms == nil {
		return nil
	}
	return ms.tracker
}

// Shutdown flushes pending metrics and shuts down the meter provider.
func (ms *MeterSetup) Shutdown(ctx context.Context) error {
	if ms == nil || ms.meterProvider == nil {
		return nil
	}
	return ms.meterProvider.Shutdown(ctx)
}
