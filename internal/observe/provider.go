package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Binary names reported as service.name.
const (
	BinaryAgent     = "fileagent"
	BinaryMCPServer = "fileagent-mcp"
)

// ProviderConfig describes the running binary to the OpenTelemetry SDK.
type ProviderConfig struct {
	// Binary is [BinaryAgent] or [BinaryMCPServer]. Empty means [BinaryAgent].
	Binary string

	Version string

	// LLMProvider is the configured model backend, recorded on the resource
	// as fileagent.llm.provider. The MCP server leaves it empty.
	LLMProvider string

	// ToolsRoot is recorded as fileagent.tools.root.
	ToolsRoot string

	// ServeMetrics attaches the Prometheus exporter. Without it the meter
	// provider has no reader and measurements are dropped, which keeps the
	// default Prometheus registry untouched when observe.metrics_addr is
	// unset.
	ServeMetrics bool

	// TraceExporter receives finished spans. When nil, spans only supply
	// trace and span IDs to [Logger].
	TraceExporter sdktrace.SpanExporter
}

// InitProvider installs global meter and tracer providers for cfg and
// returns a shutdown function to defer from main.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.ServeMetrics {
		exp, err := promexporter.New()
		if err != nil {
			return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(exp))
	}
	mp := sdkmetric.NewMeterProvider(mpOpts...)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		// Spans first so a batcher can still record its own metrics.
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func newResource(ctx context.Context, cfg ProviderConfig) (*resource.Resource, error) {
	binary := cfg.Binary
	if binary == "" {
		binary = BinaryAgent
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(binary),
		semconv.ServiceVersion(cfg.Version),
	}
	if cfg.LLMProvider != "" {
		attrs = append(attrs, attribute.String("fileagent.llm.provider", cfg.LLMProvider))
	}
	if cfg.ToolsRoot != "" {
		attrs = append(attrs, attribute.String("fileagent.tools.root", cfg.ToolsRoot))
	}
	return resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(attrs...),
		resource.WithProcessRuntimeName(),
		resource.WithProcessRuntimeVersion(),
	)
}
