// Package telemetry wires OpenTelemetry traces, metrics and logs to an OTLP
// collector. When disabled, the global providers stay no-op and every
// instrument in the codebase costs nothing.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/enzyme/unfurl/internal/config"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Providers holds the SDK providers installed as globals by Setup.
type Providers struct {
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider
	Logger *sdklog.LoggerProvider
}

// Enabled reports whether Setup installed real providers.
func (p *Providers) Enabled() bool {
	return p != nil && p.Tracer != nil
}

// Shutdown flushes and stops every installed provider.
func (p *Providers) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return errors.Join(
		p.Tracer.Shutdown(ctx),
		p.Meter.Shutdown(ctx),
		p.Logger.Shutdown(ctx),
	)
}

// LoggerProvider returns the log provider for the slog bridge, or nil when
// telemetry is disabled.
func (p *Providers) LoggerProvider() otellog.LoggerProvider {
	if !p.Enabled() {
		return nil
	}
	return p.Logger
}

// startRuntime is replaced in tests.
var startRuntime = runtime.Start

// Setup installs global trace, metric and log providers exporting to
// cfg.Endpoint. It returns an empty Providers when telemetry is disabled.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (*Providers, error) {
	if !cfg.Enabled {
		return &Providers{}, nil
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	traceExp, metricExp, logExp, err := newExporters(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)

	providers := &Providers{Tracer: tp, Meter: mp, Logger: lp}

	// Globals are installed only once nothing else can fail.
	if err := startRuntime(runtime.WithMeterProvider(mp)); err != nil {
		return nil, errors.Join(fmt.Errorf("starting runtime metrics: %w", err), providers.Shutdown(ctx))
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	global.SetLoggerProvider(lp)

	return providers, nil
}

func newExporters(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, sdkmetric.Exporter, sdklog.Exporter, error) {
	if cfg.Protocol == "grpc" {
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
		logOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
			logOpts = append(logOpts, otlploggrpc.WithInsecure())
		}

		traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating trace exporter: %w", err)
		}
		metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			_ = traceExp.Shutdown(ctx)
			return nil, nil, nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		logExp, err := otlploggrpc.New(ctx, logOpts...)
		if err != nil {
			_ = traceExp.Shutdown(ctx)
			_ = metricExp.Shutdown(ctx)
			return nil, nil, nil, fmt.Errorf("creating log exporter: %w", err)
		}
		return traceExp, metricExp, logExp, nil
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	logOpts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
		logOpts = append(logOpts, otlploghttp.WithInsecure())
	}

	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		_ = traceExp.Shutdown(ctx)
		return nil, nil, nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	logExp, err := otlploghttp.New(ctx, logOpts...)
	if err != nil {
		_ = traceExp.Shutdown(ctx)
		_ = metricExp.Shutdown(ctx)
		return nil, nil, nil, fmt.Errorf("creating log exporter: %w", err)
	}
	return traceExp, metricExp, logExp, nil
}
