package config

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/pitbox-racing/pitbox-relay-go/log"
	"github.com/pitbox-racing/pitbox-relay-go/version"
)

// Telemetry bundles the configured OTLP providers so the server can
// shut them down together on exit.
type Telemetry struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *trace.TracerProvider
}

func (t *Telemetry) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			log.Warn("could not shutdown meter provider", log.ErrorField(err))
		}
	}
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			log.Warn("could not shutdown tracer provider", log.ErrorField(err))
		}
	}
}

// SetupTelemetry initializes OTLP metric and trace providers against
// TelemetryEndpoint and registers them as the otel globals.
func SetupTelemetry(ctx context.Context) (*Telemetry, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("pitbox-relay"),
			semconv.ServiceVersion(version.Version),
		))
	if err != nil {
		return nil, err
	}

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(TelemetryEndpoint),
		otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	meterProvider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(
			metric.NewPeriodicReader(metricExporter,
				metric.WithInterval(15*time.Second))))
	otel.SetMeterProvider(meterProvider)

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(TelemetryEndpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tracerProvider := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithBatcher(traceExporter))
	otel.SetTracerProvider(tracerProvider)

	return &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
	}, nil
}
