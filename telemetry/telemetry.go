// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// telemetry wires OpenTelemetry tracing and the sign-in counters.
package telemetry

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	tracesPath  = "/v1/traces"
	metricsPath = "/v1/metrics"
)

// ShutdownFunc flushes pending telemetry and releases the providers.
type ShutdownFunc func(context.Context) error

// Setup initialises OpenTelemetry tracing and metrics for the given service.
// endpoint is the base URL of an OTLP/HTTP collector; spans are sent to
// endpoint/v1/traces and metrics to endpoint/v1/metrics.
//
// Telemetry is opt-in: when endpoint is empty Setup returns a no-op shutdown
// function and no global provider is registered.
//
// The returned shutdown function flushes pending spans and metrics and should
// be deferred by the caller.
func Setup(ctx context.Context, serviceName, endpoint string) (ShutdownFunc, error) {
	const op = "telemetry.Setup"
	noop := func(context.Context) error { return nil }
	if endpoint == "" {
		return noop, nil
	}
	base := strings.TrimRight(endpoint, "/")

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("%s: unable to create resource: %w", op, err)
	}

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(base+tracesPath),
	)
	if err != nil {
		return noop, fmt.Errorf("%s: unable to create trace exporter: %w", op, err)
	}
	metricExporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpointURL(base+metricsPath),
	)
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		return noop, fmt.Errorf("%s: unable to create metric exporter: %w", op, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	mp := newMeterProvider(res, sdkmetric.NewPeriodicReader(metricExporter))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		var errs *multierror.Error
		if err := tp.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: tracer provider: %w", op, err))
		}
		if err := mp.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: meter provider: %w", op, err))
		}
		return errs.ErrorOrNil()
	}, nil
}

// newMeterProvider builds the SDK meter provider the sign-in counters are
// recorded into.
func newMeterProvider(res *resource.Resource, reader sdkmetric.Reader) *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
}
