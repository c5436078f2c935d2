// Package telemetry wires the ambient OpenTelemetry meter and tracer used
// to instrument Supervisor operations. No control-plane
// operation depends on its output; it is purely observational, mirroring
// the gateway's own otel wiring.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Instruments bundles the handful of metrics the Supervisor emits.
type Instruments struct {
	ActiveInstances metric.Int64UpDownCounter
	StartsTotal     metric.Int64Counter
	StopsTotal      metric.Int64Counter
	Tracer          trace.Tracer
}

// Setup installs an in-process meter/tracer provider (no exporter or
// metric reader is wired, so recorded data stays in process) and returns
// the instruments plus a shutdown func.
func Setup(ctx context.Context, serviceName string) (*Instruments, func(context.Context) error, error) {
	mp := sdkmetric.NewMeterProvider()
	tp := sdktrace.NewTracerProvider()
	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	meter := mp.Meter(serviceName)
	active, err := meter.Int64UpDownCounter("mcp_controlplane.active_instances")
	if err != nil {
		return nil, nil, err
	}
	starts, err := meter.Int64Counter("mcp_controlplane.starts_total")
	if err != nil {
		return nil, nil, err
	}
	stops, err := meter.Int64Counter("mcp_controlplane.stops_total")
	if err != nil {
		return nil, nil, err
	}

	inst := &Instruments{
		ActiveInstances: active,
		StartsTotal:     starts,
		StopsTotal:      stops,
		Tracer:          tp.Tracer(serviceName),
	}
	shutdown := func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}
	return inst, shutdown, nil
}
