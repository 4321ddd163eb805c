// Package traces wires OpenTelemetry spans through the matching and
// posting pipelines. Span attributes use the helpers below so every
// span names tenants and domain objects the same way.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/settleline/recon"

// Init sets the global tracer provider to export over OTLP/gRPC and
// returns its shutdown function. An empty endpoint leaves the default
// no-op provider in place so instrumented code paths cost nothing.
func Init(ctx context.Context, otlpEndpoint string, logger *slog.Logger) (func(context.Context) error, error) {
	if otlpEndpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName("recon-engine"),
		semconv.ServiceVersion("0.1.0"),
	))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Info("tracing enabled", "endpoint", otlpEndpoint)
	return provider.Shutdown, nil
}

// StartSpan opens a span on the module tracer, tagged with any attrs.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// Attribute helpers keep span keys uniform across packages.

func TenantID(id string) attribute.KeyValue      { return attribute.String("tenant.id", id) }
func TransactionID(id string) attribute.KeyValue { return attribute.String("transaction.id", id) }
func SettlementID(id string) attribute.KeyValue  { return attribute.String("settlement.id", id) }
func MatchLevel(level int) attribute.KeyValue    { return attribute.Int("match.level", level) }
func ExceptionID(id string) attribute.KeyValue   { return attribute.String("exception.id", id) }
func AdjustmentID(id string) attribute.KeyValue  { return attribute.String("adjustment.id", id) }
func LedgerEntryID(id string) attribute.KeyValue { return attribute.String("ledger_entry.id", id) }
