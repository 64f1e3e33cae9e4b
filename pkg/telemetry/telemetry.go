package telemetry

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/config"
)

const (
	defaultServiceName = "consent-manager"
	tracerName         = "github.com/ProjectEKA/consent-manager-sub002"
)

// Span attributes shared by every step of a health information exchange.
const (
	AttrRequestID     = attribute.Key("cm.request_id")
	AttrTransactionID = attribute.Key("cm.transaction_id")
	AttrHIU           = attribute.Key("cm.hiu_id")
)

// Init installs the global tracer provider and the W3C propagator. Without
// an enabled exporter spans stay local, but inbound trace context still
// reaches the Gateway and the HIPs through instrumented clients.
// OTEL_EXPORTER_OTLP_* variables are honoured by the exporter itself.
func Init(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	name := serviceName(cfg.ServiceName)
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(newResource(name)),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	}
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
		log.Ctx(ctx).Info().Str("endpoint", cfg.Endpoint).Str("service", name).Msg("trace export enabled")
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}

func newResource(name string) *resource.Resource {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(name)))
	if err != nil {
		// Schema conflicts only drop the defaults.
		return resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(name))
	}
	return res
}

func newExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if !cfg.Enabled || endpoint == "" {
		return nil, nil
	}
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithTimeout(5 * time.Second),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

func sampler(ratio float64) sdktrace.Sampler {
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(min(max(ratio, 0), 1)))
}

func serviceName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return defaultServiceName
}

// StartExchange opens a span for one asynchronous step of a data flow,
// keyed by the Gateway request id. End it with Finish.
func StartExchange(ctx context.Context, operation, requestID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, operation,
		trace.WithAttributes(AttrRequestID.String(requestID)))
}

// Finish records err on span and ends it.
func Finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TagTransaction annotates the active span with the transaction and HIU it
// serves. Empty values are skipped.
func TagTransaction(ctx context.Context, transactionID, hiuID string) {
	span := trace.SpanFromContext(ctx)
	if transactionID != "" {
		span.SetAttributes(AttrTransactionID.String(transactionID))
	}
	if hiuID != "" {
		span.SetAttributes(AttrHIU.String(hiuID))
	}
}

// HTTPMiddleware instruments inbound HTTP handlers.
func HTTPMiddleware(name string) func(http.Handler) http.Handler {
	return otelhttp.NewMiddleware(serviceName(name))
}

// InstrumentClient wraps client's transport so outbound calls carry the
// current trace context.
func InstrumentClient(client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.Transport = otelhttp.NewTransport(base)
	return client
}
