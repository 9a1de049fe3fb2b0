// Package otelx installs the global tracer provider and propagators.
//
// With tracing disabled a provider without exporters is still installed,
// so spans carry valid IDs for log correlation and trace response headers
// but nothing leaves the process.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/xerrors"
)

// DefaultDialTimeout bounds exporter setup against a local collector.
const DefaultDialTimeout = 3 * time.Second

type Options struct {
	Enabled bool

	// Endpoint is the collector's gRPC host:port.
	Endpoint string
	Insecure bool
	// Headers are sent with every export, e.g. collector auth.
	Headers     map[string]string
	DialTimeout time.Duration

	// Sample is the root sampling ratio, clamped to [0, 1].
	Sample float64

	Service   string
	Component string
	Version   string
}

// Shutdown flushes pending spans and stops the provider.
type Shutdown func(context.Context) error

// Init installs the global provider and W3C trace context and baggage
// propagators.
func Init(ctx context.Context, o Options) (Shutdown, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	if !o.Enabled {
		tp := newProvider(o, resource.Empty())
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	}

	exp, err := newExporter(ctx, o)
	if err != nil {
		return nil, err
	}
	tp := newProvider(o, newResource(ctx, o), sdktrace.WithBatcher(exp,
		sdktrace.WithMaxQueueSize(2048),
		sdktrace.WithBatchTimeout(5*time.Second),
	))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, o Options) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(o.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(o.Service + "/" + o.Version)),
	}
	if len(o.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(o.Headers))
	}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	timeout := o.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	exp, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "otlp exporter for %s", o.Endpoint)
	}
	return exp, nil
}

// serviceName is "<service>.<component>" or just the service.
func serviceName(o Options) string {
	if o.Component == "" {
		return o.Service
	}
	return o.Service + "." + o.Component
}

// newResource describes this process. Detector failures are partial and
// leave the attributes that did resolve.
func newResource(ctx context.Context, o Options) *resource.Resource {
	res, _ := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName(o)),
			semconv.ServiceVersionKey.String(o.Version),
		),
	)
	if res == nil {
		res = resource.Empty()
	}
	return res
}

func newProvider(o Options, res *resource.Resource, extra ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	opts := append([]sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sampler(o.Sample)),
		sdktrace.WithResource(res),
	}, extra...)
	return sdktrace.NewTracerProvider(opts...)
}

// sampler follows a sampled parent and samples roots at ratio.
func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
