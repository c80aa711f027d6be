package middleware

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/liveview-go/liveview/pkg/live"
)

// Default tracer name for live view servers.
const defaultTracerName = "liveview"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "liveview").
	TracerName string

	// Filter determines which invocations to trace.
	// Return true to trace the invocation, false to skip.
	// If nil, all invocations are traced.
	Filter func(inv *live.Invocation) bool

	// AttributeExtractor extracts custom attributes from the invocation.
	// Called for each traced invocation.
	AttributeExtractor func(inv *live.Invocation) []attribute.KeyValue

	// tracer is the resolved tracer instance.
	tracer trace.Tracer
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithFilter sets a filter function for invocations.
func WithFilter(filter func(inv *live.Invocation) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(inv *live.Invocation) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

// OTel returns callback middleware that traces each dispatch as a span.
func OTel(opts ...OTelOption) live.CallbackMiddleware {
	config := OTelConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	config.tracer = otel.Tracer(config.TracerName)

	return func(next live.CallbackHandler) live.CallbackHandler {
		return func(inv *live.Invocation) error {
			if config.Filter != nil && !config.Filter(inv) {
				return next(inv)
			}

			ctx, span := config.tracer.Start(inv.Ctx, "liveview.dispatch_callback",
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("liveview.context_id", inv.Live.ID()),
					attribute.Int64("liveview.callback_id", int64(inv.CallbackID)),
					attribute.Int("liveview.args", len(inv.Args)),
				))
			defer span.End()

			if config.AttributeExtractor != nil {
				span.SetAttributes(config.AttributeExtractor(inv)...)
			}

			inv.Ctx = ctx
			err := next(inv)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return err
		}
	}
}
