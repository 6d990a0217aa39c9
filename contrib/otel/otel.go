// Package otel records carelink requests as OpenTelemetry spans.
//
//	hook := otel.NewHook(otel.WithTracerProvider(tp))
//	client := core.NewClient(t, store, core.WithTelemetry(hook))
package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/carelink/core"
)

// ScopeName is the instrumentation scope of the tracer.
const ScopeName = "github.com/petal-labs/carelink/contrib/otel"

// Hook implements core.TelemetryHook. Each finished request becomes one
// client span whose start and end times match the request.
type Hook struct {
	tracer trace.Tracer
}

// Option configures a Hook.
type Option func(*hookConfig)

type hookConfig struct {
	provider trace.TracerProvider
}

// WithTracerProvider sets the provider. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *hookConfig) {
		c.provider = tp
	}
}

// NewHook creates a Hook.
func NewHook(opts ...Option) *Hook {
	cfg := hookConfig{provider: otel.GetTracerProvider()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Hook{tracer: cfg.provider.Tracer(ScopeName)}
}

// OnRequestStart does nothing; spans are recorded when the request ends.
func (h *Hook) OnRequestStart(core.RequestStartEvent) {}

// OnRequestEnd records the span.
func (h *Hook) OnRequestEnd(e core.RequestEndEvent) {
	name := "carelink " + string(e.Method)
	if e.Stream {
		name = "carelink stream " + string(e.Method)
	}

	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", string(e.Method)),
		attribute.String("url.path", e.Path),
		attribute.String("carelink.auth", e.Auth.String()),
		attribute.Bool("carelink.retry", e.Retry),
		attribute.Bool("carelink.stream", e.Stream),
	}
	if e.Status != 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", e.Status))
	}

	_, span := h.tracer.Start(context.Background(), name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(e.Start),
		trace.WithAttributes(attrs...),
	)

	switch {
	case e.Err != nil:
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, e.Err.Error())
	case e.Status >= 500:
		span.SetStatus(codes.Error, "server error")
	}
	span.End(trace.WithTimestamp(e.End))
}

var _ core.TelemetryHook = (*Hook)(nil)
