// Package otel turns bridge events into OpenTelemetry spans.
package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/restygraph/internal/eventbus"
	events "github.com/hanpama/restygraph/internal/events"
	reqid "github.com/hanpama/restygraph/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Setup exports spans over OTLP/gRPC to endpoint and attaches the event
// subscribers. If endpoint is empty, no telemetry is configured. The
// returned function flushes and stops the exporter.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unsubscribe := Subscribe(tp.Tracer("restygraph"))
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Subscribe attaches span-building subscribers that use tracer.
func Subscribe(tracer trace.Tracer) (unsubscribe func()) {
	s := &subscriber{tracer: tracer}
	return s.register()
}

// Spans are correlated through the reqid stored in the event context. A
// command span hangs off the HTTP span named by its parent reqid.
// Datasource requests of one task run concurrently, so they are keyed by
// their sequence number instead.
type subscriber struct {
	tracer    trace.Tracer
	httpSpans sync.Map // rid -> trace.Span
	cmdSpans  sync.Map // rid -> trace.Span
	gqlSpans  sync.Map // rid -> trace.Span
	dsSpans   sync.Map // seq -> trace.Span
}

func (s *subscriber) parent(ctx context.Context, rid string, maps ...*sync.Map) context.Context {
	for _, m := range maps {
		if v, ok := m.Load(rid); ok {
			return trace.ContextWithSpan(ctx, v.(trace.Span))
		}
	}
	return ctx
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *subscriber) register() func() {
	unsubs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "http.request")
			span.SetAttributes(
				semconv.HTTPMethodKey.String(e.Request.Method),
				attribute.String("http.target", e.Request.URL.Path),
			)
			s.httpSpans.Store(rid, span)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
			rid, _ := reqid.FromContext(ctx)
			if v, ok := s.httpSpans.LoadAndDelete(rid); ok {
				span := v.(trace.Span)
				span.SetAttributes(
					semconv.HTTPStatusCodeKey.Int(e.Status),
					semconv.HTTPRouteKey.String(e.Route),
				)
				span.End()
			}
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.CommandStart) {
			rid, _ := reqid.FromContext(ctx)
			pid, _ := reqid.ParentFromContext(ctx)
			_, span := s.tracer.Start(s.parent(ctx, pid, &s.httpSpans), "bridge.command")
			span.SetAttributes(
				attribute.String("bridge.command", e.Command),
				attribute.Int64("bridge.schema_id", e.SchemaID),
			)
			s.cmdSpans.Store(rid, span)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.CommandFinish) {
			rid, _ := reqid.FromContext(ctx)
			if v, ok := s.cmdSpans.LoadAndDelete(rid); ok {
				span := v.(trace.Span)
				span.SetAttributes(attribute.Bool("bridge.ok", e.OK))
				end(span, e.Err)
			}
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.GraphQLStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(s.parent(ctx, rid, &s.cmdSpans, &s.httpSpans), "graphql.operation")
			span.SetAttributes(
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphql.operation.type", e.OperationType),
				attribute.Int64("bridge.schema_id", e.SchemaID),
			)
			s.gqlSpans.Store(rid, span)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.GraphQLFinish) {
			rid, _ := reqid.FromContext(ctx)
			if v, ok := s.gqlSpans.LoadAndDelete(rid); ok {
				span := v.(trace.Span)
				span.SetAttributes(attribute.Int("graphql.error_count", len(e.Errors)))
				span.End()
			}
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.DatasourceStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(s.parent(ctx, rid, &s.gqlSpans, &s.cmdSpans), "datasource.request",
				trace.WithSpanKind(trace.SpanKindClient))
			span.SetAttributes(
				attribute.String("datasource.name", e.Datasource),
				semconv.HTTPMethodKey.String(e.Method),
				semconv.HTTPURLKey.String(e.URL),
			)
			s.dsSpans.Store(e.Seq, span)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.DatasourceFinish) {
			if v, ok := s.dsSpans.LoadAndDelete(e.Seq); ok {
				span := v.(trace.Span)
				span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
				end(span, e.Err)
			}
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
