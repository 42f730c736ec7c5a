package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tordrt/plugmigrate"

// Tracer starts spans for runs and plugin units
type Tracer struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// NewTracer returns a tracer backed by the global provider, a no-op unless the host set one
func NewTracer() *Tracer {
	return &Tracer{
		tracer:   otel.Tracer(tracerName),
		shutdown: func(context.Context) error { return nil },
	}
}

// NewWriterTracer exports every span as JSON to w
func NewWriterTracer(w io.Writer) (*Tracer, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	return &Tracer{
		tracer:   provider.Tracer(tracerName),
		shutdown: provider.Shutdown,
	}, nil
}

// StartRun starts the span covering a whole run
func (t *Tracer) StartRun(ctx context.Context, runID, dialect string) (context.Context, trace.Span) {
	return t.start(ctx, "migrate.run",
		attribute.String("run.id", runID),
		attribute.String("db.system", dialect),
	)
}

// StartPlugin starts the span of one plugin unit in one pass
func (t *Tracer) StartPlugin(ctx context.Context, plugin, pass string, operations int) (context.Context, trace.Span) {
	return t.start(ctx, "migrate.plugin",
		attribute.String("plugin.id", plugin),
		attribute.String("migrate.pass", pass),
		attribute.Int("migrate.operations", operations),
	)
}

func (t *Tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Shutdown flushes exported spans
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.shutdown(ctx)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks the span as successful
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
