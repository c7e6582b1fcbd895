package observability

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of genretree spans.
const TracerName = "github.com/matzehuels/genretree"

// Tracer returns the genretree tracer from the global provider. Without
// InitTracing the global provider is a no-op.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// InitTracing installs a global tracer provider that writes every finished
// span as one JSON object to w. The returned shutdown flushes and stops the
// provider and must be called before w is closed.
//
//	f, _ := os.Create("trace.json")
//	shutdown, err := observability.InitTracing(f, buildinfo.Version)
//	defer f.Close()
//	defer shutdown(context.Background())
func InitTracing(w io.Writer, version string) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", "genretree"),
		attribute.String("service.version", version),
	)

	// Spans are exported as they end.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
