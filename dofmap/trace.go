package dofmap

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of every span the DOF map opens
const TracerName = "github.com/notargets/dofmap"

func (d *DofMap) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.Int("dofmap.rank", d.comm.Rank()))
	return otel.Tracer(TracerName).Start(ctx, "dofmap."+name, trace.WithAttributes(attrs...))
}

// recordError marks the span failed and passes err through
func recordError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
