package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProviderExportsAndPropagates(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()
	tp, err := InitTracerProvider(ctx, "", exporter)
	require.NoError(t, err)

	spanCtx, span := tp.Tracer("test").Start(ctx, "sentinel.run")
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(spanCtx, carrier)
	span.End()

	assert.NotEmpty(t, carrier.Get("traceparent"))

	require.NoError(t, tp.ForceFlush(ctx))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "sentinel.run", spans[0].Name)
	assert.Contains(t, spans[0].Resource.String(), ServiceName)

	require.NoError(t, tp.Shutdown(ctx))
}
