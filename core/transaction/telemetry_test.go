package transaction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/sushant-115/gojodoc/core/document"
	"github.com/sushant-115/gojodoc/core/storage/memstore"
)

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestOperationsAreTracedAndCounted(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	recorder := tracetest.NewSpanRecorder()
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer meterProvider.Shutdown(context.Background())
	defer tracerProvider.Shutdown(context.Background())

	env := setupActions(t, memstore.New(), nil,
		WithMeter(meterProvider.Meter("test")),
		WithTracer(tracerProvider.Tracer("test")))
	ctx := context.Background()
	a, b := newTx(time.Minute), newTx(time.Minute)

	_, err := env.actions.AddDocumentInTransaction(ctx, "users/1", nil, document.Document{}, nil, a)
	require.NoError(t, err)
	_, err = env.actions.AddDocumentInTransaction(ctx, "users/1", nil, document.Document{}, nil, b)
	require.ErrorIs(t, err, ErrLockConflict)
	require.NoError(t, env.actions.CommitTransaction(ctx, a.ID))

	require.Equal(t, int64(1), counterTotal(t, reader, "gojodoc.txn.staged_writes_total"))
	require.Equal(t, int64(1), counterTotal(t, reader, "gojodoc.txn.lock_conflicts_total"))
	require.Equal(t, int64(1), counterTotal(t, reader, "gojodoc.txn.completions_total"))
	require.Equal(t, int64(1), counterTotal(t, reader, "gojodoc.txn.replayed_changes_total"))

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	require.Equal(t, "transaction.AddDocumentInTransaction", spans[0].Name())
	require.Equal(t, codes.Unset, spans[0].Status().Code)
	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.Len(t, spans[1].Events(), 1, "the conflict is recorded as an exception event")
	require.Equal(t, "transaction.CommitTransaction", spans[2].Name())
}
