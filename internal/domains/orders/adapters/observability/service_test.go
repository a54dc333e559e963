package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/gateway/sandbox"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/memory"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/application"
	types "github.com/Apurer/go-order-reconciler/internal/domains/orders/application/types"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
)

func newDecorated(t *testing.T) (ports.Service, *tracetest.SpanRecorder, *bytes.Buffer) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	logs := &bytes.Buffer{}
	inner := application.NewService(memory.NewStore(), sandbox.New(), nil)
	svc := New(inner,
		WithTracer(provider.Tracer(tracerName)),
		WithLogger(slog.New(slog.NewJSONHandler(logs, nil))),
	)
	return svc, recorder, logs
}

func TestService_RecordsSpansForSuccess(t *testing.T) {
	svc, recorder, logs := newDecorated(t)

	res, err := svc.CreateAndPay(context.Background(), types.CreateOrderInput{
		Items:  []types.LineItemInput{{SKU: "tea", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
		Method: "card",
	})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "OrderService.CreateAndPay", spans[0].Name())
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, logs.String(), res.Order.ID)
}

func TestService_RecordsErrors(t *testing.T) {
	svc, recorder, logs := newDecorated(t)

	_, err := svc.GetOrder(context.Background(), "missing")
	require.ErrorIs(t, err, ports.ErrNotFound)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, logs.String(), `"level":"WARN"`)
	assert.Contains(t, logs.String(), "failed to load order")
}
