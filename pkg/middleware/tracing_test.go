package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTestTracer swaps in an in-memory exporter and restores the previous
// global provider when the test finishes.
func installTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	return exporter
}

// tracedRequest runs a GET through a chi router wrapped in Tracing and
// returns the recorder plus the first exported span.
func tracedRequest(t *testing.T, exporter *tracetest.InMemoryExporter, path string, status int, headers map[string]string) (*httptest.ResponseRecorder, tracetest.SpanStub) {
	t.Helper()

	r := chi.NewRouter()
	r.Use(Tracing("orders"))
	r.Get(path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})

	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	spans := exporter.GetSpans()
	require.NotEmpty(t, spans, "expected the middleware to export a span")
	return rec, spans[0]
}

func spanAttr(span tracetest.SpanStub, key string) (any, bool) {
	for _, attr := range span.Attributes {
		if string(attr.Key) == key {
			return attr.Value.AsInterface(), true
		}
	}
	return nil, false
}

func TestTracing_SpanNamedByRoute(t *testing.T) {
	exporter := installTestTracer(t)

	rec, span := tracedRequest(t, exporter, "/api/v1/orders", http.StatusOK, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GET /api/v1/orders", span.Name)
}

func TestTracing_RecordsStatusCode(t *testing.T) {
	exporter := installTestTracer(t)

	_, span := tracedRequest(t, exporter, "/api/v1/returns/{id}", http.StatusNotFound, nil)

	code, ok := spanAttr(span, "http.status_code")
	require.True(t, ok, "span is missing http.status_code")
	assert.EqualValues(t, 404, code)
}

func TestTracing_ServerErrorMarksSpan(t *testing.T) {
	exporter := installTestTracer(t)

	_, span := tracedRequest(t, exporter, "/api/v1/orders/{id}/transition", http.StatusInternalServerError, nil)

	// codes.Error is 1 in the Go SDK.
	assert.EqualValues(t, 1, span.Status.Code)
}

func TestTracing_ContinuesInboundTraceContext(t *testing.T) {
	exporter := installTestTracer(t)

	rec, span := tracedRequest(t, exporter, "/api/v1/orders/{id}", http.StatusOK, map[string]string{
		"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	})

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", span.SpanContext.TraceID().String())
	assert.NotEmpty(t, rec.Header().Get("traceparent"), "response should carry the trace context back")
}

func TestTracing_InjectsResponseHeaders(t *testing.T) {
	exporter := installTestTracer(t)

	rec, _ := tracedRequest(t, exporter, "/api/v1/orders", http.StatusOK, nil)

	assert.NotEmpty(t, rec.Header().Get("traceparent"))
}
