package muxhandlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalvas/relay/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func tracingPipeline(cfg TracingConfig) (*mux.Pipeline, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	cfg.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	if cfg.Propagator == nil {
		cfg.Propagator = propagation.TraceContext{}
	}

	p := mux.New()
	p.Use(TracingMiddleware(cfg))
	return p, sr
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}

	return attribute.Value{}, false
}

func TestTracingMiddleware(t *testing.T) {
	t.Run("span per request named by route", func(t *testing.T) {
		p, sr := tracingPipeline(TracingConfig{})
		p.Get("/users/:id", okHandler())

		w := do(p, httptest.NewRequest(http.MethodGet, "/users/5", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		spans := sr.Ended()
		require.Len(t, spans, 1)

		span := spans[0]
		assert.Equal(t, "GET /users/:id", span.Name())
		assert.Equal(t, trace.SpanKindServer, span.SpanKind())
		assert.Equal(t, codes.Unset, span.Status().Code)
		assert.Equal(t, DefaultTracerName, span.InstrumentationScope().Name)

		route, ok := spanAttr(span, "http.route")
		require.True(t, ok)
		assert.Equal(t, "/users/:id", route.AsString())

		status, ok := spanAttr(span, "http.response.status_code")
		require.True(t, ok)
		assert.Equal(t, int64(http.StatusOK), status.AsInt64())

		path, _ := spanAttr(span, "url.path")
		assert.Equal(t, "/users/5", path.AsString())
	})

	t.Run("unmatched requests keep the method name", func(t *testing.T) {
		p, sr := tracingPipeline(TracingConfig{})
		p.Get("/users", okHandler())

		do(p, httptest.NewRequest(http.MethodGet, "/other", nil))

		spans := sr.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "GET", spans[0].Name())

		_, ok := spanAttr(spans[0], "http.route")
		assert.False(t, ok)

		status, _ := spanAttr(spans[0], "http.response.status_code")
		assert.Equal(t, int64(http.StatusNotFound), status.AsInt64())
		assert.Equal(t, codes.Unset, spans[0].Status().Code)
	})

	t.Run("errors mark the span", func(t *testing.T) {
		p, sr := tracingPipeline(TracingConfig{})
		p.Get("/", mux.HandlerFunc(func(_ *mux.Context) mux.Result {
			return mux.Fail(errors.New("db down"))
		}))

		w := do(p, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)

		spans := sr.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status().Code)

		require.NotEmpty(t, spans[0].Events())
		assert.Equal(t, "exception", spans[0].Events()[0].Name)
	})

	t.Run("continues a remote trace", func(t *testing.T) {
		p, sr := tracingPipeline(TracingConfig{ResponseHeader: "X-Trace-Id"})

		var seen trace.SpanContext
		p.Get("/", mux.HandlerFunc(func(c *mux.Context) mux.Result {
			seen = trace.SpanContextFromContext(c.Request.Context())
			return c.Text(http.StatusOK, "ok")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

		w := do(p, req)

		spans := sr.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
		assert.Equal(t, "00f067aa0ba902b7", spans[0].Parent().SpanID().String())
		assert.True(t, spans[0].Parent().IsRemote())

		assert.Equal(t, spans[0].SpanContext().SpanID(), seen.SpanID())
		assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", w.Header().Get("X-Trace-Id"))
	})

	t.Run("request context is restored", func(t *testing.T) {
		sr := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

		p := mux.New()
		p.Use(mux.HandlerFunc(func(c *mux.Context) mux.Result {
			res := c.Next()
			assert.False(t, trace.SpanContextFromContext(c.Request.Context()).IsValid())
			return res
		}))
		p.Use(TracingMiddleware(TracingConfig{TracerProvider: tp}))
		p.Get("/", okHandler())

		do(p, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Len(t, sr.Ended(), 1)
	})
}
