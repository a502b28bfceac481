package muxhandlers

import (
	"net/http"

	"github.com/vitalvas/relay/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTracerName is the instrumentation name used when
// TracingConfig.TracerName is empty.
const DefaultTracerName = "github.com/vitalvas/relay/muxhandlers"

// TracingConfig configures the Tracing middleware.
type TracingConfig struct {
	// TracerProvider creates the tracer. Defaults to the global provider.
	TracerProvider trace.TracerProvider

	// Propagator extracts the remote parent from request headers.
	// Defaults to the global propagator.
	Propagator propagation.TextMapPropagator

	// TracerName is the instrumentation scope name.
	TracerName string

	// ResponseHeader, when set, names a response header carrying the
	// trace ID (e.g. "X-Trace-Id").
	ResponseHeader string
}

// TracingMiddleware returns a step that runs the rest of the chain inside
// a server span. The span is named "METHOD route" once a route matched,
// and marked as failed for 5xx outcomes. Later steps find the span in
// c.Request.Context().
func TracingMiddleware(cfg TracingConfig) mux.Handler {
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	prop := cfg.Propagator
	if prop == nil {
		prop = otel.GetTextMapPropagator()
	}

	name := cfg.TracerName
	if name == "" {
		name = DefaultTracerName
	}

	tracer := tp.Tracer(name)

	return mux.HandlerFunc(func(c *mux.Context) mux.Result {
		r := c.Request

		ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
				attribute.String("url.scheme", requestScheme(r)),
				attribute.String("server.address", c.Host()),
				attribute.String("client.address", ClientIP(c)),
				attribute.String("user_agent.original", r.UserAgent()),
			),
		)
		defer span.End()

		if cfg.ResponseHeader != "" {
			if sc := span.SpanContext(); sc.IsValid() {
				c.Writer.Header().Set(cfg.ResponseHeader, sc.TraceID().String())
			}
		}

		c.Request = r.WithContext(ctx)
		res := c.Next()
		c.Request = r

		if route := c.Route(); route != "" {
			span.SetName(r.Method + " " + route)
			span.SetAttributes(attribute.String("http.route", route))
		}

		status := outcomeStatus(c, res)
		span.SetAttributes(
			attribute.Int("http.response.status_code", status),
			attribute.Int("http.response.body.size", c.ResponseSize()),
		)

		if err := res.Err(); err != nil {
			span.RecordError(err)
		}

		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}

		return res
	})
}

func requestScheme(r *http.Request) string {
	if r.URL.Scheme != "" {
		return r.URL.Scheme
	}

	if r.TLS != nil {
		return "https"
	}

	return "http"
}
