package muxhandlers

import (
	"net/http"
	"time"

	"github.com/vitalvas/relay/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AccessLogConfig configures the AccessLog middleware.
type AccessLogConfig struct {
	// Logger receives one entry per request. When nil, the logger of the
	// serving pipeline is used.
	Logger *zap.Logger

	// Message is the log message. Defaults to "http request".
	Message string

	// SkipPaths lists request paths that are not logged, such as health
	// probes.
	SkipPaths []string
}

// AccessLogMiddleware returns a step that logs one entry per request after
// the rest of the chain has run. Requests answered with 5xx are logged at
// error level, 4xx at warn level and everything else at info level.
//
// Register it first so the entry covers the whole chain, including error
// pages written for unresolved errors.
func AccessLogMiddleware(cfg AccessLogConfig) mux.Handler {
	msg := cfg.Message
	if msg == "" {
		msg = "http request"
	}

	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return mux.HandlerFunc(func(c *mux.Context) mux.Result {
		if _, ok := skip[c.Request.URL.Path]; ok {
			return mux.Next()
		}

		res := c.Next()

		logger := cfg.Logger
		if logger == nil {
			logger = c.Logger()
		}

		status := outcomeStatus(c, res)

		level := zapcore.InfoLevel
		switch {
		case status >= http.StatusInternalServerError:
			level = zapcore.ErrorLevel
		case status >= http.StatusBadRequest:
			level = zapcore.WarnLevel
		}

		ce := logger.Check(level, msg)
		if ce == nil {
			return res
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", c.Route()),
			zap.Int("status", status),
			zap.Int("size", c.ResponseSize()),
			zap.Duration("duration", time.Since(c.Started())),
			zap.String("remote_addr", c.Request.RemoteAddr),
		}
		if ua := c.Request.UserAgent(); ua != "" {
			fields = append(fields, zap.String("user_agent", ua))
		}
		if id := RequestID(c); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		if err := res.Err(); err != nil {
			fields = append(fields, zap.Error(err))
		}

		ce.Write(fields...)

		return res
	})
}

// outcomeStatus returns the status the client receives for res. When the
// chain left the response unwritten, it is the status the pipeline
// boundary answers with.
func outcomeStatus(c *mux.Context, res mux.Result) int {
	if c.Written() {
		return c.ResponseStatus()
	}

	switch {
	case res.IsPass():
		return http.StatusNotFound
	case res.IsNext():
		if err := res.Err(); err != nil {
			return mux.StatusCode(err)
		}
		return http.StatusInternalServerError
	}

	return c.ResponseStatus()
}
