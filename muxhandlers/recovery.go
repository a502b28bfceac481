package muxhandlers

import (
	"errors"
	"net/http"

	"github.com/vitalvas/relay/mux"
	"go.uber.org/zap"
)

// RecoveryConfig configures the Recovery error handler.
type RecoveryConfig struct {
	// Logger receives one entry per handled error. When nil, the logger of
	// the serving pipeline is used.
	Logger *zap.Logger

	// Stack adds the goroutine stack of recovered panics to the log entry.
	Stack bool

	// LogFunc is an optional callback invoked with the context and the
	// pending error before the response is written.
	LogFunc func(c *mux.Context, err error)
}

// RecoveryMiddleware returns an error handler that resolves any pending
// error, panics included. It logs the error and answers with the status
// carried by a *mux.StatusError, or 500. Nothing is written when the
// response has already started.
//
// Register it after the routes it should cover; error handlers only see
// errors raised by steps before them.
func RecoveryMiddleware(cfg RecoveryConfig) mux.Handler {
	return mux.ErrorHandlerFunc(func(c *mux.Context, err error) mux.Result {
		logger := cfg.Logger
		if logger == nil {
			logger = c.Logger()
		}

		code := mux.StatusCode(err)

		fields := []zap.Field{
			zap.Error(err),
			zap.Int("status", code),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		}

		var pe *mux.PanicError
		if errors.As(err, &pe) {
			fields = append(fields, zap.Any("panic", pe.Value))
			if cfg.Stack {
				fields = append(fields, zap.ByteString("stack", pe.Stack))
			}
		}

		if code >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Info("request rejected", fields...)
		}

		if cfg.LogFunc != nil {
			cfg.LogFunc(c, err)
		}

		if c.Written() {
			return mux.Done()
		}

		return c.Error(code)
	})
}
