package muxhandlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vitalvas/relay/mux"
	"go.uber.org/zap"
)

// ErrInvalidTimeout is returned when TimeoutConfig.Duration is not
// positive.
var ErrInvalidTimeout = errors.New("timeout: duration must be positive")

// TimeoutConfig configures TimeoutMiddleware.
type TimeoutConfig struct {
	// Duration bounds the remainder of the chain.
	Duration time.Duration

	// Message is sent as plain text on expiry instead of the 503 error
	// page.
	Message string

	// Exempt lists route patterns that run without a deadline, such as
	// event streams.
	Exempt []string
}

// TimeoutMiddleware runs the remainder of the chain under a context
// deadline. Steps are not preempted: they see the deadline through
// Request.Context() and are expected to give up. If the deadline passed
// and nothing was written, the request is answered with 503 and logged
// at warn level. Responses written late are kept.
func TimeoutMiddleware(cfg TimeoutConfig) (mux.Handler, error) {
	if cfg.Duration <= 0 {
		return nil, ErrInvalidTimeout
	}

	exempt := make([]mux.Matcher, 0, len(cfg.Exempt))
	for _, pattern := range cfg.Exempt {
		m, err := mux.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("timeout: exempt %q: %w", pattern, err)
		}
		exempt = append(exempt, m)
	}

	return mux.HandlerFunc(func(c *mux.Context) mux.Result {
		for _, m := range exempt {
			if _, ok := m.Match(c.Path()); ok {
				return mux.Next()
			}
		}

		start := time.Now()
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.Duration)
		defer cancel()

		orig := c.Request
		c.Request = orig.WithContext(ctx)
		res := c.Next()
		c.Request = c.Request.WithContext(orig.Context())

		if c.Written() || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res
		}

		c.Logger().Warn("request timed out",
			zap.String("method", orig.Method),
			zap.String("path", orig.URL.Path),
			zap.Duration("limit", cfg.Duration),
			zap.Duration("elapsed", time.Since(start)),
		)

		if cfg.Message != "" {
			return c.Text(http.StatusServiceUnavailable, cfg.Message)
		}

		return c.Error(http.StatusServiceUnavailable)
	}), nil
}
