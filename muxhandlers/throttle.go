package muxhandlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/vitalvas/relay/mux"
	"go.uber.org/ratelimit"
)

var (
	// ErrInvalidThrottleRate is returned when ThrottleConfig.Rate is not positive.
	ErrInvalidThrottleRate = errors.New("throttle: rate must be positive")

	// ErrInvalidThrottleSlack is returned when ThrottleConfig.Slack is negative.
	ErrInvalidThrottleSlack = errors.New("throttle: slack must not be negative")
)

// ThrottleConfig configures the Throttle middleware.
type ThrottleConfig struct {
	// Rate is the number of requests let through per Per.
	Rate int

	// Per is the window Rate applies to. Defaults to one second.
	Per time.Duration

	// Slack is how many requests may be let through at once after an idle
	// period. Zero keeps the library default; use NoSlack to pace every
	// request strictly.
	Slack int

	// NoSlack disables slack.
	NoSlack bool
}

// ThrottleMiddleware returns a step that paces the requests of the whole
// chain to an even rate, shared by all clients. Requests are delayed, not
// rejected. A request whose client went away while waiting fails with
// 503.
func ThrottleMiddleware(cfg ThrottleConfig) (mux.Handler, error) {
	if cfg.Rate <= 0 {
		return nil, ErrInvalidThrottleRate
	}

	if cfg.Slack < 0 {
		return nil, ErrInvalidThrottleSlack
	}

	var opts []ratelimit.Option
	if cfg.Per > 0 {
		opts = append(opts, ratelimit.Per(cfg.Per))
	}

	switch {
	case cfg.NoSlack:
		opts = append(opts, ratelimit.WithoutSlack)
	case cfg.Slack > 0:
		opts = append(opts, ratelimit.WithSlack(cfg.Slack))
	}

	limiter := ratelimit.New(cfg.Rate, opts...)

	return mux.HandlerFunc(func(c *mux.Context) mux.Result {
		limiter.Take()

		if err := c.Request.Context().Err(); err != nil {
			return mux.Fail(mux.NewStatusError(http.StatusServiceUnavailable, err))
		}

		return mux.Next()
	}), nil
}
