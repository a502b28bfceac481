package muxhandlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/vitalvas/relay/mux"
	"golang.org/x/time/rate"
)

var (
	// ErrInvalidRateLimit is returned when RateLimitConfig.Rate is not positive.
	ErrInvalidRateLimit = errors.New("rate limit: rate must be positive")

	// ErrInvalidRateLimitBurst is returned when RateLimitConfig.Burst is negative.
	ErrInvalidRateLimitBurst = errors.New("rate limit: burst must not be negative")
)

// DefaultRateLimitTTL is how long an idle client keeps its bucket when
// RateLimitConfig.TTL is zero.
const DefaultRateLimitTTL = 5 * time.Minute

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	// Rate is the number of requests per second each client may sustain.
	Rate float64

	// Burst is the bucket size. Zero selects the rate rounded up, at
	// least 1.
	Burst int

	// TTL controls how long an idle client stays tracked.
	TTL time.Duration

	// KeyFunc returns the key requests are limited by. Defaults to
	// ClientIP; register ProxyHeaders first when running behind a proxy.
	KeyFunc func(c *mux.Context) string

	// OnDenied is called for every rejected request.
	OnDenied func(c *mux.Context, key string)
}

// visitor tracks one client's bucket and last activity.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type keyLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
}

// RateLimitMiddleware returns a step that limits requests per client with
// a token bucket. Rejected requests are answered with 429 and a
// Retry-After header telling the client when a token is available again.
//
// Idle clients are evicted in the background until ctx is done.
func RateLimitMiddleware(ctx context.Context, cfg RateLimitConfig) (mux.Handler, error) {
	if cfg.Rate <= 0 || math.IsInf(cfg.Rate, 0) || math.IsNaN(cfg.Rate) {
		return nil, ErrInvalidRateLimit
	}

	if cfg.Burst < 0 {
		return nil, ErrInvalidRateLimitBurst
	}

	burst := cfg.Burst
	if burst == 0 {
		burst = max(1, int(math.Ceil(cfg.Rate)))
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultRateLimitTTL
	}

	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = ClientIP
	}

	l := &keyLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(cfg.Rate),
		burst:    burst,
		ttl:      ttl,
	}

	go l.cleanup(ctx)

	return mux.HandlerFunc(func(c *mux.Context) mux.Result {
		key := keyFunc(c)

		ok, wait := l.allow(key, time.Now())
		if ok {
			return mux.Next()
		}

		if cfg.OnDenied != nil {
			cfg.OnDenied(c, key)
		}

		secs := int64(math.Ceil(wait.Seconds()))
		if secs < 1 {
			secs = 1
		}

		c.Writer.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		return c.Error(http.StatusTooManyRequests)
	}), nil
}

// allow takes a token for key. When none is available it reports how
// long the client has to wait for the next one.
func (l *keyLimiter) allow(key string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now

	r := v.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}

	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}

	r.CancelAt(now)

	return false, delay
}

// evict drops visitors idle for longer than the TTL.
func (l *keyLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, key)
		}
	}
}

func (l *keyLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}
