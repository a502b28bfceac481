package muxhandlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalvas/relay/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// waitForDeadline blocks until the request context ends and then does
// what the named route asks.
func waitForDeadline(c *mux.Context) mux.Result {
	<-c.Request.Context().Done()

	switch c.Param("then") {
	case "fail":
		return mux.Fail(c.Request.Context().Err())
	case "write":
		return c.Text(http.StatusAccepted, "late")
	default:
		return mux.Done()
	}
}

func timeoutPipeline(t testing.TB, cfg TimeoutConfig, logger *zap.Logger) *mux.Pipeline {
	t.Helper()

	mw, err := TimeoutMiddleware(cfg)
	require.NoError(t, err)

	if logger == nil {
		logger = zap.NewNop()
	}

	p := mux.New(mux.WithLogger(logger))
	p.Use(mw)
	p.Get("/fast", okHandler())
	p.Get("/wait/:then", mux.HandlerFunc(waitForDeadline))
	p.Get("/stream/:then", mux.HandlerFunc(func(c *mux.Context) mux.Result {
		_, bounded := c.Request.Context().Deadline()
		if bounded {
			return c.Text(http.StatusOK, "bounded")
		}
		return c.Text(http.StatusOK, "unbounded")
	}))
	return p
}

func TestTimeoutConfig(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		_, err := TimeoutMiddleware(TimeoutConfig{Duration: d})
		assert.ErrorIs(t, err, ErrInvalidTimeout, d)
	}

	_, err := TimeoutMiddleware(TimeoutConfig{Duration: time.Second, Exempt: []string{"/a["}})
	assert.ErrorContains(t, err, `timeout: exempt "/a["`)
}

func TestTimeoutMiddleware(t *testing.T) {
	const limit = 20 * time.Millisecond

	tests := []struct {
		name    string
		cfg     TimeoutConfig
		target  string
		code    int
		body    string
		timeout bool
	}{
		{"in time", TimeoutConfig{Duration: time.Second}, "/fast", http.StatusOK, "ok", false},
		{"nothing written", TimeoutConfig{Duration: limit}, "/wait/done", http.StatusServiceUnavailable, "Service Unavailable", true},
		{"context error", TimeoutConfig{Duration: limit}, "/wait/fail", http.StatusServiceUnavailable, "Service Unavailable", true},
		{"custom message", TimeoutConfig{Duration: limit, Message: "too slow"}, "/wait/done", http.StatusServiceUnavailable, "too slow", true},
		{"late response is kept", TimeoutConfig{Duration: limit}, "/wait/write", http.StatusAccepted, "late", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			p := timeoutPipeline(t, tt.cfg, zap.New(core))

			w := do(p, httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)

			entries := logs.FilterMessage("request timed out").All()
			if !tt.timeout {
				assert.Empty(t, entries)
				return
			}

			require.Len(t, entries, 1)
			fields := entries[0].ContextMap()
			assert.Equal(t, tt.target, fields["path"])
			assert.Equal(t, limit, fields["limit"])
		})
	}
}

func TestTimeoutExempt(t *testing.T) {
	p := timeoutPipeline(t, TimeoutConfig{Duration: time.Second, Exempt: []string{"/stream/*"}}, nil)

	assert.Equal(t, "unbounded", do(p, httptest.NewRequest(http.MethodGet, "/stream/events", nil)).Body.String())

	bounded := timeoutPipeline(t, TimeoutConfig{Duration: time.Second}, nil)
	assert.Equal(t, "bounded", do(bounded, httptest.NewRequest(http.MethodGet, "/stream/events", nil)).Body.String())
}

func TestTimeoutRestoresRequest(t *testing.T) {
	mw, err := TimeoutMiddleware(TimeoutConfig{Duration: time.Second})
	require.NoError(t, err)

	var inner, outer context.Context

	p := mux.New()
	p.Use(mux.HandlerFunc(func(c *mux.Context) mux.Result {
		res := c.Next()
		outer = c.Request.Context()
		return res
	}), mw)
	p.Get("/", mux.HandlerFunc(func(c *mux.Context) mux.Result {
		inner = c.Request.Context()
		return c.Text(http.StatusOK, "ok")
	}))

	do(p, httptest.NewRequest(http.MethodGet, "/", nil))

	_, bounded := inner.Deadline()
	assert.True(t, bounded)
	_, bounded = outer.Deadline()
	assert.False(t, bounded)
	assert.ErrorIs(t, inner.Err(), context.Canceled, "the deadline is released when the chain returns")
}

func TestTimeoutKeepsReplacedRequest(t *testing.T) {
	mw, err := TimeoutMiddleware(TimeoutConfig{Duration: time.Second})
	require.NoError(t, err)

	var tagged string

	p := mux.New()
	p.Use(mux.HandlerFunc(func(c *mux.Context) mux.Result {
		res := c.Next()
		tagged = c.Request.Header.Get("X-Tag")
		return res
	}), mw, mux.HandlerFunc(func(c *mux.Context) mux.Result {
		r := c.Request.Clone(c.Request.Context())
		r.Header.Set("X-Tag", "inner")
		c.Request = r
		return mux.Next()
	}))
	p.Get("/", okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	do(p, req)

	assert.Equal(t, "inner", tagged)
	assert.Empty(t, req.Header.Get("X-Tag"))
}

func BenchmarkTimeoutMiddleware(b *testing.B) {
	p := timeoutPipeline(b, TimeoutConfig{Duration: 5 * time.Second}, nil)
	req := httptest.NewRequest(http.MethodGet, "/fast", nil)

	b.ResetTimer()
	for b.Loop() {
		p.ServeHTTP(httptest.NewRecorder(), req)
	}
}
