package muxhandlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/vitalvas/relay/mux"
)

// DefaultRequestIDHeader carries request IDs unless RequestIDConfig.Header
// names another header.
const DefaultRequestIDHeader = "X-Request-ID"

const (
	requestIDValue        = "request.id"
	defaultRequestIDLimit = 128
)

type requestIDKey struct{}

// RequestIDConfig configures RequestIDMiddleware.
type RequestIDConfig struct {
	// Header names the request and response header. Empty means
	// DefaultRequestIDHeader.
	Header string

	// Generator returns new IDs. Nil means NewUUIDv4.
	Generator func() string

	// TrustIncoming reuses a well-formed ID sent by the client.
	TrustIncoming bool

	// MaxLength bounds trusted incoming IDs, 128 bytes by default. Longer
	// IDs are replaced.
	MaxLength int
}

// RequestIDMiddleware assigns each request an ID. The ID is echoed in the
// response header, replaces the request header, and is available through
// RequestID and RequestIDFromContext.
func RequestIDMiddleware(cfg RequestIDConfig) mux.Handler {
	header := cfg.Header
	if header == "" {
		header = DefaultRequestIDHeader
	}

	generate := cfg.Generator
	if generate == nil {
		generate = NewUUIDv4
	}

	limit := cfg.MaxLength
	if limit <= 0 {
		limit = defaultRequestIDLimit
	}

	return mux.HandlerFunc(func(c *mux.Context) mux.Result {
		var id string
		if cfg.TrustIncoming {
			if in := c.Request.Header.Get(header); validRequestID(in, limit) {
				id = in
			}
		}

		if id == "" {
			if id = generate(); id == "" {
				return mux.Next()
			}
		}

		c.Request.Header.Set(header, id)
		c.Writer.Header().Set(header, id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDKey{}, id))
		c.Set(requestIDValue, id)

		return mux.Next()
	})
}

// validRequestID admits non-empty visible ASCII up to limit bytes, which
// keeps client input safe to log and echo.
func validRequestID(id string, limit int) bool {
	if id == "" || len(id) > limit {
		return false
	}

	for i := 0; i < len(id); i++ {
		if id[i] < '!' || id[i] > '~' {
			return false
		}
	}

	return true
}

// RequestID returns the ID assigned to c, or "".
func RequestID(c *mux.Context) string {
	v, _ := c.Get(requestIDValue)
	id, _ := v.(string)
	return id
}

// RequestIDFromContext returns the ID stored in a request context, for code
// that only sees the *http.Request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// NewUUIDv4 returns a random UUID (RFC 9562 section 5.4).
func NewUUIDv4() string {
	return uuid.NewString()
}

// NewUUIDv7 returns a time-ordered UUID (RFC 9562 section 5.7). IDs made
// later sort after earlier ones. It falls back to NewUUIDv4 if the clock
// source fails.
func NewUUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
