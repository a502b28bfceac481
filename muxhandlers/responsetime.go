package muxhandlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/vitalvas/relay/mux"
)

// ErrInvalidResponseTimeDigits is returned when ResponseTimeConfig.Digits
// is negative.
var ErrInvalidResponseTimeDigits = errors.New("response time: digits must not be negative")

// DefaultResponseTimeDigits is the number of fractional digits used when
// ResponseTimeConfig.Digits is zero.
const DefaultResponseTimeDigits = 3

// ResponseTimeConfig configures the ResponseTime middleware.
type ResponseTimeConfig struct {
	// HeaderName is the response header carrying the elapsed time.
	// Defaults to "X-Response-Time".
	HeaderName string

	// Digits is the number of fractional digits of the millisecond value.
	// Zero selects DefaultResponseTimeDigits.
	Digits int

	// NoSuffix drops the "ms" unit from the value.
	NoSuffix bool
}

// ResponseTimeMiddleware returns a step that reports, in a response
// header, the time between the request entering the pipeline and the
// response header being written (e.g. "X-Response-Time: 12.345ms").
//
// The writer wrapper stays installed after the chain returns, so error
// pages written by the pipeline carry the header too.
func ResponseTimeMiddleware(cfg ResponseTimeConfig) (mux.Handler, error) {
	if cfg.Digits < 0 {
		return nil, ErrInvalidResponseTimeDigits
	}

	header := cfg.HeaderName
	if header == "" {
		header = "X-Response-Time"
	}

	digits := cfg.Digits
	if digits == 0 {
		digits = DefaultResponseTimeDigits
	}

	suffix := "ms"
	if cfg.NoSuffix {
		suffix = ""
	}

	return mux.HandlerFunc(func(c *mux.Context) mux.Result {
		c.Writer = &responseTimeWriter{
			ResponseWriter: c.Writer,
			start:          c.Started(),
			header:         header,
			digits:         digits,
			suffix:         suffix,
		}

		return mux.Next()
	}), nil
}

type responseTimeWriter struct {
	http.ResponseWriter
	start       time.Time
	header      string
	digits      int
	suffix      string
	wroteHeader bool
}

func (rw *responseTimeWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.wroteHeader = true

		h := rw.Header()
		if h.Get(rw.header) == "" {
			ms := float64(time.Since(rw.start)) / float64(time.Millisecond)
			h.Set(rw.header, strconv.FormatFloat(ms, 'f', rw.digits, 64)+rw.suffix)
		}
	}

	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseTimeWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}

	return rw.ResponseWriter.Write(b)
}

func (rw *responseTimeWriter) Flush() {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}

	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for middleware compatibility.
func (rw *responseTimeWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
