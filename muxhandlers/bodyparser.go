package muxhandlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/vitalvas/relay/mux"
)

// DefaultBodyLimit is the body size accepted when BodyParserConfig.MaxBytes
// is zero.
const DefaultBodyLimit = 30 << 10

const bodyKey = "body"

var (
	// ErrInvalidMaxSize is returned when BodyParserConfig.MaxBytes is negative.
	ErrInvalidMaxSize = errors.New("body parser: max size must not be negative")

	// ErrMalformedBody wraps decode failures answered with 400.
	ErrMalformedBody = errors.New("body parser: malformed body")
)

// BodyParserConfig configures the BodyParser middleware.
type BodyParserConfig struct {
	// MaxBytes is the largest body read. Zero means DefaultBodyLimit.
	MaxBytes int64
}

// BodyParserMiddleware returns a handler that decodes JSON and urlencoded
// request bodies into the context. JSON bodies are stored as the decoded
// value, forms as url.Values; read them with Body. Other content types are
// left untouched.
//
// Bodies over the limit fail with 413 and undecodable bodies with 400. The
// raw body is restored so later steps can read it again.
//
// It returns ErrInvalidMaxSize if MaxBytes is negative.
func BodyParserMiddleware(cfg BodyParserConfig) (mux.Handler, error) {
	if cfg.MaxBytes < 0 {
		return nil, ErrInvalidMaxSize
	}

	limit := cfg.MaxBytes
	if limit == 0 {
		limit = DefaultBodyLimit
	}

	return mux.HandlerFunc(func(c *mux.Context) mux.Result {
		isJSON, isForm := c.Is("json"), c.Is("form")
		if !isJSON && !isForm {
			return mux.Next()
		}

		r := c.Request
		if r.Body == nil || r.Body == http.NoBody {
			return mux.Next()
		}

		raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, r.Body, limit))
		_ = r.Body.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return mux.Fail(mux.NewStatusError(http.StatusRequestEntityTooLarge, err))
			}
			return mux.Fail(mux.NewStatusError(http.StatusBadRequest, err))
		}

		r.Body = io.NopCloser(bytes.NewReader(raw))

		if len(raw) == 0 {
			return mux.Next()
		}

		if isJSON {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return mux.Fail(mux.NewStatusError(http.StatusBadRequest, fmt.Errorf("%w: %w", ErrMalformedBody, err)))
			}
			c.Set(bodyKey, v)
			return mux.Next()
		}

		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return mux.Fail(mux.NewStatusError(http.StatusBadRequest, fmt.Errorf("%w: %w", ErrMalformedBody, err)))
		}
		c.Set(bodyKey, values)

		return mux.Next()
	}), nil
}

// Body returns the value stored by BodyParserMiddleware, or nil.
func Body(c *mux.Context) any {
	v, _ := c.Get(bodyKey)
	return v
}
