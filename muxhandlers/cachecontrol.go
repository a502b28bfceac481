package muxhandlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vitalvas/relay/mux"
)

// ErrNoCacheControlRules is returned when CacheControlConfig has neither
// rules nor a default.
var ErrNoCacheControlRules = errors.New("cache control: at least one rule or a default is required")

// ExpiresNow makes Expires equal to the response time, marking the
// response stale immediately.
const ExpiresNow time.Duration = -1

// CacheControlRule selects cache headers for a response.
type CacheControlRule struct {
	// Path is a route pattern ("/assets/*", "/feeds/:name") matched against
	// the path seen by the step. Empty matches every path.
	Path string

	// ContentType is a case-insensitive prefix of the response
	// Content-Type ("image/", "application/json"). Empty matches every
	// type.
	ContentType string

	// Value is the Cache-Control value, e.g. "public, max-age=86400".
	Value string

	// Expires is added to the response time to form the Expires header.
	// Zero leaves the header unset.
	Expires time.Duration
}

// CacheControlConfig configures CacheControlMiddleware.
type CacheControlConfig struct {
	// Rules are tried in order and the first match wins.
	Rules []CacheControlRule

	// Default applies when no rule matches. Its Path and ContentType are
	// ignored.
	Default CacheControlRule

	// ErrorValue is the Cache-Control value for 4xx and 5xx responses,
	// which then bypass the rules. Empty treats them like any response.
	ErrorValue string

	now func() time.Time
}

type cacheRule struct {
	path        mux.Matcher
	contentType string
	value       string
	expires     time.Duration
}

func (r cacheRule) matches(path, contentType string) bool {
	if r.path != nil {
		if _, ok := r.path.Match(path); !ok {
			return false
		}
	}

	return strings.HasPrefix(contentType, r.contentType)
}

// CacheControlMiddleware sets Cache-Control and Expires on the response of
// the remainder of the chain when its header is written, choosing the rule
// from the request path and the response Content-Type. Headers the chain
// set itself are kept. Error pages written after the chain gave up are not
// covered.
func CacheControlMiddleware(cfg CacheControlConfig) (mux.Handler, error) {
	if len(cfg.Rules) == 0 && cfg.Default.Value == "" && cfg.Default.Expires == 0 {
		return nil, ErrNoCacheControlRules
	}

	rules := make([]cacheRule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rule := cacheRule{
			contentType: strings.ToLower(r.ContentType),
			value:       r.Value,
			expires:     r.Expires,
		}

		if r.Path != "" {
			m, err := mux.Compile(r.Path)
			if err != nil {
				return nil, fmt.Errorf("cache control: rule %q: %w", r.Path, err)
			}
			rule.path = m
		}

		rules = append(rules, rule)
	}

	fallback := cacheRule{value: cfg.Default.Value, expires: cfg.Default.Expires}

	now := cfg.now
	if now == nil {
		now = time.Now
	}

	return mux.HandlerFunc(func(c *mux.Context) mux.Result {
		path := c.Path()

		orig := c.Writer
		c.Writer = &cacheWriter{
			ResponseWriter: orig,
			pick: func(status int, contentType string) cacheRule {
				if status >= http.StatusBadRequest && cfg.ErrorValue != "" {
					return cacheRule{value: cfg.ErrorValue}
				}

				contentType = strings.ToLower(contentType)
				for _, r := range rules {
					if r.matches(path, contentType) {
						return r
					}
				}

				return fallback
			},
			now: now,
		}
		defer func() { c.Writer = orig }()

		return c.Next()
	}), nil
}

// cacheWriter applies the chosen rule when the header is written.
type cacheWriter struct {
	http.ResponseWriter
	pick        func(status int, contentType string) cacheRule
	now         func() time.Time
	wroteHeader bool
}

func (w *cacheWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	h := w.Header()
	rule := w.pick(code, h.Get("Content-Type"))

	if rule.value != "" && h.Get("Cache-Control") == "" {
		h.Set("Cache-Control", rule.value)
	}

	if rule.expires != 0 && h.Get("Expires") == "" {
		at := w.now().UTC()
		if rule.expires > 0 {
			at = at.Add(rule.expires)
		}
		h.Set("Expires", at.Format(http.TimeFormat))
	}

	w.ResponseWriter.WriteHeader(code)
}

func (w *cacheWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}

	return w.ResponseWriter.Write(b)
}

func (w *cacheWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}

	http.NewResponseController(w.ResponseWriter).Flush() //nolint:errcheck
}

func (w *cacheWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
