package muxhandlers

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/vitalvas/relay/mux"
)

// ErrWildcardCredentials is returned when AllowedOrigins contains "*" and
// AllowCredentials is set. Use AllowOriginFunc to admit any origin with
// credentials.
var ErrWildcardCredentials = errors.New("cors: wildcard origin cannot be combined with credentials")

// ErrInvalidOrigin is returned for an AllowedOrigins pattern with more than
// one wildcard.
var ErrInvalidOrigin = errors.New("cors: invalid origin pattern")

// CORSConfig configures CORSMiddleware. See the Fetch Standard
// (https://fetch.spec.whatwg.org/#http-cors-protocol) for the protocol.
type CORSConfig struct {
	// AllowedOrigins holds exact origins, "*", or single wildcard patterns
	// such as "https://*.example.com". Matching is case-insensitive.
	AllowedOrigins []string

	// AllowOriginFunc is consulted for origins no entry matches.
	AllowOriginFunc func(origin string) bool

	// AllowedMethods is advertised instead of the methods routed for the
	// request path.
	AllowedMethods []string

	// AllowedHeaders is advertised on preflight. Empty or "*" reflects
	// Access-Control-Request-Headers.
	AllowedHeaders []string

	ExposeHeaders    []string
	AllowCredentials bool

	// MaxAge lets browsers cache a preflight answer. Negative sends 0,
	// zero omits the header.
	MaxAge time.Duration

	// OptionsStatusCode is the preflight status, 204 by default.
	OptionsStatusCode int

	// OptionsPassthrough continues the chain after answering a preflight's
	// headers instead of ending it.
	OptionsPassthrough bool

	// AllowPrivateNetwork answers Private Network Access preflights.
	AllowPrivateNetwork bool
}

// originPattern is an allowed origin split at its wildcard. Exact origins
// have no wildcard and an empty suffix.
type originPattern struct {
	prefix, suffix string
	wildcard       bool
}

func (o originPattern) match(origin string) bool {
	if !o.wildcard {
		return origin == o.prefix
	}

	return len(origin) > len(o.prefix)+len(o.suffix) &&
		strings.HasPrefix(origin, o.prefix) &&
		strings.HasSuffix(origin, o.suffix)
}

// corsPolicy is a validated CORSConfig bound to the pipeline whose routes
// it advertises.
type corsPolicy struct {
	cfg      CORSConfig
	pipeline *mux.Pipeline

	anyOrigin       bool
	origins         []originPattern
	reflectHeaders  bool
	allowHeaders    string
	exposeHeaders   string
	maxAge          string
	preflightStatus int
}

// CORSMiddleware answers CORS preflights and decorates actual cross-origin
// responses. Register it with p.Use ahead of the routes: patternless steps
// run for OPTIONS even when no route accepts that method, and unless
// AllowedMethods is set the advertised methods are those p routes for the
// request path.
func CORSMiddleware(p *mux.Pipeline, cfg CORSConfig) (mux.Handler, error) {
	pol, err := newCORSPolicy(p, cfg)
	if err != nil {
		return nil, err
	}

	return mux.HandlerFunc(pol.serve), nil
}

func newCORSPolicy(p *mux.Pipeline, cfg CORSConfig) (*corsPolicy, error) {
	pol := &corsPolicy{cfg: cfg, pipeline: p, preflightStatus: cfg.OptionsStatusCode}

	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			pol.anyOrigin = true
			continue
		}

		o = strings.ToLower(o)
		prefix, suffix, wildcard := strings.Cut(o, "*")
		if strings.Contains(suffix, "*") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidOrigin, o)
		}

		pol.origins = append(pol.origins, originPattern{prefix: prefix, suffix: suffix, wildcard: wildcard})
	}

	if pol.anyOrigin && cfg.AllowCredentials {
		return nil, ErrWildcardCredentials
	}

	if len(cfg.AllowedHeaders) == 0 || slices.Contains(cfg.AllowedHeaders, "*") {
		pol.reflectHeaders = true
	} else {
		pol.allowHeaders = strings.Join(cfg.AllowedHeaders, ", ")
	}

	pol.exposeHeaders = strings.Join(cfg.ExposeHeaders, ", ")

	switch {
	case cfg.MaxAge > 0:
		pol.maxAge = strconv.FormatInt(int64(cfg.MaxAge/time.Second), 10)
	case cfg.MaxAge < 0:
		pol.maxAge = "0"
	}

	if pol.preflightStatus == 0 {
		pol.preflightStatus = http.StatusNoContent
	}

	return pol, nil
}

// varies reports whether the answer depends on the Origin header.
func (pol *corsPolicy) varies() bool {
	return !pol.anyOrigin || pol.cfg.AllowCredentials
}

func (pol *corsPolicy) allowed(origin string) bool {
	if pol.anyOrigin {
		return true
	}

	lower := strings.ToLower(origin)
	for _, o := range pol.origins {
		if o.match(lower) {
			return true
		}
	}

	return pol.cfg.AllowOriginFunc != nil && pol.cfg.AllowOriginFunc(origin)
}

func (pol *corsPolicy) serve(c *mux.Context) mux.Result {
	h := c.Writer.Header()
	origin := c.Request.Header.Get("Origin")

	if origin == "" {
		if pol.varies() && (len(pol.origins) > 0 || pol.cfg.AllowOriginFunc != nil) {
			h.Add("Vary", "Origin")
		}
		return mux.Next()
	}

	if !pol.allowed(origin) {
		return mux.Next()
	}

	if pol.varies() {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
	} else {
		h.Set("Access-Control-Allow-Origin", "*")
	}

	if pol.cfg.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}

	if methods := pol.methods(c.Path()); len(methods) > 0 {
		h.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
	}

	if c.Request.Method == http.MethodOptions && c.Request.Header.Get("Access-Control-Request-Method") != "" {
		return pol.preflight(c)
	}

	if pol.exposeHeaders != "" {
		h.Set("Access-Control-Expose-Headers", pol.exposeHeaders)
	}

	return mux.Next()
}

func (pol *corsPolicy) preflight(c *mux.Context) mux.Result {
	h := c.Writer.Header()
	req := c.Request

	if pol.reflectHeaders {
		if requested := req.Header.Get("Access-Control-Request-Headers"); requested != "" {
			h.Set("Access-Control-Allow-Headers", requested)
		}
	} else {
		h.Set("Access-Control-Allow-Headers", pol.allowHeaders)
	}

	if pol.maxAge != "" {
		h.Set("Access-Control-Max-Age", pol.maxAge)
	}

	if pol.cfg.AllowPrivateNetwork && req.Header.Get("Access-Control-Request-Private-Network") == "true" {
		h.Set("Access-Control-Allow-Private-Network", "true")
		h.Add("Vary", "Access-Control-Request-Private-Network")
	}

	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")

	if pol.cfg.OptionsPassthrough {
		return mux.Next()
	}

	c.Writer.WriteHeader(pol.preflightStatus)
	return mux.Done()
}

func (pol *corsPolicy) methods(path string) []string {
	if len(pol.cfg.AllowedMethods) > 0 {
		return pol.cfg.AllowedMethods
	}

	return routeMethods(pol.pipeline, path)
}

// routeMethods returns the sorted methods of the routes of p, patternless
// ones excluded, that accept path.
func routeMethods(p *mux.Pipeline, path string) []string {
	var methods []string

	_ = p.Walk(func(method string, d *mux.Descriptor) error {
		if d.Patternless() || slices.Contains(methods, method) {
			return nil
		}

		if _, ok := d.Matcher.Match(path); ok {
			methods = append(methods, method)
		}

		return nil
	})

	slices.Sort(methods)
	return methods
}
