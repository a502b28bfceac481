package mux

import (
	"context"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// contextKey is an unexported type for the request context key.
type contextKey struct{}

// ctxKey stores the *Context in the request context, so plain net/http
// handlers wrapped into a chain can reach params and values.
var ctxKey = contextKey{}

// Context carries one request through its chain. It is owned by that
// request and must not be retained after the chain returns.
type Context struct {
	// Writer is the response writer. Steps may replace it with a wrapper
	// for the rest of the chain.
	Writer http.ResponseWriter

	// Request is the request being served.
	Request *http.Request

	root     *Pipeline
	pipeline *Pipeline
	run      *run
	rw       *responseWriter

	path   string
	base   string
	route  string
	params Params
	query  url.Values
	values map[string]any
	status int
	start  time.Time
}

func newContext(p *Pipeline, w http.ResponseWriter, r *http.Request) *Context {
	c := &Context{
		root:     p,
		pipeline: p,
		path:     cleanPath(r.URL.EscapedPath()),
		start:    time.Now(),
	}

	c.rw = newResponseWriter(w, r)
	c.Writer = c.rw
	c.Request = r.WithContext(context.WithValue(r.Context(), ctxKey, c))

	return c
}

// FromRequest returns the Context serving r, or nil outside a pipeline.
func FromRequest(r *http.Request) *Context {
	c, _ := r.Context().Value(ctxKey).(*Context)
	return c
}

// Vars returns the route params for r, if any.
func Vars(r *http.Request) Params {
	if c := FromRequest(r); c != nil {
		return c.Params()
	}
	return nil
}

// VarGet returns a single route param for r and whether it exists.
func VarGet(r *http.Request, name string) (string, bool) {
	if c := FromRequest(r); c != nil && c.params != nil {
		v, ok := c.params[name]
		return v, ok
	}
	return "", false
}

// Next runs the rest of the chain and returns its outcome. Steps that need
// to act after the remaining steps (timing, compression, saving state)
// call Next and return its result; the chain is not run a second time.
func (c *Context) Next() Result {
	if c.run == nil {
		return Next()
	}
	return c.run.next(c, nil)
}

// NextError runs the rest of the chain with err pending.
func (c *Context) NextError(err error) Result {
	if c.run == nil {
		return Fail(err)
	}
	return c.run.next(c, err)
}

// Pipeline returns the pipeline currently dispatching the request. Inside
// a mounted pipeline this is the child.
func (c *Context) Pipeline() *Pipeline {
	return c.pipeline
}

// Logger returns the logger of the outermost pipeline.
func (c *Context) Logger() *zap.Logger {
	return c.root.logger
}

// Path returns the current path view. Inside a mounted pipeline the mount
// prefix has been stripped.
func (c *Context) Path() string {
	return c.path
}

// MountPath returns the path prefix consumed by mounts so far.
func (c *Context) MountPath() string {
	return c.base
}

// Route returns the pattern of the last route that matched the request,
// prefixed with the mount path. It is empty when only patternless routes
// ran.
func (c *Context) Route() string {
	return c.route
}

// Segments returns the decoded segments of the current path view.
func (c *Context) Segments() []string {
	return splitSegments(c.path)
}

// Param returns a captured route param, or "" when absent.
func (c *Context) Param(name string) string {
	return c.params[name]
}

// Params returns a copy of the captured route params.
func (c *Context) Params() Params {
	out := make(Params, len(c.params))
	for k, v := range c.params {
		out[k] = v
	}
	return out
}

// SetParam sets a route param for the remaining steps.
func (c *Context) SetParam(name, value string) {
	if c.params == nil {
		c.params = make(Params)
	}
	c.params[name] = value
}

// Query returns the parsed query string. Malformed pairs are dropped.
func (c *Context) Query() url.Values {
	if c.query == nil {
		c.query, _ = url.ParseQuery(c.Request.URL.RawQuery)
		if c.query == nil {
			c.query = url.Values{}
		}
	}
	return c.query
}

// Host returns the normalized request host without port.
func (c *Context) Host() string {
	if h := requestHost(c.Request); h != "" {
		return h
	}
	host, _ := c.pipeline.Addr()
	return host
}

// Header returns a request header. The referer falls back to the pipeline
// URL when the client sent none and an address is configured.
func (c *Context) Header(name string) string {
	switch strings.ToLower(name) {
	case "referer", "referrer":
		if v := c.Request.Header.Get("Referer"); v != "" {
			return v
		}
		if u := c.pipeline.URL(); u != "" {
			return u + "/"
		}
		return ""
	}
	return c.Request.Header.Get(name)
}

// Cookie returns the value of a request cookie, or "".
func (c *Context) Cookie(name string) string {
	ck, err := c.Request.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}

// Is reports whether the request body has the given media type. tag is a
// full media type or a file extension such as "json".
func (c *Context) Is(tag string) bool {
	return mediaType(c.Request.Header.Get("Content-Type")) == lookupType(tag)
}

// Accepts reports whether the Accept header allows the given media type.
func (c *Context) Accepts(tag string) bool {
	accept := c.Request.Header.Get("Accept")
	if accept == "" {
		return true
	}
	want := lookupType(tag)
	for _, part := range strings.Split(accept, ",") {
		mt := mediaType(part)
		if mt == "*/*" || mt == want {
			return true
		}
		if strings.HasSuffix(mt, "/*") && strings.HasPrefix(want, strings.TrimSuffix(mt, "*")) {
			return true
		}
	}
	return false
}

// XHR reports whether the request was sent by XMLHttpRequest.
func (c *Context) XHR() bool {
	return c.Request.Header.Get("X-Requested-With") == "XMLHttpRequest"
}

// AcceptsGzip reports whether the client accepts gzip encoding.
func (c *Context) AcceptsGzip() bool {
	return strings.Contains(strings.ToLower(c.Request.Header.Get("Accept-Encoding")), "gzip")
}

// Set stores a request-scoped value.
func (c *Context) Set(key string, v any) {
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = v
}

// Get returns a request-scoped value.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Status sets the status used by the next response helper call.
func (c *Context) Status(code int) *Context {
	c.status = code
	return c
}

// Written reports whether the response header was sent.
func (c *Context) Written() bool {
	return c.rw.written
}

// ResponseStatus returns the status sent to the client, or 200 when
// nothing was sent yet.
func (c *Context) ResponseStatus() int {
	return c.rw.Status()
}

// ResponseSize returns the number of body bytes written.
func (c *Context) ResponseSize() int {
	return c.rw.size
}

// Started returns the time the request entered the pipeline.
func (c *Context) Started() time.Time {
	return c.start
}

// lookupType resolves a short tag ("json", "html") to a media type.
func lookupType(tag string) string {
	if strings.Contains(tag, "/") {
		return mediaType(tag)
	}
	if tag == "form" {
		return "application/x-www-form-urlencoded"
	}
	if t := mime.TypeByExtension("." + strings.TrimPrefix(tag, ".")); t != "" {
		return mediaType(t)
	}
	return strings.ToLower(tag)
}
