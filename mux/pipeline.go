package mux

import (
	"errors"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// ErrorPageFunc writes the response for an error status. err is the error
// that led to the page, or nil for plain status pages such as 404.
type ErrorPageFunc func(c *Context, code int, err error)

// Pipeline is a route table plus the settings its requests run under. A
// Pipeline is an http.Handler; it can also be mounted inside another
// Pipeline by path prefix or by host.
//
// Registration is safe at any time; requests see the routes registered
// before they were resolved.
type Pipeline struct {
	table table

	mu       sync.RWMutex
	parent   *Pipeline
	mountAt  string
	host     string
	port     int
	explicit bool

	logger           *zap.Logger
	root             string
	lang             string
	charset          string
	debug            bool
	errorPage        ErrorPageFunc
	notFound         Handler
	methodNotAllowed Handler
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used at the pipeline boundary.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRoot sets the directory relative file paths are resolved against.
func WithRoot(dir string) Option {
	return func(p *Pipeline) { p.root = dir }
}

// WithLang sets the Content-Language of served responses.
func WithLang(lang string) Option {
	return func(p *Pipeline) { p.lang = lang }
}

// WithCharset sets the charset appended to textual content types.
func WithCharset(charset string) Option {
	return func(p *Pipeline) { p.charset = charset }
}

// WithDebug enables development behaviour: error pages include the error
// and stack, and conditional GET validation is disabled.
func WithDebug(debug bool) Option {
	return func(p *Pipeline) { p.debug = debug }
}

// WithErrorPage overrides how error pages are written.
func WithErrorPage(fn ErrorPageFunc) Option {
	return func(p *Pipeline) { p.errorPage = fn }
}

// WithAddr sets the network identity the pipeline reports in URL.
func WithAddr(host string, port int) Option {
	return func(p *Pipeline) {
		p.host = host
		p.port = port
		p.explicit = true
	}
}

// WithNotFound replaces the terminal used when no route matched.
func WithNotFound(h Handler) Option {
	return func(p *Pipeline) { p.notFound = h }
}

// WithMethodNotAllowed replaces the terminal used when the method has no
// routes.
func WithMethodNotAllowed(h Handler) Option {
	return func(p *Pipeline) { p.methodNotAllowed = h }
}

// New returns an empty Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		logger:  zap.NewNop(),
		root:    ".",
		lang:    "en",
		charset: "utf-8",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Route registers handlers for method and pattern. An empty method
// registers the route under DefaultMethods and a GET route is also
// reachable through HEAD. It panics if the pattern does not compile or
// no handlers are given.
func (p *Pipeline) Route(method, pattern string, handlers ...Handler) *Pipeline {
	return p.HandleMatcher(method, pattern, MustCompile(pattern), handlers...)
}

// HandleMatcher registers handlers behind a pre-built matcher. pattern is
// only used for display; a nil matcher makes the route patternless.
func (p *Pipeline) HandleMatcher(method, pattern string, m Matcher, handlers ...Handler) *Pipeline {
	d := newDescriptor(pattern, m, handlers)
	p.table.add(registerMethods(method), d)
	return p
}

// Use registers patternless handlers on every default method. They run
// for every request in registration order relative to other routes.
func (p *Pipeline) Use(handlers ...Handler) *Pipeline {
	return p.HandleMatcher("", "", Always, handlers...)
}

// Get registers a GET (and HEAD) route.
func (p *Pipeline) Get(pattern string, handlers ...Handler) *Pipeline {
	return p.Route(http.MethodGet, pattern, handlers...)
}

// Post registers a POST route.
func (p *Pipeline) Post(pattern string, handlers ...Handler) *Pipeline {
	return p.Route(http.MethodPost, pattern, handlers...)
}

// Put registers a PUT route.
func (p *Pipeline) Put(pattern string, handlers ...Handler) *Pipeline {
	return p.Route(http.MethodPut, pattern, handlers...)
}

// Delete registers a DELETE route.
func (p *Pipeline) Delete(pattern string, handlers ...Handler) *Pipeline {
	return p.Route(http.MethodDelete, pattern, handlers...)
}

// Head registers a HEAD route.
func (p *Pipeline) Head(pattern string, handlers ...Handler) *Pipeline {
	return p.Route(http.MethodHead, pattern, handlers...)
}

// Options registers an OPTIONS route.
func (p *Pipeline) Options(pattern string, handlers ...Handler) *Pipeline {
	return p.Route(http.MethodOptions, pattern, handlers...)
}

// WalkFunc is called for every registered route by Walk.
type WalkFunc func(method string, d *Descriptor) error

// Walk visits the routes of every method, methods in sorted order and
// routes in registration order. It stops at the first error.
func (p *Pipeline) Walk(fn WalkFunc) error {
	routes := p.table.load()

	methods := make([]string, 0, len(routes))
	for m := range routes {
		methods = append(methods, m)
	}
	slices.Sort(methods)

	for _, m := range methods {
		for _, d := range routes[m] {
			if err := fn(m, d); err != nil {
				return err
			}
		}
	}
	return nil
}

// Methods returns the methods that have at least one route.
func (p *Pipeline) Methods() []string {
	return p.table.methods()
}

// Logger returns the pipeline logger.
func (p *Pipeline) Logger() *zap.Logger {
	return p.logger
}

// Debug reports whether debug behaviour is enabled.
func (p *Pipeline) Debug() bool {
	return p.debug
}

// Root returns the directory relative file paths resolve against.
func (p *Pipeline) Root() string {
	return p.root
}

// Parent returns the pipeline this one is mounted in, or nil.
func (p *Pipeline) Parent() *Pipeline {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.parent
}

// Addr returns the host and port of the pipeline. A mounted pipeline
// without its own address reports its parent's.
func (p *Pipeline) Addr() (string, int) {
	p.mu.RLock()
	host, port, explicit, parent := p.host, p.port, p.explicit, p.parent
	p.mu.RUnlock()

	if !explicit && parent != nil {
		return parent.Addr()
	}
	return host, port
}

// URL returns the absolute base URL of the pipeline, including the mount
// prefix, or an empty string when no address is known.
func (p *Pipeline) URL() string {
	origin := p.origin()
	if origin == "" {
		return ""
	}
	return origin + p.MountPath()
}

func (p *Pipeline) origin() string {
	host, port := p.Addr()
	if host == "" {
		return ""
	}
	if port != 0 && port != 80 {
		host = net.JoinHostPort(host, strconv.Itoa(port))
	}
	return "http://" + host
}

// MountPath returns the full path prefix the pipeline is mounted under.
func (p *Pipeline) MountPath() string {
	p.mu.RLock()
	prefix, parent := p.mountAt, p.parent
	p.mu.RUnlock()

	if parent == nil {
		return prefix
	}
	return parent.MountPath() + prefix
}

// ServeHTTP is the outermost dispatch boundary. Anything the chain leaves
// unresolved is answered here: a pending error with its status page and
// a log entry, an exhausted chain with 500, and a Pass with 404.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := newContext(p, w, r)

	out := p.dispatch(c)

	switch out.kind {
	case kindPass:
		if !c.Written() {
			c.Error(http.StatusNotFound)
		}
	case kindNext:
		p.unresolved(c, out.err)
	}
}

func (p *Pipeline) unresolved(c *Context, err error) {
	if err == nil {
		err = ErrStackExhausted
	}

	fields := []zap.Field{
		zap.Error(err),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
	}

	var pe *PanicError
	if errors.As(err, &pe) {
		fields = append(fields, zap.ByteString("stack", pe.Stack))
	}

	if c.Written() {
		// A terminal that answered and returned Next is not a failure.
		if errors.Is(err, ErrStackExhausted) {
			p.logger.Debug("response written without Done", fields...)
			return
		}
		p.logger.Warn("error after response was written", fields...)
		return
	}

	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		p.logger.Error("unhandled request error", fields...)
	} else {
		p.logger.Debug("request error", fields...)
	}

	c.writeError(code, err)
}
