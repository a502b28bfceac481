package mux

import (
	"errors"
	"net/http"
	"strings"
)

// resolve collects the handlers every matching route contributes for
// method and path, in registration order. Captures from later routes
// overwrite earlier ones with the same name.
//
// matched reports whether at least one pattern-bearing route accepted the
// path; patternless routes alone do not count. route is the display
// pattern of the last such route.
func (p *Pipeline) resolve(method, path string) (handlers []Handler, params Params, route string, matched bool, err error) {
	routes := p.table.load()

	list, ok := routes[method]
	if !ok {
		return nil, nil, "", false, ErrMethodNotAllowed
	}

	for _, d := range list {
		if d.Patternless() {
			handlers = append(handlers, d.Handlers...)
			continue
		}

		caps, ok := d.Matcher.Match(path)
		if !ok {
			continue
		}

		matched = true
		route = d.Pattern
		for k, v := range caps {
			if params == nil {
				params = make(Params, len(caps))
			}
			params[k] = v
		}
		handlers = append(handlers, d.Handlers...)
	}

	if len(handlers) == 0 {
		return nil, params, "", false, ErrNotFound
	}

	return handlers, params, route, matched, nil
}

// dispatch resolves the chain for the context's current path view and
// runs it as this pipeline. The returned Result is the chain outcome; the
// caller decides what an unresolved outcome means at its level.
func (p *Pipeline) dispatch(c *Context) Result {
	handlers, params, route, matched, err := p.resolve(c.Request.Method, c.path)

	switch {
	case errors.Is(err, ErrMethodNotAllowed):
		c.Writer.Header().Set("Allow", strings.Join(p.table.methods(), ", "))
		handlers = []Handler{p.methodNotAllowedHandler()}
	case errors.Is(err, ErrNotFound):
		handlers = []Handler{p.notFoundHandler()}
	case !matched:
		handlers = append(handlers, p.notFoundHandler())
	}

	if matched {
		c.route = c.base + route
	}

	for k, v := range params {
		if c.params == nil {
			c.params = make(Params, len(params))
		}
		c.params[k] = v
	}

	prevRun, prevPipe := c.run, c.pipeline
	c.run = &run{handlers: handlers}
	c.pipeline = p

	out := c.run.drive(c, nil)

	c.run, c.pipeline = prevRun, prevPipe

	return out
}

func (p *Pipeline) notFoundHandler() Handler {
	if p.notFound != nil {
		return p.notFound
	}
	return HandlerFunc(func(c *Context) Result {
		return c.Error(http.StatusNotFound)
	})
}

func (p *Pipeline) methodNotAllowedHandler() Handler {
	if p.methodNotAllowed != nil {
		return p.methodNotAllowed
	}
	return HandlerFunc(func(c *Context) Result {
		return c.Error(http.StatusMethodNotAllowed)
	})
}
