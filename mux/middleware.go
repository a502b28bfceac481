package mux

import (
	"net/http"
)

// MiddlewareFunc is a standard net/http middleware.
type MiddlewareFunc func(http.Handler) http.Handler

// Middleware allows MiddlewareFunc to implement the middleware interface.
func (mw MiddlewareFunc) Middleware(handler http.Handler) http.Handler {
	return mw(handler)
}

// Wrap turns an http.Handler into a terminal chain step. Params and
// values stay reachable from the handler through FromRequest and Vars.
func Wrap(h http.Handler) Handler {
	return HandlerFunc(func(c *Context) Result {
		h.ServeHTTP(c.Writer, c.Request)
		return Done()
	})
}

// WrapFunc is Wrap for a handler function.
func WrapFunc(fn func(http.ResponseWriter, *http.Request)) Handler {
	return Wrap(http.HandlerFunc(fn))
}

// WrapMiddleware turns a net/http middleware into a chain step. The rest
// of the chain runs as the middleware's next handler, with whatever writer
// and request the middleware passes on. When the middleware answers by
// itself the chain ends there.
func WrapMiddleware(mw MiddlewareFunc) Handler {
	return HandlerFunc(func(c *Context) Result {
		res := Done()
		w, r := c.Writer, c.Request

		mw(http.HandlerFunc(func(nw http.ResponseWriter, nr *http.Request) {
			c.Writer, c.Request = nw, nr
			res = c.Next()
		})).ServeHTTP(w, r)

		c.Writer, c.Request = w, r

		return res
	})
}

// Apply wraps h with middlewares so that the first one is outermost.
func Apply(h http.Handler, mws ...MiddlewareFunc) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
