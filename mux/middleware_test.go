package mux

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type ctxTestKey struct{}

func TestWrap(t *testing.T) {
	t.Run("http handler terminates the chain", func(t *testing.T) {
		var trace []string
		p := New()
		p.Get("/", Wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			trace = append(trace, "handler")
			w.WriteHeader(http.StatusAccepted)
		})), mark(&trace, "after"))

		w := serve(p, http.MethodGet, "/")
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, []string{"handler"}, trace)
	})

	t.Run("wrapped handler sees the context", func(t *testing.T) {
		p := New()
		p.Get("/", WrapFunc(func(w http.ResponseWriter, r *http.Request) {
			c := FromRequest(r)
			assert.NotNil(t, c)
			assert.Same(t, p, c.Pipeline())
			w.WriteHeader(http.StatusNoContent)
		}))

		assert.Equal(t, http.StatusNoContent, serve(p, http.MethodGet, "/").Code)
	})
}

func TestWrapMiddleware(t *testing.T) {
	t.Run("runs around the rest of the chain", func(t *testing.T) {
		var trace []string
		mw := MiddlewareFunc(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				trace = append(trace, "before")
				next.ServeHTTP(w, r)
				trace = append(trace, "after")
			})
		})

		p := New()
		p.Use(WrapMiddleware(mw))
		p.Get("/", HandlerFunc(func(c *Context) Result {
			trace = append(trace, "handler")
			return c.Text(http.StatusOK, "ok")
		}))

		w := serve(p, http.MethodGet, "/")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"before", "handler", "after"}, trace)
	})

	t.Run("request changes reach later steps", func(t *testing.T) {
		mw := MiddlewareFunc(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxTestKey{}, "tagged")))
			})
		})

		p := New()
		p.Use(WrapMiddleware(mw))
		p.Get("/", HandlerFunc(func(c *Context) Result {
			v, _ := c.Request.Context().Value(ctxTestKey{}).(string)
			return c.Text(http.StatusOK, v)
		}))

		assert.Equal(t, "tagged", serve(p, http.MethodGet, "/").Body.String())
	})

	t.Run("writer wrappers see the response", func(t *testing.T) {
		mw := MiddlewareFunc(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Wrapped", "yes")
				next.ServeHTTP(w, r)
			})
		})

		p := New()
		p.Use(WrapMiddleware(mw))
		p.Get("/", text("ok"))

		w := serve(p, http.MethodGet, "/")
		assert.Equal(t, "yes", w.Header().Get("X-Wrapped"))
	})

	t.Run("answering middleware ends the chain", func(t *testing.T) {
		called := false
		deny := MiddlewareFunc(func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "denied", http.StatusForbidden)
			})
		})

		p := New()
		p.Use(WrapMiddleware(deny))
		p.Get("/", HandlerFunc(func(c *Context) Result {
			called = true
			return Done()
		}))

		w := serve(p, http.MethodGet, "/")
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.False(t, called)
	})

	t.Run("errors pass through the middleware", func(t *testing.T) {
		p := New()
		p.Use(WrapMiddleware(func(next http.Handler) http.Handler { return next }))
		p.Get("/", HandlerFunc(func(c *Context) Result {
			return Fail(NewStatusError(http.StatusConflict, ErrNoHandlers))
		}))

		assert.Equal(t, http.StatusConflict, serve(p, http.MethodGet, "/").Code)
	})
}

func TestApply(t *testing.T) {
	var order []string
	tag := func(name string) MiddlewareFunc {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Apply(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), tag("first"), tag("second"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"first", "second", "handler"}, order)

	order = nil
	tag("direct").Middleware(http.NotFoundHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"direct"}, order)
}
