package mux

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture serves target through a single route and hands the Context to
// inspect before the response is written.
func capture(t *testing.T, r *http.Request, pattern string, inspect func(c *Context)) *httptest.ResponseRecorder {
	t.Helper()

	p := New()
	p.Route(r.Method, pattern, HandlerFunc(func(c *Context) Result {
		inspect(c)
		return c.Text(http.StatusOK, "ok")
	}))

	w := httptest.NewRecorder()
	p.ServeHTTP(w, r)
	return w
}

func TestVars(t *testing.T) {
	t.Run("returns nil outside a pipeline", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		assert.Nil(t, Vars(r))
		assert.Nil(t, FromRequest(r))

		_, ok := VarGet(r, "id")
		assert.False(t, ok)
	})

	t.Run("wrapped handlers see route params", func(t *testing.T) {
		p := New()
		p.Get("/users/:id", WrapFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := VarGet(r, "id")
			assert.True(t, ok)
			assert.Equal(t, Params{"id": id}, Vars(r))
			_, _ = w.Write([]byte(id))
		}))

		assert.Equal(t, "9", serve(p, http.MethodGet, "/users/9").Body.String())
	})
}

func TestContextRequestView(t *testing.T) {
	t.Run("params are copied", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/a/b", nil)
		capture(t, r, "/:x/:y", func(c *Context) {
			params := c.Params()
			params["x"] = "changed"
			assert.Equal(t, "a", c.Param("x"))
			assert.Equal(t, "", c.Param("missing"))
		})
	})

	t.Run("set param is visible to later steps", func(t *testing.T) {
		p := New()
		p.Use(HandlerFunc(func(c *Context) Result {
			c.SetParam("tenant", "acme")
			return Next()
		}))
		p.Get("/", HandlerFunc(func(c *Context) Result {
			return c.Text(http.StatusOK, c.Param("tenant"))
		}))

		assert.Equal(t, "acme", serve(p, http.MethodGet, "/").Body.String())
	})

	t.Run("segments and path", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/docs/a%20b/", nil)
		capture(t, r, "/docs/*", func(c *Context) {
			assert.Equal(t, "/docs/a%20b/", c.Path())
			assert.Equal(t, []string{"docs", "a b"}, c.Segments())
			assert.Equal(t, "", c.MountPath())
		})
	})

	t.Run("route includes the mount path", func(t *testing.T) {
		child := New()
		child.Get("/users/:id", HandlerFunc(func(c *Context) Result {
			return c.Text(http.StatusOK, c.Route())
		}))

		parent := New()
		parent.Use(HandlerFunc(func(c *Context) Result {
			assert.Equal(t, "/api*", c.Route())
			return Next()
		}))
		parent.MustMount("/api", child)

		assert.Equal(t, "/api/users/:id", serve(parent, http.MethodGet, "/api/users/1").Body.String())
	})

	t.Run("query", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/?q=go&tag=a&tag=b", nil)
		capture(t, r, "/", func(c *Context) {
			assert.Equal(t, "go", c.Query().Get("q"))
			assert.Equal(t, []string{"a", "b"}, c.Query()["tag"])
		})
	})

	t.Run("host falls back to the pipeline address", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Host = ""

		p := New(WithAddr("svc.internal", 9000))
		p.Get("/", HandlerFunc(func(c *Context) Result {
			return c.Text(http.StatusOK, c.Host())
		}))

		w := httptest.NewRecorder()
		p.ServeHTTP(w, r)
		assert.Equal(t, "svc.internal", w.Body.String())
	})

	t.Run("referer falls back to the pipeline url", func(t *testing.T) {
		p := New(WithAddr("example.org", 80))
		p.Get("/", HandlerFunc(func(c *Context) Result {
			return c.Text(http.StatusOK, c.Header("Referer")+"|"+c.Header("X-Missing"))
		}))

		assert.Equal(t, "http://example.org/|", serve(p, http.MethodGet, "/").Body.String())

		bare := New()
		bare.Get("/", HandlerFunc(func(c *Context) Result {
			return c.Text(http.StatusOK, "["+c.Header("Referer")+"]")
		}))
		assert.Equal(t, "[]", serve(bare, http.MethodGet, "/").Body.String())
	})

	t.Run("headers and cookies", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("Content-Type", "application/json; charset=utf-8")
		r.Header.Set("Accept", "text/html, image/*;q=0.8")
		r.Header.Set("Accept-Encoding", "br, GZIP")
		r.Header.Set("X-Requested-With", "XMLHttpRequest")
		r.AddCookie(&http.Cookie{Name: "theme", Value: "dark"})

		capture(t, r, "/", func(c *Context) {
			assert.True(t, c.Is("json"))
			assert.False(t, c.Is("form"))
			assert.True(t, c.Accepts("html"))
			assert.True(t, c.Accepts("png"))
			assert.False(t, c.Accepts("json"))
			assert.True(t, c.AcceptsGzip())
			assert.True(t, c.XHR())
			assert.Equal(t, "dark", c.Cookie("theme"))
			assert.Equal(t, "", c.Cookie("missing"))
		})
	})

	t.Run("missing accept header accepts anything", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		capture(t, r, "/", func(c *Context) {
			assert.True(t, c.Accepts("xml"))
		})
	})
}

func TestContextState(t *testing.T) {
	t.Run("values are shared along the chain", func(t *testing.T) {
		p := New()
		p.Use(HandlerFunc(func(c *Context) Result {
			c.Set("user", "ann")
			return Next()
		}))
		p.Get("/", HandlerFunc(func(c *Context) Result {
			v, ok := c.Get("user")
			require.True(t, ok)
			return c.Text(http.StatusOK, v.(string))
		}))

		assert.Equal(t, "ann", serve(p, http.MethodGet, "/").Body.String())
	})

	t.Run("response bookkeeping", func(t *testing.T) {
		p := New()
		p.Use(HandlerFunc(func(c *Context) Result {
			assert.False(t, c.Written())
			assert.False(t, c.Started().IsZero())

			res := c.Next()

			assert.True(t, c.Written())
			assert.Equal(t, http.StatusCreated, c.ResponseStatus())
			assert.Equal(t, 5, c.ResponseSize())
			return res
		}))
		p.Get("/", HandlerFunc(func(c *Context) Result {
			return c.Text(http.StatusCreated, "hello")
		}))

		assert.Equal(t, http.StatusCreated, serve(p, http.MethodGet, "/").Code)
	})

	t.Run("pipeline and logger", func(t *testing.T) {
		child := New()
		child.Get("/", HandlerFunc(func(c *Context) Result {
			assert.Same(t, child, c.Pipeline())
			assert.Same(t, c.root.logger, c.Logger())
			return c.Text(http.StatusOK, "ok")
		}))

		parent, _ := observedPipeline()
		parent.MustMount("/c", child)

		assert.Equal(t, http.StatusOK, serve(parent, http.MethodGet, "/c").Code)
	})

	t.Run("next outside a chain", func(t *testing.T) {
		c := &Context{}
		assert.True(t, c.Next().IsNext())
		assert.Error(t, c.NextError(ErrNotFound).Err())
	})
}
