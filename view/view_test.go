package view

import (
	"html/template"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalvas/relay/mux"
)

func TestView(t *testing.T) {
	t.Run("locals", func(t *testing.T) {
		v := NewView(newTestEngine(t, Config{}))

		v.Local("Name", "ann").Local("Title", "T")
		assert.Equal(t, map[string]any{"Name": "ann", "Title": "T"}, v.Locals())

		v.Local("Title", nil)
		assert.Equal(t, map[string]any{"Name": "ann"}, v.Locals())

		out, err := v.Show("nav", nil)
		require.NoError(t, err)
		assert.Equal(t, template.HTML("<nav>ann</nav>"), out)

		out, err = v.Show("nav", map[string]any{"Name": "bob"})
		require.NoError(t, err)
		assert.Equal(t, template.HTML("<nav>bob</nav>"), out)
	})

	t.Run("inherits and drop", func(t *testing.T) {
		v := NewView(newTestEngine(t, Config{}))
		v.Local("Title", "T")

		v.Inherits("base", "layout")

		out, err := v.Show("nav", map[string]any{"Name": "x"})
		require.NoError(t, err)
		assert.Equal(t, template.HTML(`<html><title>T</title><html><title>T</title><main><nav>x</nav></main></html></html>`), out)

		v.Drop("base")

		out, err = v.Show("nav", map[string]any{"Name": "x"})
		require.NoError(t, err)
		assert.Equal(t, template.HTML(`<html><title>T</title><nav>x</nav></html>`), out)

		v.Drop("layout").Drop("unknown")

		out, err = v.Show("nav", map[string]any{"Name": "x"})
		require.NoError(t, err)
		assert.Equal(t, template.HTML(`<nav>x</nav>`), out)
	})

	t.Run("layout errors", func(t *testing.T) {
		v := NewView(newTestEngine(t, Config{})).Inherits("missing")

		_, err := v.Show("nav", nil)
		assert.ErrorContains(t, err, "missing.html")
	})

	t.Run("partial skips layouts", func(t *testing.T) {
		v := NewView(newTestEngine(t, Config{})).Inherits("layout")
		v.Local("Name", "ann")

		out, err := v.Partial("page", nil)
		require.NoError(t, err)
		assert.Equal(t, template.HTML("<p>ann</p>"), out)

		_, err = v.Partial("fail", nil)
		assert.Error(t, err)

		_, err = v.Partial("missing", nil)
		assert.Error(t, err)
	})
}

func TestRender(t *testing.T) {
	e := newTestEngine(t, Config{})

	p := mux.New()
	p.Use(Middleware(e, map[string]any{"Title": "Site"}))
	p.Get("/page", mux.HandlerFunc(func(c *mux.Context) mux.Result {
		return FromContext(c).Render(c, "page", map[string]any{"Name": "ann"})
	}))
	p.Get("/fail", mux.HandlerFunc(func(c *mux.Context) mux.Result {
		return FromContext(c).Render(c, "fail", map[string]any{"Name": "ann"})
	}))
	p.Get("/isolated", mux.HandlerFunc(func(c *mux.Context) mux.Result {
		v := FromContext(c)
		v.Local("Title", "Changed")
		return c.Text(http.StatusOK, "ok")
	}))

	t.Run("renders html", func(t *testing.T) {
		w := httptest.NewRecorder()
		p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/page", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Equal(t, `<html><title>Site</title><main><p>ann</p></main></html>`, w.Body.String())
	})

	t.Run("render error fails the request", func(t *testing.T) {
		w := httptest.NewRecorder()
		p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "<nav>")
	})

	t.Run("views are per request", func(t *testing.T) {
		w := httptest.NewRecorder()
		p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/isolated", nil))
		require.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/page", nil))
		assert.Contains(t, w.Body.String(), "<title>Site</title>")
	})

	t.Run("no middleware", func(t *testing.T) {
		bare := mux.New()
		bare.Get("/", mux.HandlerFunc(func(c *mux.Context) mux.Result {
			assert.Nil(t, FromContext(c))
			return c.Text(http.StatusOK, "ok")
		}))

		w := httptest.NewRecorder()
		bare.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
