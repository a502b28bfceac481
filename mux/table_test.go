package mux

import (
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(c *Context) Result { return Done() }

func TestRegisterMethods(t *testing.T) {
	tests := []struct {
		name   string
		method string
		want   []string
	}{
		{name: "empty expands to default set", method: "", want: DefaultMethods},
		{name: "get is mirrored to head", method: "GET", want: []string{"GET", "HEAD"}},
		{name: "lowercase is normalized", method: "post", want: []string{"POST"}},
		{name: "lowercase get is mirrored", method: "get", want: []string{"GET", "HEAD"}},
		{name: "custom method", method: "PATCH", want: []string{"PATCH"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, registerMethods(tt.method))
		})
	}
}

func TestTable(t *testing.T) {
	t.Run("preserves registration order per method", func(t *testing.T) {
		p := New()
		p.Get("/a", HandlerFunc(noop))
		p.Get("/b", HandlerFunc(noop))
		p.Post("/c", HandlerFunc(noop))

		routes := p.table.load()
		require.Len(t, routes[http.MethodGet], 2)
		assert.Equal(t, "/a", routes[http.MethodGet][0].Pattern)
		assert.Equal(t, "/b", routes[http.MethodGet][1].Pattern)
		require.Len(t, routes[http.MethodPost], 1)
	})

	t.Run("get shares its descriptor with head", func(t *testing.T) {
		p := New()
		p.Get("/x", HandlerFunc(noop))

		routes := p.table.load()
		require.Len(t, routes[http.MethodHead], 1)
		assert.Same(t, routes[http.MethodGet][0], routes[http.MethodHead][0])
	})

	t.Run("methodless route is replicated across the default set", func(t *testing.T) {
		p := New()
		p.Route("", "/x", HandlerFunc(noop))

		routes := p.table.load()
		assert.Len(t, routes, len(DefaultMethods))
		for _, m := range DefaultMethods {
			require.Len(t, routes[m], 1, m)
			assert.Same(t, routes[http.MethodGet][0], routes[m][0])
		}
	})

	t.Run("duplicate patterns are kept", func(t *testing.T) {
		p := New()
		p.Get("/x", HandlerFunc(noop))
		p.Get("/x", HandlerFunc(noop))

		assert.Len(t, p.table.load()[http.MethodGet], 2)
	})

	t.Run("nested chains are flattened", func(t *testing.T) {
		var a, b, c HandlerFunc = noop, noop, noop
		p := New()
		p.Get("/x", a, Chain{b, Chain{c, nil}}, nil)

		d := p.table.load()[http.MethodGet][0]
		assert.Len(t, d.Handlers, 3)
	})

	t.Run("empty handler list panics", func(t *testing.T) {
		p := New()
		assert.Panics(t, func() { p.Get("/x") })
		assert.Panics(t, func() { p.Get("/x", Chain{}) })
	})

	t.Run("invalid pattern panics", func(t *testing.T) {
		p := New()
		assert.Panics(t, func() { p.Get("/(", HandlerFunc(noop)) })
	})

	t.Run("published snapshots are not modified by later registrations", func(t *testing.T) {
		p := New()
		p.Get("/a", HandlerFunc(noop))

		before := p.table.load()
		p.Get("/b", HandlerFunc(noop))

		assert.Len(t, before[http.MethodGet], 1)
		assert.Len(t, p.table.load()[http.MethodGet], 2)
	})

	t.Run("concurrent registration keeps every route", func(t *testing.T) {
		p := New()

		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.Post("/x", HandlerFunc(noop))
			}()
		}
		wg.Wait()

		assert.Len(t, p.table.load()[http.MethodPost], 50)
	})

	t.Run("methods are sorted", func(t *testing.T) {
		p := New()
		p.Put("/x", HandlerFunc(noop))
		p.Get("/x", HandlerFunc(noop))

		assert.Equal(t, []string{"GET", "HEAD", "PUT"}, p.Methods())
	})
}

func TestWalk(t *testing.T) {
	p := New()
	p.Post("/b", HandlerFunc(noop))
	p.Get("/a", HandlerFunc(noop))

	var seen []string
	err := p.Walk(func(method string, d *Descriptor) error {
		seen = append(seen, method+" "+d.Pattern)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"GET /a", "HEAD /a", "POST /b"}, seen)

	t.Run("stops on error", func(t *testing.T) {
		stop := errors.New("stop")
		calls := 0
		err := p.Walk(func(string, *Descriptor) error {
			calls++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, calls)
	})
}

func TestDescriptorPatternless(t *testing.T) {
	assert.True(t, (&Descriptor{}).Patternless())
	assert.True(t, (&Descriptor{Matcher: Always}).Patternless())
	assert.False(t, (&Descriptor{Matcher: MustCompile("/x")}).Patternless())
}
