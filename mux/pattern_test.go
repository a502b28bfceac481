package mux

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslatePattern(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		expr     string
		captures []string
	}{
		{name: "literal", pattern: "/about", expr: `^/about$`},
		{name: "named capture", pattern: "/users/:id", expr: `^/users/([^/]+)$`, captures: []string{"id"}},
		{name: "two captures in order", pattern: "/:a/x/:b", expr: `^/([^/]+)/x/([^/]+)$`, captures: []string{"a", "b"}},
		{name: "optional group", pattern: "/posts[/:page]", expr: `^/posts(?:/([^/]+))?$`, captures: []string{"page"}},
		{name: "wildcard", pattern: "/files/*", expr: `^/files/.*?$`},
		{name: "literal dot", pattern: "/report.json", expr: `^/report\.json$`},
		{name: "dot plus passes through", pattern: "/a.+", expr: `^/a.+$`},
		{name: "escape passthrough", pattern: "/a%(b%)", expr: `^/a\(b\)$`},
		{name: "bare colon", pattern: "/a:", expr: `^/a:$`},
		{name: "optional literal is not a capture", pattern: "/a[x]", expr: `^/a(?:x)?$`},
		{name: "raw group keeps position", pattern: "/v(1|2)/:id", expr: `^/v(1|2)/([^/]+)$`, captures: []string{"0", "id"}},
		{name: "escaped paren is not a group", pattern: `/a\(b\)`, expr: `^/a\(b\)$`},
		{name: "capture followed by dot", pattern: "/:name.:ext", expr: `^/([^/]+)\.([^/]+)$`, captures: []string{"name", "ext"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, names := translatePattern(tt.pattern)
			assert.Equal(t, tt.expr, expr)
			assert.Equal(t, tt.captures, names)
		})
	}
}

func TestCompile(t *testing.T) {
	t.Run("empty pattern always matches", func(t *testing.T) {
		m, err := Compile("")
		require.NoError(t, err)
		assert.Equal(t, Always, m)

		params, ok := m.Match("/anything/at/all")
		assert.True(t, ok)
		assert.Nil(t, params)
	})

	t.Run("invalid expression is a configuration error", func(t *testing.T) {
		_, err := Compile("/broken(")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidPattern)
	})

	t.Run("MustCompile panics on invalid pattern", func(t *testing.T) {
		assert.Panics(t, func() { MustCompile("/(") })
	})

	t.Run("compiled expressions are cached", func(t *testing.T) {
		a := MustCompile("/cached/:id").(*Pattern)
		b := MustCompile("/cached/:id").(*Pattern)
		assert.Same(t, a.re, b.re)
	})
}

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		match   bool
		params  Params
	}{
		{name: "capture one segment", pattern: "/users/:id", path: "/users/42", match: true, params: Params{"id": "42"}},
		{name: "capture missing", pattern: "/users/:id", path: "/users", match: false},
		{name: "capture does not span segments", pattern: "/users/:id", path: "/users/42/edit", match: false},
		{name: "capture decoded", pattern: "/users/:name", path: "/users/john%20doe", match: true, params: Params{"name": "john doe"}},
		{name: "undecodable capture kept raw", pattern: "/users/:name", path: "/users/bad%zz", match: true, params: Params{"name": "bad%zz"}},
		{name: "optional absent", pattern: "/posts[/:page]", path: "/posts", match: true},
		{name: "optional present", pattern: "/posts[/:page]", path: "/posts/3", match: true, params: Params{"page": "3"}},
		{name: "wildcard remainder", pattern: "/files/*", path: "/files/a/b/c.txt", match: true},
		{name: "wildcard with suffix", pattern: "/files/*.txt", path: "/files/a/b.txt", match: true},
		{name: "wildcard suffix mismatch", pattern: "/files/*.txt", path: "/files/a/b.png", match: false},
		{name: "dot is literal", pattern: "/report.json", path: "/reportxjson", match: false},
		{name: "anchored at start", pattern: "/b", path: "/a/b", match: false},
		{name: "anchored at end", pattern: "/a", path: "/a/b", match: false},
		{name: "regexp passthrough", pattern: "/v(1|2)/x", path: "/v2/x", match: true, params: Params{"0": "2"}},
		{name: "mixed named and unnamed", pattern: "/(a|b)/:id", path: "/b/7", match: true, params: Params{"0": "b", "id": "7"}},
		{name: "non-capturing group", pattern: "/(?:a|b)/:id", path: "/a/7", match: true, params: Params{"id": "7"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := MustCompile(tt.pattern)
			params, ok := m.Match(tt.path)
			assert.Equal(t, tt.match, ok)
			if tt.params != nil {
				assert.Equal(t, tt.params, params)
			} else {
				assert.Empty(t, params)
			}
		})
	}
}

func TestRegexp(t *testing.T) {
	t.Run("named and positional captures", func(t *testing.T) {
		m := Regexp(regexp.MustCompile(`^/x/(\d+)/(?P<slug>[a-z]+)$`))

		params, ok := m.Match("/x/12/abc")
		require.True(t, ok)
		assert.Equal(t, Params{"0": "12", "slug": "abc"}, params)
		assert.Equal(t, []string{"0", "slug"}, m.Names())
	})

	t.Run("unanchored expression matches substrings", func(t *testing.T) {
		m := Regexp(regexp.MustCompile(`admin`))

		_, ok := m.Match("/site/admin/users")
		assert.True(t, ok)
	})
}

func TestPrefixMatcher(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		path   string
		match  bool
	}{
		{name: "exact", prefix: "/api", path: "/api", match: true},
		{name: "below", prefix: "/api", path: "/api/users", match: true},
		{name: "segment boundary", prefix: "/api", path: "/apis", match: false},
		{name: "other path", prefix: "/api", path: "/web", match: false},
		{name: "root prefix", prefix: "/", path: "/anything", match: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := prefixMatcher{prefix: tt.prefix}.Match(tt.path)
			assert.Equal(t, tt.match, ok)
		})
	}
}
