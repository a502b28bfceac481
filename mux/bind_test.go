package mux

import (
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bindItem struct {
	XMLName xml.Name `json:"-" yaml:"-" xml:"item"`
	Name    string   `json:"name" yaml:"name" xml:"name"`
	Count   int      `json:"count" yaml:"count" xml:"count"`
}

func TestDecoders(t *testing.T) {
	tests := []struct {
		name   string
		decode func(body string, v any) error
		body   string
		want   bindItem
		err    error
	}{
		{"json", jsonStrict, `{"name":"a","count":2}`, bindItem{Name: "a", Count: 2}, nil},
		{"json empty", jsonStrict, "", bindItem{}, ErrEmptyBody},
		{"json whitespace", jsonStrict, " \n ", bindItem{}, ErrEmptyBody},
		{"json trailing value", jsonStrict, `{"name":"a"} {"name":"b"}`, bindItem{Name: "a"}, ErrTrailingData},
		{"json trailing newline", jsonStrict, "{\"name\":\"a\"}\n", bindItem{Name: "a"}, nil},
		{"json lenient", func(b string, v any) error { return DecodeJSON(strings.NewReader(b), v, false) },
			`{"name":"a","extra":true}`, bindItem{Name: "a"}, nil},
		{"xml", xmlDecode, `<item><name>x</name><count>3</count></item>`, bindItem{Name: "x", Count: 3}, nil},
		{"xml empty", xmlDecode, "", bindItem{}, ErrEmptyBody},
		{"xml trailing element", xmlDecode, `<item><name>x</name></item><item/>`, bindItem{Name: "x"}, ErrTrailingData},
		{"yaml", yamlStrict, "name: y\ncount: 4\n", bindItem{Name: "y", Count: 4}, nil},
		{"yaml empty", yamlStrict, "", bindItem{}, ErrEmptyBody},
		{"yaml second document", yamlStrict, "name: y\n---\nname: z\n", bindItem{Name: "y"}, ErrTrailingData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got bindItem
			err := tt.decode(tt.body, &got)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want.Name, got.Name)
			assert.Equal(t, tt.want.Count, got.Count)
		})
	}

	t.Run("strict decoders reject unknown keys", func(t *testing.T) {
		var v bindItem
		assert.Error(t, jsonStrict(`{"name":"a","extra":1}`, &v))
		assert.Error(t, yamlStrict("name: a\nextra: 1\n", &v))
		assert.Error(t, jsonStrict(`{"name":`, &v))
	})
}

func jsonStrict(body string, v any) error { return DecodeJSON(strings.NewReader(body), v, true) }
func xmlDecode(body string, v any) error { return DecodeXML(strings.NewReader(body), v) }
func yamlStrict(body string, v any) error { return DecodeYAML(strings.NewReader(body), v, true) }

// bindRequest runs Context.Bind inside a pipeline and returns what it saw.
func bindRequest(t *testing.T, contentType, body string, v any) error {
	t.Helper()

	var (
		err  error
		seen bool
	)

	p := New()
	p.Post("/", HandlerFunc(func(c *Context) Result {
		seen = true
		err = c.Bind(v)
		return c.Text(http.StatusOK, "ok")
	}))

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	p.ServeHTTP(httptest.NewRecorder(), r)

	require.True(t, seen)
	return err
}

func TestContextBind(t *testing.T) {
	t.Run("by content type", func(t *testing.T) {
		tests := []struct {
			ctype string
			body  string
		}{
			{"application/json; charset=utf-8", `{"name":"n","count":1}`},
			{"application/merge-patch+json", `{"name":"n","count":1}`},
			{"application/xml", `<item><name>n</name><count>1</count></item>`},
			{"text/xml", `<item><name>n</name><count>1</count></item>`},
			{"application/atom+xml", `<item><name>n</name><count>1</count></item>`},
			{"application/yaml", "name: n\ncount: 1\n"},
			{"text/yaml", "{name: n, count: 1}"},
		}

		for _, tt := range tests {
			var got bindItem
			require.NoError(t, bindRequest(t, tt.ctype, tt.body, &got), tt.ctype)
			assert.Equal(t, "n", got.Name, tt.ctype)
			assert.Equal(t, 1, got.Count, tt.ctype)
		}
	})

	t.Run("decode failures are bad requests", func(t *testing.T) {
		for ctype, body := range map[string]string{
			"application/json": `{"name":"a","extra":1}`,
			"application/xml":  `<item><name>`,
			"application/yaml": "name: [",
		} {
			var got bindItem
			err := bindRequest(t, ctype, body, &got)
			require.Error(t, err, ctype)
			assert.Equal(t, http.StatusBadRequest, StatusCode(err), ctype)
		}

		var got bindItem
		err := bindRequest(t, "application/json", "", &got)
		assert.ErrorIs(t, err, ErrEmptyBody)
		assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	})

	t.Run("unsupported media type", func(t *testing.T) {
		for _, ctype := range []string{"text/plain", ""} {
			var got bindItem
			err := bindRequest(t, ctype, "name=a", &got)
			require.ErrorIs(t, err, ErrUnsupportedMediaType, ctype)
			assert.Equal(t, http.StatusUnsupportedMediaType, StatusCode(err), ctype)
		}
	})

	t.Run("forms", func(t *testing.T) {
		const form = "application/x-www-form-urlencoded"

		var values url.Values
		require.NoError(t, bindRequest(t, form, "tag=a&tag=b&name=n", &values))
		assert.Equal(t, []string{"a", "b"}, values["tag"])
		assert.Equal(t, "n", values.Get("name"))

		var fields map[string]string
		require.NoError(t, bindRequest(t, form, "tag=a&tag=b", &fields))
		assert.Equal(t, map[string]string{"tag": "a"}, fields)

		var item bindItem
		err := bindRequest(t, form, "name=n", &item)
		require.Error(t, err)
		assert.Equal(t, http.StatusInternalServerError, StatusCode(err))

		err = bindRequest(t, form, "bad=%zz", &values)
		assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	})

	t.Run("failing with the bind error answers its status", func(t *testing.T) {
		p := New()
		p.Post("/", HandlerFunc(func(c *Context) Result {
			var v bindItem
			if err := c.Bind(&v); err != nil {
				return Fail(err)
			}
			return c.Text(http.StatusOK, v.Name)
		}))

		w := serveBody(p, http.MethodPost, "/", strings.NewReader("x"))
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	})
}
