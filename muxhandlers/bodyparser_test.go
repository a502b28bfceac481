package muxhandlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalvas/relay/mux"
)

func TestBodyParserMiddleware(t *testing.T) {
	t.Run("config validation", func(t *testing.T) {
		_, err := BodyParserMiddleware(BodyParserConfig{MaxBytes: -1})
		assert.ErrorIs(t, err, ErrInvalidMaxSize)

		_, err = BodyParserMiddleware(BodyParserConfig{})
		assert.NoError(t, err)
	})

	tests := []struct {
		name        string
		maxBytes    int64
		contentType string
		body        string
		wantCode    int
		wantBody    any
	}{
		{
			name:        "json object",
			contentType: "application/json",
			body:        `{"name":"ann","age":3}`,
			wantCode:    http.StatusOK,
			wantBody:    map[string]any{"name": "ann", "age": float64(3)},
		},
		{
			name:        "json with charset",
			contentType: "application/json; charset=utf-8",
			body:        `[1,2]`,
			wantCode:    http.StatusOK,
			wantBody:    []any{float64(1), float64(2)},
		},
		{
			name:        "urlencoded form",
			contentType: "application/x-www-form-urlencoded",
			body:        "a=1&a=2&b=x",
			wantCode:    http.StatusOK,
			wantBody:    url.Values{"a": {"1", "2"}, "b": {"x"}},
		},
		{
			name:        "other content types are skipped",
			contentType: "text/plain",
			body:        "plain",
			wantCode:    http.StatusOK,
		},
		{
			name:        "empty body",
			contentType: "application/json",
			wantCode:    http.StatusOK,
		},
		{
			name:        "malformed json",
			contentType: "application/json",
			body:        `{"name":`,
			wantCode:    http.StatusBadRequest,
		},
		{
			name:        "malformed form",
			contentType: "application/x-www-form-urlencoded",
			body:        "a=%zz",
			wantCode:    http.StatusBadRequest,
		},
		{
			name:        "body exactly at limit",
			maxBytes:    7,
			contentType: "application/json",
			body:        `"hello"`,
			wantCode:    http.StatusOK,
			wantBody:    "hello",
		},
		{
			name:        "body exceeds limit",
			maxBytes:    3,
			contentType: "application/json",
			body:        `"hello world"`,
			wantCode:    http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw, err := BodyParserMiddleware(BodyParserConfig{MaxBytes: tt.maxBytes})
			require.NoError(t, err)

			var (
				got     any
				gotRaw  string
				reached bool
			)

			r := mux.New()
			r.Use(mw)
			r.Post("/test", mux.HandlerFunc(func(c *mux.Context) mux.Result {
				reached = true
				got = Body(c)
				raw, _ := io.ReadAll(c.Request.Body)
				gotRaw = string(raw)
				return c.Text(http.StatusOK, "ok")
			}))

			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			w := do(r, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode != http.StatusOK {
				assert.False(t, reached)
				return
			}

			assert.Equal(t, tt.wantBody, got)
			assert.Equal(t, tt.body, gotRaw)
		})
	}

	t.Run("default limit", func(t *testing.T) {
		mw, err := BodyParserMiddleware(BodyParserConfig{})
		require.NoError(t, err)

		r := mux.New()
		r.Use(mw)
		r.Post("/test", okHandler())

		body := `"` + strings.Repeat("a", DefaultBodyLimit) + `"`
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		assert.Equal(t, http.StatusRequestEntityTooLarge, do(r, req).Code)
	})

	t.Run("error handlers see the status", func(t *testing.T) {
		mw, err := BodyParserMiddleware(BodyParserConfig{})
		require.NoError(t, err)

		var code int
		r := mux.New()
		r.Use(mw)
		r.Post("/test", okHandler())
		r.Use(mux.ErrorHandlerFunc(func(c *mux.Context, err error) mux.Result {
			code = mux.StatusCode(err)
			return c.JSON(code, map[string]string{"error": "bad body"})
		}))

		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		w := do(r, req)

		assert.Equal(t, http.StatusBadRequest, code)
		assert.JSONEq(t, `{"error":"bad body"}`, w.Body.String())
	})
}

func BenchmarkBodyParserMiddleware(b *testing.B) {
	mw, err := BodyParserMiddleware(BodyParserConfig{})
	if err != nil {
		b.Fatal(err)
	}

	r := mux.New()
	r.Use(mw)
	r.Post("/test", okHandler())

	b.ResetTimer()
	for b.Loop() {
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"a":1}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
}
