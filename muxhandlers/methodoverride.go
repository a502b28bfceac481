package muxhandlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/vitalvas/relay/mux"
)

// ErrInvalidOverrideMethod is returned for a MethodOverrideConfig method
// that is not an upper-case method token.
var ErrInvalidOverrideMethod = errors.New("method override: invalid method")

// DefaultMethodOverrideField is the form field HTML forms use to ask for
// PUT, PATCH or DELETE.
const DefaultMethodOverrideField = "_method"

// formPeekLimit bounds how much of an urlencoded body is read looking for
// the override field.
const formPeekLimit = 4 << 10

type originalMethodKey struct{}

// MethodOverrideConfig configures MethodOverrideMiddleware.
type MethodOverrideConfig struct {
	// Headers are checked in order and the first present one decides. Nil
	// means X-HTTP-Method-Override, X-Method-Override and X-HTTP-Method.
	Headers []string

	// FormField names an urlencoded body field read when no header is
	// present.
	FormField string

	// QueryParam names a query parameter read last.
	QueryParam string

	// From lists the request methods that may be overridden. Nil means
	// POST.
	From []string

	// To lists the methods a request may become. Nil means PUT, PATCH and
	// DELETE.
	To []string
}

type methodOverride struct {
	headers    []string
	formField  string
	queryParam string
	from, to   []string
}

// MethodOverrideMiddleware lets clients limited to GET and POST reach
// routes of other methods. The override comes from the first configured
// header present, then the form field, then the query parameter, and
// applies only when it is listed in To. The handler sees a copy of the
// request with the new method and without the override header.
// OriginalMethod reports what the client sent.
//
// Routes are chosen by method, so the middleware wraps the pipeline:
//
//	override, _ := muxhandlers.MethodOverrideMiddleware(cfg)
//	srv.Handler = mux.Apply(p, override)
func MethodOverrideMiddleware(cfg MethodOverrideConfig) (mux.MiddlewareFunc, error) {
	o := &methodOverride{
		headers:    cfg.Headers,
		formField:  cfg.FormField,
		queryParam: cfg.QueryParam,
		from:       cfg.From,
		to:         cfg.To,
	}

	if o.headers == nil {
		o.headers = []string{"X-HTTP-Method-Override", "X-Method-Override", "X-HTTP-Method"}
	}
	if o.from == nil {
		o.from = []string{http.MethodPost}
	}
	if o.to == nil {
		o.to = []string{http.MethodPut, http.MethodPatch, http.MethodDelete}
	}

	for _, m := range slices.Concat(o.from, o.to) {
		if !methodToken(m) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidOverrideMethod, m)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, o.apply(r))
		})
	}, nil
}

// apply returns r, or a copy of r carrying the override.
func (o *methodOverride) apply(r *http.Request) *http.Request {
	if !slices.Contains(o.from, r.Method) {
		return r
	}

	method, header := o.requested(r)
	method = strings.ToUpper(strings.TrimSpace(method))
	if !slices.Contains(o.to, method) {
		return r
	}

	out := r.WithContext(context.WithValue(r.Context(), originalMethodKey{}, r.Method))
	out.Method = method
	if header != "" {
		out.Header = r.Header.Clone()
		out.Header.Del(header)
	}

	return out
}

// requested returns the override asked for and the header that carried
// it, if any.
func (o *methodOverride) requested(r *http.Request) (method, header string) {
	for _, h := range o.headers {
		if v := r.Header.Get(h); v != "" {
			return v, h
		}
	}

	if o.formField != "" {
		if v := peekFormField(r, o.formField); v != "" {
			return v, ""
		}
	}

	if o.queryParam != "" {
		return r.URL.Query().Get(o.queryParam), ""
	}

	return "", ""
}

// OriginalMethod returns the method the client sent, which differs from
// r.Method after an override.
func OriginalMethod(r *http.Request) string {
	if m, ok := r.Context().Value(originalMethodKey{}).(string); ok {
		return m
	}

	return r.Method
}

func methodToken(m string) bool {
	if m == "" {
		return false
	}

	for i := 0; i < len(m); i++ {
		if m[i] < 'A' || m[i] > 'Z' {
			return false
		}
	}

	return true
}

// peekFormField reads the start of an urlencoded body looking for field
// and puts the bytes back in front of the rest of the body.
func peekFormField(r *http.Request, field string) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}

	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/x-www-form-urlencoded" {
		return ""
	}

	head, err := io.ReadAll(io.LimitReader(r.Body, formPeekLimit))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}

	if err != nil {
		return ""
	}

	// A truncated trailing pair may be cut mid-value; ParseQuery keeps the
	// complete ones.
	values, _ := url.ParseQuery(string(head))

	return values.Get(field)
}
