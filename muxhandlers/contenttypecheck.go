package muxhandlers

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"slices"
	"strings"

	"github.com/vitalvas/relay/mux"
)

// ErrNoAllowedTypes is returned when ContentTypeCheckConfig.AllowedTypes is
// empty.
var ErrNoAllowedTypes = errors.New("content type check: at least one allowed content type is required")

// ErrInvalidMediaRange is returned for an AllowedTypes entry that is not a
// media type or range.
var ErrInvalidMediaRange = errors.New("content type check: invalid media range")

// ContentTypeCheckConfig configures ContentTypeCheckMiddleware.
type ContentTypeCheckConfig struct {
	// AllowedTypes are media types ("application/json"), ranges
	// ("text/*", "*/*") or structured syntax suffixes ("+json"). Parameters
	// of the request type are ignored and matching is case-insensitive.
	AllowedTypes []string

	// Methods are the checked request methods. Nil means POST, PUT and
	// PATCH.
	Methods []string

	// AllowEmptyBody lets requests that declare no body through without a
	// Content-Type.
	AllowEmptyBody bool
}

// mediaRange is one parsed AllowedTypes entry. An empty subtype matches any
// subtype and a set suffix matches subtypes ending in it.
type mediaRange struct {
	typ, subtype, suffix string
}

func parseMediaRange(s string) (mediaRange, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	if strings.HasPrefix(s, "+") && len(s) > 1 && !strings.Contains(s, "/") {
		return mediaRange{suffix: s}, nil
	}

	typ, subtype, ok := strings.Cut(s, "/")
	if !ok || typ == "" || subtype == "" || (typ == "*" && subtype != "*") {
		return mediaRange{}, fmt.Errorf("%w: %q", ErrInvalidMediaRange, s)
	}

	if subtype == "*" {
		subtype = ""
	}
	if typ == "*" {
		typ = ""
	}

	return mediaRange{typ: typ, subtype: subtype}, nil
}

func (m mediaRange) match(typ, subtype string) bool {
	if m.suffix != "" {
		return strings.HasSuffix(subtype, m.suffix)
	}

	return (m.typ == "" || m.typ == typ) && (m.subtype == "" || m.subtype == subtype)
}

// ContentTypeCheckMiddleware answers 415 Unsupported Media Type for
// requests of the checked methods whose Content-Type is missing, malformed
// or outside AllowedTypes. Rejected POST and PATCH requests carry the
// accepted types in Accept-Post or Accept-Patch.
func ContentTypeCheckMiddleware(cfg ContentTypeCheckConfig) (mux.Handler, error) {
	if len(cfg.AllowedTypes) == 0 {
		return nil, ErrNoAllowedTypes
	}

	ranges := make([]mediaRange, 0, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		m, err := parseMediaRange(t)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, m)
	}

	methods := cfg.Methods
	if methods == nil {
		methods = []string{http.MethodPost, http.MethodPut, http.MethodPatch}
	}

	accept := strings.Join(cfg.AllowedTypes, ", ")

	supported := func(header string) bool {
		mediaType, _, err := mime.ParseMediaType(header)
		if err != nil {
			return false
		}

		typ, subtype, _ := strings.Cut(mediaType, "/")
		return slices.ContainsFunc(ranges, func(m mediaRange) bool {
			return m.match(typ, subtype)
		})
	}

	return mux.HandlerFunc(func(c *mux.Context) mux.Result {
		req := c.Request
		if !slices.Contains(methods, req.Method) {
			return mux.Next()
		}

		header := req.Header.Get("Content-Type")
		if header == "" && cfg.AllowEmptyBody && !hasBody(req) {
			return mux.Next()
		}

		if supported(header) {
			return mux.Next()
		}

		switch req.Method {
		case http.MethodPost:
			c.Writer.Header().Set("Accept-Post", accept)
		case http.MethodPatch:
			c.Writer.Header().Set("Accept-Patch", accept)
		}

		return c.Error(http.StatusUnsupportedMediaType)
	}), nil
}

// hasBody reports whether r declares a body through Content-Length or
// Transfer-Encoding.
func hasBody(r *http.Request) bool {
	return r.ContentLength > 0 || r.ContentLength == -1 || len(r.TransferEncoding) > 0
}
