package muxhandlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vitalvas/relay/mux"
)

// ErrInvalidFrameOption is returned when SecurityHeadersConfig.FrameOption
// is neither DENY nor SAMEORIGIN.
var ErrInvalidFrameOption = errors.New("security headers: frame option must be DENY or SAMEORIGIN")

// ErrInvalidHSTSMaxAge is returned for a negative or sub-second
// SecurityHeadersConfig.HSTSMaxAge.
var ErrInvalidHSTSMaxAge = errors.New("security headers: hsts max age must be at least one second")

// SecurityHeadersConfig configures SecurityHeadersMiddleware. Empty policy
// fields leave their header unset.
type SecurityHeadersConfig struct {
	// DisableContentTypeNosniff omits X-Content-Type-Options: nosniff.
	DisableContentTypeNosniff bool

	// FrameOption is DENY (the default) or SAMEORIGIN.
	FrameOption string
	// DisableFrameOptions omits X-Frame-Options, e.g. when a CSP
	// frame-ancestors directive replaces it.
	DisableFrameOptions bool

	// ReferrerPolicy defaults to strict-origin-when-cross-origin.
	ReferrerPolicy string

	// HSTSMaxAge enables Strict-Transport-Security on secure requests.
	// It is rounded down to whole seconds.
	HSTSMaxAge            time.Duration
	HSTSIncludeSubDomains bool
	HSTSPreload           bool

	CrossOriginOpenerPolicy   string
	CrossOriginResourcePolicy string
	ContentSecurityPolicy     string
	PermissionsPolicy         string
}

type headerField struct {
	name, value string
}

// SecurityHeadersMiddleware sets the configured security headers on every
// response and continues. Register it before the routes so that error
// pages carry the headers too.
//
// Strict-Transport-Security is only sent when the request arrived over TLS
// or a trusted proxy reported https, since browsers ignore it otherwise.
func SecurityHeadersMiddleware(cfg SecurityHeadersConfig) (mux.Handler, error) {
	var fields []headerField

	if !cfg.DisableContentTypeNosniff {
		fields = append(fields, headerField{"X-Content-Type-Options", "nosniff"})
	}

	if !cfg.DisableFrameOptions {
		switch opt := strings.ToUpper(cfg.FrameOption); opt {
		case "":
			fields = append(fields, headerField{"X-Frame-Options", "DENY"})
		case "DENY", "SAMEORIGIN":
			fields = append(fields, headerField{"X-Frame-Options", opt})
		default:
			return nil, ErrInvalidFrameOption
		}
	}

	referrer := cfg.ReferrerPolicy
	if referrer == "" {
		referrer = "strict-origin-when-cross-origin"
	}
	fields = append(fields, headerField{"Referrer-Policy", referrer})

	for _, f := range []headerField{
		{"Cross-Origin-Opener-Policy", cfg.CrossOriginOpenerPolicy},
		{"Cross-Origin-Resource-Policy", cfg.CrossOriginResourcePolicy},
		{"Content-Security-Policy", cfg.ContentSecurityPolicy},
		{"Permissions-Policy", cfg.PermissionsPolicy},
	} {
		if f.value != "" {
			fields = append(fields, f)
		}
	}

	hsts, err := hstsValue(cfg)
	if err != nil {
		return nil, err
	}

	return mux.HandlerFunc(func(c *mux.Context) mux.Result {
		h := c.Writer.Header()

		for _, f := range fields {
			h.Set(f.name, f.value)
		}

		if hsts != "" && isSecure(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		return mux.Next()
	}), nil
}

func hstsValue(cfg SecurityHeadersConfig) (string, error) {
	if cfg.HSTSMaxAge == 0 {
		return "", nil
	}

	if cfg.HSTSMaxAge < time.Second {
		return "", ErrInvalidHSTSMaxAge
	}

	v := "max-age=" + strconv.FormatInt(int64(cfg.HSTSMaxAge/time.Second), 10)
	if cfg.HSTSIncludeSubDomains {
		v += "; includeSubDomains"
	}
	if cfg.HSTSPreload {
		v += "; preload"
	}

	return v, nil
}

// isSecure reports whether r arrived over TLS, directly or as rewritten by
// ProxyHeadersMiddleware.
func isSecure(r *http.Request) bool {
	return r.TLS != nil || r.URL.Scheme == "https"
}
