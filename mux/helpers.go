package mux

import (
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/idna"
)

// cleanPath removes dot segments and repeated slashes from p and roots
// it. A trailing slash is kept.
func cleanPath(p string) string {
	trailing := strings.HasSuffix(p, "/")
	p = path.Clean("/" + p)
	if trailing && p != "/" {
		p += "/"
	}
	return p
}

// splitSegments splits a path view into decoded, trimmed segments.
// The root path has no segments.
func splitSegments(p string) []string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return nil
	}

	parts := strings.Split(p, "/")
	for i, s := range parts {
		s = strings.TrimSpace(s)
		if dec, err := url.PathUnescape(s); err == nil {
			s = dec
		}
		parts[i] = s
	}
	return parts
}

// requestHost returns the host a request was addressed to: the host of
// an absolute request URI, else the Host header, without the port.
func requestHost(r *http.Request) string {
	host := r.URL.Host
	if host == "" {
		host = r.Host
	}
	return normalizeHost(host)
}

// normalizeHost strips an optional port, lowercases the name and converts
// internationalized names to their ASCII form. Names that do not convert
// are only lowercased.
func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else if i := strings.LastIndexByte(host, ':'); i != -1 && !strings.Contains(host, "]") && strings.Count(host, ":") == 1 {
		host = host[:i]
	}
	host = strings.Trim(host, "[]")
	host = strings.ToLower(host)

	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return host
}

// mediaType returns the lowercased media type of a Content-Type value,
// without parameters.
func mediaType(v string) string {
	if i := strings.IndexByte(v, ';'); i != -1 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}
