package muxhandlers

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/vitalvas/relay/mux"
)

// ErrInvalidProxy is returned when a TrustedProxies entry is neither an
// address nor a prefix.
var ErrInvalidProxy = errors.New("proxy headers: invalid proxy entry")

// DefaultTrustedProxies are the loopback, RFC 1918, RFC 6598 and RFC 4193
// ranges trusted when ProxyHeadersConfig.TrustedProxies is empty.
var DefaultTrustedProxies = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10",
	"::1/128",
	"fc00::/7",
}

const forwardingKey = "proxy.forwarding"

// forwardingHeaders are removed from requests of untrusted peers when
// ProxyHeadersConfig.StripUntrusted is set.
var forwardingHeaders = []string{
	"Forwarded",
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
	"X-Forwarded-Scheme",
	"X-Real-IP",
}

// ProxyHeadersConfig configures ProxyHeadersMiddleware.
type ProxyHeadersConfig struct {
	// TrustedProxies lists addresses and prefixes ("10.0.0.1",
	// "192.168.0.0/16", "fd00::/8") whose forwarding headers are honoured.
	TrustedProxies []string

	// EnableForwarded falls back to the RFC 7239 Forwarded header after
	// the X-Forwarded-* family and X-Real-IP.
	EnableForwarded bool

	// StripUntrusted deletes forwarding headers sent by untrusted peers so
	// later steps cannot read them by accident.
	StripUntrusted bool
}

// Forwarding is what ProxyHeadersMiddleware resolved for one request.
type Forwarding struct {
	// Peer is the address of the proxy that connected to us.
	Peer netip.Addr
	// Client is the first untrusted hop of the forwarding chain.
	Client netip.Addr
	Proto  string
	Host   string
	// By is the Forwarded by= identifier, if any.
	By string
}

type trustSet []netip.Prefix

func (ts trustSet) contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range ts {
		if p.Contains(addr) {
			return true
		}
	}

	return false
}

// ProxyHeadersMiddleware rewrites the request from forwarding headers when
// the peer is a trusted proxy, records a Forwarding on the context and
// continues. Register it first: Context.Host, virtual hosts, ClientIP and
// the rate limiter all read the rewritten request.
//
// The client is found by walking X-Forwarded-For from the right and
// skipping trusted hops, so a client cannot spoof its address by prepending
// entries. X-Real-IP and then Forwarded for= are used when X-Forwarded-For
// is absent. The scheme comes from X-Forwarded-Proto or X-Forwarded-Scheme
// and the host from X-Forwarded-Host, each with Forwarded as the fallback.
func ProxyHeadersMiddleware(cfg ProxyHeadersConfig) (mux.Handler, error) {
	entries := cfg.TrustedProxies
	if len(entries) == 0 {
		entries = DefaultTrustedProxies
	}

	trusted, err := parseTrustSet(entries)
	if err != nil {
		return nil, err
	}

	return mux.HandlerFunc(func(c *mux.Context) mux.Result {
		r := c.Request

		peer, ok := remoteAddr(r.RemoteAddr)
		if !ok || !trusted.contains(peer) {
			if cfg.StripUntrusted {
				for _, h := range forwardingHeaders {
					r.Header.Del(h)
				}
			}
			return mux.Next()
		}

		var fwd forwardedElement
		if cfg.EnableForwarded {
			fwd = parseForwarded(r.Header.Get("Forwarded"), trusted)
		}

		f := Forwarding{Peer: peer, Client: peer, By: fwd.by}

		switch {
		case r.Header.Get("X-Forwarded-For") != "":
			if addr, ok := chainClient(r.Header.Values("X-Forwarded-For"), trusted); ok {
				f.Client = addr
			}
		case r.Header.Get("X-Real-IP") != "":
			if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
				f.Client = addr
			}
		case fwd.client.IsValid():
			f.Client = fwd.client
		}

		f.Proto = forwardedProto(r.Header.Get("X-Forwarded-Proto"), r.Header.Get("X-Forwarded-Scheme"), fwd.proto)

		f.Host = r.Header.Get("X-Forwarded-Host")
		if f.Host == "" {
			f.Host = fwd.host
		}

		if f.Client != peer {
			r.RemoteAddr = f.Client.Unmap().String()
		}
		if f.Proto != "" {
			u := *r.URL
			u.Scheme = f.Proto
			r.URL = &u
		}
		if f.Host != "" {
			r.Host = f.Host
		}
		if f.By != "" {
			r.Header.Set("X-Forwarded-By", f.By)
		}

		c.Set(forwardingKey, f)
		return mux.Next()
	}), nil
}

// ForwardingFrom returns the Forwarding recorded for a request relayed by a
// trusted proxy.
func ForwardingFrom(c *mux.Context) (Forwarding, bool) {
	v, ok := c.Get(forwardingKey)
	if !ok {
		return Forwarding{}, false
	}

	f, ok := v.(Forwarding)
	return f, ok
}

// ClientIP returns the client address: the forwarded client when
// ProxyHeadersMiddleware resolved one, otherwise the host part of
// RemoteAddr.
func ClientIP(c *mux.Context) string {
	if f, ok := ForwardingFrom(c); ok {
		return f.Client.Unmap().String()
	}

	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}

	return host
}

func parseTrustSet(entries []string) (trustSet, error) {
	ts := make(trustSet, 0, len(entries))

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)

		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, entry)
			}
			ts = append(ts, p.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, entry)
		}
		addr = addr.Unmap()
		ts = append(ts, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return ts, nil
}

// remoteAddr parses "host:port" or a bare address.
func remoteAddr(s string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr(), true
	}

	addr, err := netip.ParseAddr(strings.Trim(s, "[]"))
	return addr, err == nil
}

// chainClient walks the X-Forwarded-For hops from the nearest one and
// returns the first untrusted address. When every hop is trusted the
// farthest one is the client. A malformed hop ends the walk: hops beyond it
// cannot be attributed.
func chainClient(values []string, trusted trustSet) (netip.Addr, bool) {
	var hops []string
	for _, v := range values {
		hops = append(hops, strings.Split(v, ",")...)
	}

	var last netip.Addr
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}

		last = addr
		if !trusted.contains(addr) {
			return addr, true
		}
	}

	return last, last.IsValid()
}

func forwardedProto(values ...string) string {
	for _, v := range values {
		if v == "" {
			continue
		}

		switch proto := strings.ToLower(strings.TrimSpace(v)); proto {
		case "http", "https":
			return proto
		default:
			return ""
		}
	}

	return ""
}

// forwardedElement is the RFC 7239 element describing the client side of
// the chain.
type forwardedElement struct {
	client netip.Addr
	proto  string
	host   string
	by     string
}

// parseForwarded walks the Forwarded elements from the nearest proxy and
// returns the first one whose for= is not trusted, or the farthest element
// when all of them are.
func parseForwarded(header string, trusted trustSet) forwardedElement {
	if header == "" {
		return forwardedElement{}
	}

	elements := strings.Split(header, ",")

	var picked forwardedElement
	for i := len(elements) - 1; i >= 0; i-- {
		el := parseForwardedElement(elements[i])
		if !el.client.IsValid() {
			if i == len(elements)-1 {
				picked = el
			}
			break
		}

		picked = el
		if !trusted.contains(el.client) {
			break
		}
	}

	return picked
}

func parseForwardedElement(s string) forwardedElement {
	var el forwardedElement

	for pair := range strings.SplitSeq(s, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}

		val = strings.Trim(strings.TrimSpace(val), `"`)

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "for":
			el.client = forwardedNode(val)
		case "proto":
			el.proto = forwardedProto(val)
		case "host":
			el.host = val
		case "by":
			el.by = val
		}
	}

	return el
}

// forwardedNode parses a for= node: "192.0.2.60", "[2001:db8::1]",
// "[2001:db8::1]:4711". Obfuscated nodes ("_hidden", "unknown") yield the
// zero Addr.
func forwardedNode(val string) netip.Addr {
	if ap, err := netip.ParseAddrPort(val); err == nil {
		return ap.Addr()
	}

	addr, err := netip.ParseAddr(strings.TrimSuffix(strings.TrimPrefix(val, "["), "]"))
	if err != nil {
		return netip.Addr{}
	}

	return addr
}
