package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vitalvas/relay/mux"
	"go.uber.org/zap"
)

// ErrNoStore is returned by Handler when the store is nil.
var ErrNoStore = errors.New("session: store is required")

// DefaultCookieName is the cookie carrying the session id.
const DefaultCookieName = "sid"

// sessionKey is the Context value key holding the *Session.
const sessionKey = "session"

// Config configures the session Handler.
type Config struct {
	// CookieName defaults to DefaultCookieName.
	CookieName string

	// Path and Domain scope the cookie. Path defaults to "/".
	Path   string
	Domain string

	// MaxAge is the cookie lifetime, renewed on every response. It should
	// match the store TTL. Defaults to DefaultTTL.
	MaxAge time.Duration

	// Secure restricts the cookie to HTTPS.
	Secure bool

	// SameSite defaults to http.SameSiteLaxMode.
	SameSite http.SameSite
}

type handler struct {
	store Store
	cfg   Config
	locks KeyedMutex
}

// Handler returns a step that attaches a *Session to every request.
//
// The id comes from the session cookie. A missing, malformed or unknown
// id starts a new session under a fresh id; client-chosen ids are never
// adopted. The per-id lock is held while the rest of the chain runs, then
// the session is saved (or deleted, after Destroy) and the lock released.
// The cookie is written with the response header.
func Handler(store Store, cfg Config) (mux.Handler, error) {
	if store == nil {
		return nil, ErrNoStore
	}

	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultTTL
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteLaxMode
	}

	h := &handler{store: store, cfg: cfg}

	return mux.HandlerFunc(h.serve), nil
}

// FromContext returns the session of the request, or nil when no session
// Handler ran.
func FromContext(c *mux.Context) *Session {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}

	s, _ := v.(*Session)
	return s
}

func (h *handler) serve(c *mux.Context) mux.Result {
	// Already attached by an earlier step of this request, which holds
	// the lock and saves on return.
	if FromContext(c) != nil {
		return mux.Next()
	}

	ctx := c.Request.Context()

	s, unlock, err := h.open(ctx, c.Cookie(h.cfg.CookieName))
	if err != nil {
		return mux.Fail(err)
	}
	defer unlock()

	c.Set(sessionKey, s)
	c.Writer = &cookieWriter{ResponseWriter: c.Writer, write: func(w http.ResponseWriter) {
		http.SetCookie(w, h.cookie(s))
	}}

	res := c.Next()

	if err := h.finish(context.WithoutCancel(ctx), s); err != nil {
		if !c.Written() && res.Err() == nil && !res.IsPass() {
			return mux.Fail(err)
		}

		c.Logger().Error("session not stored", zap.Error(err), zap.String("method", c.Request.Method), zap.String("path", c.Request.URL.Path))
	}

	return res
}

// open loads the session named by cookie under its lock, or creates a new
// one.
func (h *handler) open(ctx context.Context, cookie string) (*Session, func(), error) {
	if ValidID(cookie) {
		unlock, err := h.locks.LockContext(ctx, cookie)
		if err != nil {
			return nil, nil, mux.NewStatusError(http.StatusServiceUnavailable, err)
		}

		values, err := h.store.Load(ctx, cookie)
		if err == nil {
			return newSession(cookie, values, false), unlock, nil
		}

		unlock()

		if !errors.Is(err, ErrNotFound) {
			return nil, nil, fmt.Errorf("session: load: %w", err)
		}
	}

	id := NewID()

	unlock, err := h.locks.LockContext(ctx, id)
	if err != nil {
		return nil, nil, mux.NewStatusError(http.StatusServiceUnavailable, err)
	}

	return newSession(id, nil, true), unlock, nil
}

func (h *handler) finish(ctx context.Context, s *Session) error {
	if s.destroyed {
		return h.store.Delete(ctx, s.id)
	}

	if s.modified || s.isNew {
		return h.store.Save(ctx, s.id, s.values)
	}

	err := h.store.Touch(ctx, s.id)
	if errors.Is(err, ErrNotFound) {
		return h.store.Save(ctx, s.id, s.values)
	}

	return err
}

func (h *handler) cookie(s *Session) *http.Cookie {
	ck := &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    s.id,
		Path:     h.cfg.Path,
		Domain:   h.cfg.Domain,
		MaxAge:   int(h.cfg.MaxAge / time.Second),
		Secure:   h.cfg.Secure,
		HttpOnly: true,
		SameSite: h.cfg.SameSite,
	}

	if s.destroyed {
		ck.Value = ""
		ck.MaxAge = -1
		ck.Expires = time.Unix(0, 0)
	}

	return ck
}

// cookieWriter adds the session cookie when the response header is
// written. It stays installed after the chain returns, so error pages
// written by the pipeline carry the cookie too.
type cookieWriter struct {
	http.ResponseWriter
	write       func(w http.ResponseWriter)
	wroteHeader bool
}

func (cw *cookieWriter) WriteHeader(code int) {
	if !cw.wroteHeader {
		cw.wroteHeader = true
		cw.write(cw.ResponseWriter)
	}

	cw.ResponseWriter.WriteHeader(code)
}

func (cw *cookieWriter) Write(b []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}

	return cw.ResponseWriter.Write(b)
}

func (cw *cookieWriter) Flush() {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}

	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for middleware compatibility.
func (cw *cookieWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}
