package muxhandlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/vitalvas/relay/mux"
	"go.uber.org/zap"
)

var (
	// ErrInvalidServerTimeout is returned when an HTTPServerConfig timeout
	// is negative.
	ErrInvalidServerTimeout = errors.New("server: timeouts must not be negative")

	// ErrInvalidProduct is returned when ServerConfig.Product holds
	// characters that cannot go into a Server header.
	ErrInvalidProduct = errors.New("server: invalid product token")
)

// DefaultHostnameHeader carries the instance name.
const DefaultHostnameHeader = "X-Server-Hostname"

// ServerConfig configures ServerMiddleware.
type ServerConfig struct {
	// Hostname names the instance. When empty the first non-empty
	// variable in HostnameEnv is used, then os.Hostname.
	Hostname    string
	HostnameEnv []string

	// Header receives the hostname, DefaultHostnameHeader by default.
	Header string

	// Product, such as "relay/1.4.0", is sent as the Server header when
	// set.
	Product string
}

// ServerMiddleware tags every response with the instance that served it.
// Names are resolved once, when the step is built. The headers are set
// before the rest of the chain runs, so error pages carry them too.
func ServerMiddleware(cfg ServerConfig) (mux.Handler, error) {
	hostname, err := resolveHostname(cfg.Hostname, cfg.HostnameEnv)
	if err != nil {
		return nil, err
	}

	for i := 0; i < len(cfg.Product); i++ {
		if ch := cfg.Product[i]; ch < ' ' || ch > '~' {
			return nil, fmt.Errorf("%w: %q", ErrInvalidProduct, cfg.Product)
		}
	}

	header := http.CanonicalHeaderKey(cfg.Header)
	if header == "" {
		header = DefaultHostnameHeader
	}

	product := cfg.Product

	return mux.HandlerFunc(func(c *mux.Context) mux.Result {
		h := c.Writer.Header()
		h.Set(header, hostname)
		if product != "" {
			h.Set("Server", product)
		}
		return mux.Next()
	}), nil
}

func resolveHostname(name string, env []string) (string, error) {
	if name != "" {
		return name, nil
	}

	for _, key := range env {
		if v := os.Getenv(key); v != "" {
			return v, nil
		}
	}

	name, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("server: hostname: %w", err)
	}
	return name, nil
}

// HTTPServerConfig configures the *http.Server built by NewServer. Zero
// timeouts take the package defaults.
type HTTPServerConfig struct {
	Addr              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// Logger receives the server's own errors, such as failed TLS
	// handshakes. Defaults to a no-op logger.
	Logger *zap.Logger
}

const (
	defaultReadTimeout       = 30 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
)

// NewServer returns an *http.Server for h with bounded timeouts and its
// error log routed through zap.
func NewServer(cfg HTTPServerConfig, h http.Handler) (*http.Server, error) {
	timeouts := []*time.Duration{&cfg.ReadTimeout, &cfg.ReadHeaderTimeout, &cfg.WriteTimeout, &cfg.IdleTimeout}
	defaults := []time.Duration{defaultReadTimeout, defaultReadHeaderTimeout, defaultWriteTimeout, defaultIdleTimeout}

	for i, d := range timeouts {
		switch {
		case *d < 0:
			return nil, ErrInvalidServerTimeout
		case *d == 0:
			*d = defaults[i]
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}, nil
}
