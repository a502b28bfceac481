package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitalvas/relay/config"
	"github.com/vitalvas/relay/internal/version"
	"github.com/vitalvas/relay/mux"
	"github.com/vitalvas/relay/muxhandlers"
	"github.com/vitalvas/relay/session"
	"github.com/vitalvas/relay/view"
	"go.uber.org/zap"
)

// assetCache lets browsers and proxies keep static assets for a day.
const assetCache = "public, max-age=86400"

// app is the demo site served by relayd.
type app struct {
	pipeline *mux.Pipeline
	handler  http.Handler
	registry *prometheus.Registry
	store    session.Store
	views    *view.Engine
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{registry: prometheus.NewRegistry()}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := newStore(cfg.Session)
	if err != nil {
		return nil, err
	}
	a.store = store

	if cfg.Views.Dir != "" {
		a.views, err = view.New(view.Config{Dir: cfg.Views.Dir, NoCache: cfg.Views.NoCache || cfg.Debug})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	a.pipeline, err = a.routes(ctx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	override, err := muxhandlers.MethodOverrideMiddleware(muxhandlers.MethodOverrideConfig{
		FormField: muxhandlers.DefaultMethodOverrideField,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.handler = mux.Apply(a.pipeline, override)

	return a, nil
}

func newStore(cfg config.SessionConfig) (session.Store, error) {
	switch cfg.Store {
	case config.StoreFile:
		return session.NewFileStore(session.FileConfig{Dir: cfg.Dir, TTL: cfg.TTL, Limit: cfg.Limit})
	case config.StoreMemory:
		return session.NewMemoryStore(session.MemoryConfig{TTL: cfg.TTL}), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) routes(ctx context.Context, cfg config.Config, logger *zap.Logger) (*mux.Pipeline, error) {
	root := mux.New(mux.WithLogger(logger), mux.WithDebug(cfg.Debug))

	var skip []string
	if cfg.Metrics.Enabled {
		skip = append(skip, cfg.Metrics.Path)
	}

	var steps []mux.Handler

	if len(cfg.HTTP.TrustedProxies) > 0 {
		proxy, err := muxhandlers.ProxyHeadersMiddleware(muxhandlers.ProxyHeadersConfig{TrustedProxies: cfg.HTTP.TrustedProxies})
		if err != nil {
			return nil, err
		}
		steps = append(steps, proxy)
	}

	server, err := muxhandlers.ServerMiddleware(muxhandlers.ServerConfig{
		HostnameEnv: []string{"POD_NAME", "HOSTNAME"},
		Product:     "relay/" + version.Version,
	})
	if err != nil {
		return nil, err
	}

	steps = append(steps,
		server,
		muxhandlers.RequestIDMiddleware(muxhandlers.RequestIDConfig{}),
		muxhandlers.AccessLogMiddleware(muxhandlers.AccessLogConfig{Logger: logger, SkipPaths: skip}),
		muxhandlers.TracingMiddleware(muxhandlers.TracingConfig{ResponseHeader: "X-Trace-Id"}),
	)

	if cfg.Metrics.Enabled {
		metrics, err := muxhandlers.MetricsMiddleware(muxhandlers.MetricsConfig{Registerer: a.registry, Namespace: "relay"})
		if err != nil {
			return nil, err
		}
		steps = append(steps, metrics)
	}

	responseTime, err := muxhandlers.ResponseTimeMiddleware(muxhandlers.ResponseTimeConfig{})
	if err != nil {
		return nil, err
	}

	security, err := muxhandlers.SecurityHeadersMiddleware(muxhandlers.SecurityHeadersConfig{})
	if err != nil {
		return nil, err
	}
	steps = append(steps, responseTime, security)

	if cfg.HTTP.RequestTimeout > 0 {
		timeout, err := muxhandlers.TimeoutMiddleware(muxhandlers.TimeoutConfig{Duration: cfg.HTTP.RequestTimeout})
		if err != nil {
			return nil, err
		}
		steps = append(steps, timeout)
	}

	if cfg.Limits.Rate > 0 {
		limit, err := muxhandlers.RateLimitMiddleware(ctx, muxhandlers.RateLimitConfig{Rate: cfg.Limits.Rate, Burst: cfg.Limits.Burst})
		if err != nil {
			return nil, err
		}
		steps = append(steps, limit)
	}

	compression, err := muxhandlers.CompressionMiddleware(muxhandlers.CompressionConfig{MinLength: 1024})
	if err != nil {
		return nil, err
	}
	cache, err := muxhandlers.CacheControlMiddleware(muxhandlers.CacheControlConfig{
		Rules: []muxhandlers.CacheControlRule{
			{Path: "/api/*", Value: "no-store"},
			{ContentType: "text/css", Value: assetCache},
			{ContentType: "text/javascript", Value: assetCache},
			{ContentType: "image/", Value: assetCache},
			{ContentType: "font/", Value: assetCache},
		},
		Default:    muxhandlers.CacheControlRule{Value: "no-cache"},
		ErrorValue: "no-store",
	})
	if err != nil {
		return nil, err
	}
	steps = append(steps, compression, cache)

	if cfg.Static.Favicon != "" {
		favicon, err := muxhandlers.FaviconMiddleware(muxhandlers.FaviconConfig{
			FS:   os.DirFS(filepath.Dir(cfg.Static.Favicon)),
			Name: filepath.Base(cfg.Static.Favicon),
		})
		if err != nil {
			return nil, err
		}
		steps = append(steps, favicon)
	}

	if cfg.Static.Dir != "" {
		static, err := muxhandlers.StaticFilesMiddleware(muxhandlers.StaticFilesConfig{FS: os.DirFS(cfg.Static.Dir)})
		if err != nil {
			return nil, err
		}
		steps = append(steps, static)
	}

	root.Use(steps...)

	if cfg.Metrics.Enabled {
		root.Get(cfg.Metrics.Path, mux.Wrap(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})))
	}

	sessions, err := session.Handler(a.store, session.Config{
		CookieName: cfg.Session.CookieName,
		MaxAge:     cfg.Session.TTL,
		Secure:     cfg.Session.Secure,
	})
	if err != nil {
		return nil, err
	}

	pages := mux.Chain{sessions}
	if a.views != nil {
		pages = append(pages, view.Middleware(a.views, map[string]any{"Version": version.Version}))
	}

	root.Get("/", pages, mux.HandlerFunc(a.home))
	root.Post("/logout", pages, mux.HandlerFunc(logout))
	root.Delete("/session", pages, mux.HandlerFunc(logout))

	if len(cfg.Admin.Users) > 0 {
		auth, err := muxhandlers.BasicAuthMiddleware(muxhandlers.BasicAuthConfig{
			Realm:       "relay admin",
			Credentials: cfg.Admin.Users,
		})
		if err != nil {
			return nil, err
		}

		root.Route("", "/admin/*", auth)
		root.Get("/admin/routes", mux.HandlerFunc(func(c *mux.Context) mux.Result {
			var buf bytes.Buffer
			if err := printRoutes(&buf, root); err != nil {
				return mux.Fail(err)
			}
			return c.Text(http.StatusOK, buf.String())
		}))

		// The guard above matches every admin path, so the area needs its
		// own terminal.
		root.Route("", "/admin/*", mux.HandlerFunc(func(c *mux.Context) mux.Result {
			return c.Error(http.StatusNotFound)
		}))
	}

	api, err := apiPipeline(cfg.Limits)
	if err != nil {
		return nil, err
	}
	if err := root.Mount("/api", api); err != nil {
		return nil, err
	}

	root.Use(muxhandlers.RecoveryMiddleware(muxhandlers.RecoveryConfig{Stack: cfg.Debug}))

	return root, nil
}

func apiPipeline(limits config.LimitsConfig) (*mux.Pipeline, error) {
	api := mux.New()

	if limits.Throttle > 0 {
		throttle, err := muxhandlers.ThrottleMiddleware(muxhandlers.ThrottleConfig{Rate: limits.Throttle})
		if err != nil {
			return nil, err
		}
		api.Use(throttle)
	}

	cors, err := muxhandlers.CORSMiddleware(api, muxhandlers.CORSConfig{AllowedOrigins: []string{"*"}})
	if err != nil {
		return nil, err
	}

	jsonOnly, err := muxhandlers.ContentTypeCheckMiddleware(muxhandlers.ContentTypeCheckConfig{AllowedTypes: []string{"application/json"}})
	if err != nil {
		return nil, err
	}

	body, err := muxhandlers.BodyParserMiddleware(muxhandlers.BodyParserConfig{})
	if err != nil {
		return nil, err
	}

	api.Use(cors)

	api.Get("/health", mux.HandlerFunc(func(c *mux.Context) mux.Result {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}))
	api.Get("/version", mux.HandlerFunc(func(c *mux.Context) mux.Result {
		return c.JSON(http.StatusOK, version.Get())
	}))
	api.Get("/hello/:name", mux.HandlerFunc(func(c *mux.Context) mux.Result {
		return c.JSON(http.StatusOK, map[string]string{"hello": c.Param("name")})
	}))
	api.Post("/echo", jsonOnly, body, mux.HandlerFunc(func(c *mux.Context) mux.Result {
		data := muxhandlers.Body(c)
		if data == nil {
			return mux.Fail(mux.NewStatusError(http.StatusBadRequest, errors.New("empty body")))
		}
		return c.JSON(http.StatusOK, data)
	}))

	return api, nil
}

func (a *app) home(c *mux.Context) mux.Result {
	s := session.FromContext(c)

	visits, _ := s.Get("visits")
	n := toInt(visits) + 1
	s.Set("visits", n)

	if v := view.FromContext(c); v != nil {
		return v.Render(c, "index", map[string]any{"Visits": n})
	}

	return c.Text(http.StatusOK, fmt.Sprintf("visits: %d\n", n))
}

func logout(c *mux.Context) mux.Result {
	session.FromContext(c).Destroy()
	return c.Redirect("/")
}

// toInt reads a counter that may have passed through a JSON store.
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
