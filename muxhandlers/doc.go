// Package muxhandlers provides chain steps for mux pipelines.
//
// Every step is built from a config value. Constructors that can reject
// their config return (mux.Handler, error); the others return the
// mux.Handler alone. A step either answers the request, continues with
// mux.Next, or wraps the rest of the chain through Context.Next.
//
// Ordering matters. A typical pipeline registers, in this order:
//
//	p := mux.New(mux.WithLogger(logger))
//	p.Use(proxyHeaders)                // rewrites RemoteAddr, Host, scheme
//	p.Use(muxhandlers.RequestIDMiddleware(muxhandlers.RequestIDConfig{}))
//	p.Use(muxhandlers.AccessLogMiddleware(muxhandlers.AccessLogConfig{}))
//	p.Use(metrics, tracing)
//	p.Use(securityHeaders, compression)
//	p.Get("/users/:id", showUser)
//	p.Use(muxhandlers.RecoveryMiddleware(muxhandlers.RecoveryConfig{}))
//
// RecoveryMiddleware is an error handler; it resolves only errors raised
// by steps registered before it.
//
// # Cross-origin requests
//
// CORSMiddleware needs the pipeline it is registered on: unless
// AllowedMethods is set, preflights advertise the methods that pipeline
// routes for the requested path. Register it with Use so it also runs for
// OPTIONS requests no route accepts.
//
//	cors, err := muxhandlers.CORSMiddleware(p, muxhandlers.CORSConfig{
//	    AllowedOrigins:   []string{"https://app.example.com", "https://*.example.org"},
//	    AllowCredentials: true,
//	    MaxAge:           10 * time.Minute,
//	})
//	if err != nil {
//	    return err
//	}
//	p.Use(cors)
//
// # Guarding part of a pipeline
//
// A step registered on a pattern guards only the routes it matches:
//
//	auth, _ := muxhandlers.BasicAuthMiddleware(muxhandlers.BasicAuthConfig{
//	    Realm:       "ops",
//	    Credentials: map[string]string{"ops": os.Getenv("OPS_PASSWORD")},
//	})
//	p.Route("", "/admin/*", auth)
//	p.Get("/admin/stats", stats)
//
// # Proxy Headers Middleware
//
// ProxyHeadersMiddleware trusts forwarding headers only from configured
// proxies (DefaultTrustedProxies when none are given). The client address
// is the first untrusted hop of X-Forwarded-For counted from the right,
// falling back to X-Real-IP and, with EnableForwarded, RFC 7239 Forwarded.
// The resolved Forwarding is available through ForwardingFrom, and
// ClientIP gives every later step the same view of the client.
//
// # Observability
//
// AccessLogMiddleware, MetricsMiddleware and TracingMiddleware wrap the
// rest of the chain and report its outcome. When the chain leaves the
// response unwritten they report the status the pipeline will answer
// with, and label requests with the matched route pattern rather than
// the raw path.
//
// # Method Override
//
// MethodOverrideMiddleware changes the request method before routing, so
// it wraps the pipeline instead of being registered on it:
//
//	override, _ := muxhandlers.MethodOverrideMiddleware(muxhandlers.MethodOverrideConfig{
//	    FormField: muxhandlers.DefaultMethodOverrideField,
//	})
//	srv.Handler = mux.Apply(p, override)
package muxhandlers
