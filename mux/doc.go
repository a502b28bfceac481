// Package mux implements a routing and middleware dispatch engine in which
// every matching route contributes handlers to a request.
//
// The package implements routing semantics based on:
//   - RFC 9110 (HTTP Semantics, successor to RFC 7231)
//   - RFC 3986 (URIs)
//   - RFC 6265 (HTTP State Management)
//
// # Pipeline
//
// A Pipeline holds a route table per method and serves HTTP:
//
//	p := mux.New(mux.WithLogger(logger))
//	p.Use(requestLog)
//	p.Get("/users/:id", loadUser, showUser)
//	http.ListenAndServe(":8080", p)
//
// Unlike first-match routers, every route whose pattern accepts the path
// contributes its handlers, in registration order. Routes registered
// without a pattern (Use) contribute to every request of their methods.
// A route registered without a method is stored under GET, POST, HEAD,
// PUT, DELETE and OPTIONS; a GET route is also reachable through HEAD.
//
// A request whose method has no routes at all is answered with 405 and an
// Allow header; a request to which no route contributed is answered 404.
//
// # Patterns
//
// Patterns are literal paths with a few special forms:
//
//	/users/:id          :id captures one segment
//	/files/*            * matches the remainder, lazily
//	/posts[/:page]      [...] is optional
//	/report.:format     dots are literal
//
// Other regular expression syntax passes through, so "/v(1|2)/x" works.
// Captured values are URL-decoded. A pre-built Matcher can be registered
// with HandleMatcher; Regexp adapts a *regexp.Regexp.
//
// # Handlers and results
//
// A chain step is a HandlerFunc or an ErrorHandlerFunc; Chain groups
// steps. Every step returns a Result:
//
//	Next()     continue with the next step
//	Fail(err)  continue with err pending; only error handlers run
//	Done()     the response was produced
//	Halt(err)  finalize now, optionally with the error page for err
//	Pass()     let the enclosing pipeline try its next route
//
// A step may call Context.Next to run the rest of the chain and act
// afterwards:
//
//	func timing(c *mux.Context) mux.Result {
//		start := time.Now()
//		res := c.Next()
//		log.Println(time.Since(start))
//		return res
//	}
//
// Panics inside steps become pending errors. An error nobody resolves is
// logged and answered with 500 (or the code of a StatusError) by the
// outermost pipeline. A chain that runs out of steps without answering is
// a setup mistake and is answered with 500 as well.
//
// # Composition
//
// Mount embeds a pipeline under a path prefix, VHost by host name:
//
//	api := mux.New()
//	api.Get("/", index)
//	root.MustMount("/api", api)        // GET /api/ reaches index
//	root.MustVHost("admin.", admin)    // Host: admin.example.com
//
// Inside a mounted pipeline the path view has the prefix stripped and
// Redirect resolves relative targets against the mount point.
//
// # Context
//
// Context exposes the request (params, query, cookies, host, content
// negotiation) and response helpers: Serve, JSON, XML, Text, Error,
// Redirect, SendFile, Attach, ETag and Modified. Plain net/http handlers
// and middleware are adapted with Wrap and WrapMiddleware.
package mux
