package mux

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultMethods is the method set a route without an explicit method is
// registered under.
var DefaultMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodHead,
	http.MethodPut,
	http.MethodDelete,
	http.MethodOptions,
}

// Descriptor is one registered route: a matcher and the handlers it
// contributes when the matcher accepts the request path. Descriptors are
// immutable once registered.
type Descriptor struct {
	// Pattern is the source pattern; empty for patternless routes.
	Pattern string

	// Matcher tests the request path. It is Always for patternless routes.
	Matcher Matcher

	// Handlers is the flattened handler sequence.
	Handlers []Handler
}

// Patternless reports whether the descriptor contributes to every request
// of its method.
func (d *Descriptor) Patternless() bool {
	return d.Matcher == nil || d.Matcher == Always
}

type routeMap map[string][]*Descriptor

// table is a copy-on-write route table. Readers load the current snapshot
// without locking; writers serialize on mu and publish a new snapshot.
type table struct {
	mu   sync.Mutex
	snap atomic.Pointer[routeMap]
}

func (t *table) load() routeMap {
	if m := t.snap.Load(); m != nil {
		return *m
	}
	return nil
}

// add appends d under every method in methods.
func (t *table) add(methods []string, d *Descriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.load()
	next := make(routeMap, len(cur)+len(methods))
	for k, v := range cur {
		next[k] = v
	}

	for _, m := range methods {
		list := next[m]
		// Full slice expression forces a copy so published snapshots
		// never share a backing array with the new one.
		next[m] = append(list[:len(list):len(list)], d)
	}

	t.snap.Store(&next)
}

// methods returns the registered methods in sorted order.
func (t *table) methods() []string {
	cur := t.load()
	out := make([]string, 0, len(cur))
	for m := range cur {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// newDescriptor flattens handlers and builds a descriptor. It panics on an
// empty handler list: that is a setup mistake, not a request failure.
func newDescriptor(pattern string, m Matcher, handlers []Handler) *Descriptor {
	flat := Flatten(handlers...)
	if len(flat) == 0 {
		panic(fmt.Errorf("%w: %q", ErrNoHandlers, pattern))
	}
	if m == nil {
		m = Always
	}
	return &Descriptor{Pattern: pattern, Matcher: m, Handlers: flat}
}

// registerMethods returns the methods a descriptor is stored under.
// An empty method expands to DefaultMethods; GET is mirrored to HEAD.
func registerMethods(method string) []string {
	method = strings.ToUpper(strings.TrimSpace(method))
	switch method {
	case "":
		return DefaultMethods
	case http.MethodGet:
		return []string{http.MethodGet, http.MethodHead}
	}
	return []string{method}
}
