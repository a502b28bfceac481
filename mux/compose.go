package mux

import (
	"fmt"
	"strings"
)

// Mount embeds child under prefix. A single route "prefix*" is registered
// on every default method; for requests at or below the prefix it strips
// the prefix from the path view and dispatches child.
//
// The child answers its own 404 and 405. When the child passes or runs out
// of steps, the parent continues with its next route and the path view is
// restored. An error the child does not resolve continues on the parent's
// error path. A child without its own address reports the parent's.
func (p *Pipeline) Mount(prefix string, child *Pipeline) error {
	prefix = normalizePrefix(prefix)

	if err := child.adopt(p, prefix); err != nil {
		return err
	}

	m := prefixMatcher{prefix: prefix}
	p.HandleMatcher("", m.String(), m, HandlerFunc(func(c *Context) Result {
		rest := c.path
		if prefix != "/" {
			rest = strings.TrimPrefix(c.path, prefix)
		}
		if rest == "" || rest[0] != '/' {
			rest = "/" + rest
		}

		path, base := c.path, c.base
		c.path = rest
		if prefix != "/" {
			c.base = base + prefix
		}

		out := child.dispatch(c)

		if out.kind == kindNext || out.kind == kindPass {
			c.path, c.base = path, base
			return Result{kind: kindNext, err: out.err}
		}
		return out
	}))

	return nil
}

// MustMount is like Mount but panics on error.
func (p *Pipeline) MustMount(prefix string, child *Pipeline) *Pipeline {
	if err := p.Mount(prefix, child); err != nil {
		panic(err)
	}
	return p
}

// VHost embeds child for requests whose host starts with host. The
// comparison ignores the port and case, and uses the ASCII form of
// internationalized names. Requests for other hosts continue with the
// parent's next route.
func (p *Pipeline) VHost(host string, child *Pipeline) error {
	want := normalizeHost(host)
	if want == "" {
		return fmt.Errorf("mux: vhost: empty host")
	}

	if err := child.adopt(p, ""); err != nil {
		return err
	}

	p.HandleMatcher("", "", Always, HandlerFunc(func(c *Context) Result {
		if !strings.HasPrefix(c.Host(), want) {
			return Next()
		}

		out := child.dispatch(c)

		if out.kind == kindPass {
			return Next()
		}
		return out
	}))

	return nil
}

// MustVHost is like VHost but panics on error.
func (p *Pipeline) MustVHost(host string, child *Pipeline) *Pipeline {
	if err := p.VHost(host, child); err != nil {
		panic(err)
	}
	return p
}

// adopt records parent as the parent of p. It refuses a second parent
// and any arrangement in which p would become its own ancestor.
func (p *Pipeline) adopt(parent *Pipeline, prefix string) error {
	for a := parent; a != nil; a = a.Parent() {
		if a == p {
			return fmt.Errorf("%w: pipeline is an ancestor of its mount point", ErrMountCycle)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.parent != nil {
		return ErrAlreadyMounted
	}

	p.parent = parent
	p.mountAt = strings.TrimSuffix(prefix, "/")

	return nil
}

// normalizePrefix trims slashes and returns the prefix rooted at "/".
func normalizePrefix(prefix string) string {
	return "/" + strings.Trim(prefix, "/")
}
