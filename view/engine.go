// Package view renders html/template pages with layout inheritance.
//
// A template names its layout in a comment on any line:
//
//	{{/* inherits layout.html */}}
//	<h1>{{.Title}}</h1>
//
// Rendering executes the template, then its layout with the output bound
// to .Body, and so on up the chain. Every template can include another
// through the partial function:
//
//	{{partial "nav.html" .}}
package view

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"maps"
	"os"
	"path"
	"regexp"
	"sync"
)

var (
	// ErrNoTemplates is returned by New when neither FS nor Dir is set.
	ErrNoTemplates = errors.New("view: template source is required")

	// ErrInheritanceDepth is returned when a layout chain is deeper than
	// MaxDepth, which is what an inheritance cycle produces.
	ErrInheritanceDepth = errors.New("view: layout chain too deep")
)

// MaxDepth bounds the layout chain of one render.
const MaxDepth = 16

// BodyKey is the data key holding the output of the inner template when a
// layout is executed.
const BodyKey = "Body"

var inheritsDecl = regexp.MustCompile(`\{\{-?\s*/\*\s*inherits\s+(\S+?)\s*\*/\s*-?\}\}`)

// Config configures an Engine.
type Config struct {
	// FS holds the templates. Dir is used when FS is nil.
	FS  fs.FS
	Dir string

	// Ext is appended to names without an extension. Defaults to ".html".
	Ext string

	// Funcs are added to every template, next to partial.
	Funcs template.FuncMap

	// NoCache re-reads templates on every render. Useful in development.
	NoCache bool
}

type compiled struct {
	tmpl    *template.Template
	parents []string
}

// Engine loads, caches and executes templates. It is safe for concurrent
// use.
type Engine struct {
	fsys    fs.FS
	ext     string
	funcs   template.FuncMap
	noCache bool

	mu    sync.RWMutex
	cache map[string]*compiled
}

// New returns an Engine reading templates from cfg.FS or cfg.Dir.
func New(cfg Config) (*Engine, error) {
	fsys := cfg.FS
	if fsys == nil {
		if cfg.Dir == "" {
			return nil, ErrNoTemplates
		}
		fsys = os.DirFS(cfg.Dir)
	}

	ext := cfg.Ext
	if ext == "" {
		ext = ".html"
	}

	e := &Engine{
		fsys:    fsys,
		ext:     ext,
		noCache: cfg.NoCache,
		cache:   make(map[string]*compiled),
	}

	e.funcs = template.FuncMap{}
	maps.Copy(e.funcs, cfg.Funcs)
	e.funcs["partial"] = e.partial

	return e, nil
}

// Render executes name and its layouts with data and writes the result to
// w. Nothing is written when rendering fails.
func (e *Engine) Render(w io.Writer, name string, data map[string]any) error {
	out, err := e.Show(name, data)
	if err != nil {
		return err
	}

	_, err = io.WriteString(w, string(out))
	return err
}

// Show executes name and its layouts with a copy of data and returns the
// output.
func (e *Engine) Show(name string, data map[string]any) (template.HTML, error) {
	locals := make(map[string]any, len(data)+1)
	maps.Copy(locals, data)

	return e.execute(name, locals, 0)
}

// Reset drops the template cache.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	clear(e.cache)
}

func (e *Engine) execute(name string, data map[string]any, depth int) (template.HTML, error) {
	if depth > MaxDepth {
		return "", fmt.Errorf("%w: %s", ErrInheritanceDepth, name)
	}

	t, err := e.lookup(name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("view: execute %s: %w", name, err)
	}

	out := template.HTML(buf.String()) //nolint:gosec // output of html/template is already escaped

	for i := len(t.parents) - 1; i >= 0; i-- {
		data[BodyKey] = out

		out, err = e.execute(t.parents[i], data, depth+1)
		if err != nil {
			return "", err
		}
	}

	return out, nil
}

// partial is the template function rendering another template. data may
// be the map of the calling template or nil.
func (e *Engine) partial(name string, data ...any) (template.HTML, error) {
	locals := map[string]any{}
	if len(data) > 0 {
		if m, ok := data[0].(map[string]any); ok {
			maps.Copy(locals, m)
		}
	}

	return e.execute(name, locals, 0)
}

func (e *Engine) lookup(name string) (*compiled, error) {
	name = e.normalize(name)

	if !e.noCache {
		e.mu.RLock()
		t, ok := e.cache[name]
		e.mu.RUnlock()

		if ok {
			return t, nil
		}
	}

	t, err := e.compile(name)
	if err != nil {
		return nil, err
	}

	if !e.noCache {
		e.mu.Lock()
		e.cache[name] = t
		e.mu.Unlock()
	}

	return t, nil
}

func (e *Engine) compile(name string) (*compiled, error) {
	src, err := fs.ReadFile(e.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("view: load %s: %w", name, err)
	}

	var parents []string
	for _, m := range inheritsDecl.FindAllSubmatch(src, -1) {
		parents = append(parents, string(m[1]))
	}

	tmpl, err := template.New(name).Funcs(e.funcs).Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("view: parse %s: %w", name, err)
	}

	return &compiled{tmpl: tmpl, parents: parents}, nil
}

func (e *Engine) normalize(name string) string {
	name = path.Clean("/" + name)[1:]
	if path.Ext(name) == "" {
		name += e.ext
	}

	return name
}
