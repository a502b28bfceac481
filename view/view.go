package view

import (
	"bytes"
	"fmt"
	"html/template"
	"maps"
	"slices"

	"github.com/vitalvas/relay/mux"
)

const viewKey = "view"

// View is the per-request rendering state: locals shared by every render
// and layouts wrapped around the rendered template.
type View struct {
	engine  *Engine
	locals  map[string]any
	layouts []string
}

// NewView returns an empty View rendering through e.
func NewView(e *Engine) *View {
	return &View{engine: e, locals: map[string]any{}}
}

// Local sets a value visible to every template rendered through v. A nil
// value removes the key.
func (v *View) Local(key string, value any) *View {
	if value == nil {
		delete(v.locals, key)
		return v
	}

	v.locals[key] = value
	return v
}

// Locals returns a copy of the locals.
func (v *View) Locals() map[string]any {
	return maps.Clone(v.locals)
}

// Inherits wraps subsequent renders in the named layouts. Each name is
// wrapped around the previous one, after the layouts the template
// declares itself.
func (v *View) Inherits(names ...string) *View {
	v.layouts = append(v.layouts, names...)
	return v
}

// Drop removes a layout added by Inherits.
func (v *View) Drop(name string) *View {
	v.layouts = slices.DeleteFunc(v.layouts, func(s string) bool { return s == name })
	return v
}

// Show renders name with the view locals overlaid by locals.
func (v *View) Show(name string, locals map[string]any) (template.HTML, error) {
	data := v.data(locals)

	out, err := v.engine.execute(name, data, 0)
	if err != nil {
		return "", err
	}

	for _, layout := range v.layouts {
		data[BodyKey] = out

		out, err = v.engine.execute(layout, data, 0)
		if err != nil {
			return "", err
		}
	}

	return out, nil
}

// Partial renders name alone, without any layout.
func (v *View) Partial(name string, locals map[string]any) (template.HTML, error) {
	t, err := v.engine.lookup(name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, v.data(locals)); err != nil {
		return "", fmt.Errorf("view: execute %s: %w", name, err)
	}

	return template.HTML(buf.String()), nil //nolint:gosec // output of html/template is already escaped
}

// Render writes name as an HTML response. A rendering error fails the
// request before anything is written.
func (v *View) Render(c *mux.Context, name string, locals map[string]any) mux.Result {
	out, err := v.Show(name, locals)
	if err != nil {
		return mux.Fail(err)
	}

	c.SetType("html")
	return c.Serve(string(out))
}

func (v *View) data(locals map[string]any) map[string]any {
	data := make(map[string]any, len(v.locals)+len(locals)+1)
	maps.Copy(data, v.locals)
	maps.Copy(data, locals)
	return data
}

// Middleware attaches a fresh View to every request. locals seed each
// View.
func Middleware(e *Engine, locals map[string]any) mux.Handler {
	return mux.HandlerFunc(func(c *mux.Context) mux.Result {
		v := NewView(e)
		maps.Copy(v.locals, locals)

		c.Set(viewKey, v)
		return c.Next()
	})
}

// FromContext returns the View attached by Middleware, or nil.
func FromContext(c *mux.Context) *View {
	if v, ok := c.Get(viewKey); ok {
		if view, ok := v.(*View); ok {
			return view
		}
	}

	return nil
}
