package mux

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const defaultErrorBody = "<p>An error occurred.</p>"

// entityHeaders are removed from bodiless status responses.
var entityHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Language",
	"Content-Encoding",
	"Content-Range",
	"Content-MD5",
	"Content-Location",
	"Content-Disposition",
}

var jsonpCallback = regexp.MustCompile(`^[A-Za-z_$][\w$.]*(\[[\w$."']+\])*$`)

// Serve writes data as the response body with the status set by Status,
// or 200.
//
// A nil or empty value answers 204. Strings and byte slices are sent as
// is (text/html unless a Content-Type is already set); any other value is
// encoded as JSON, wrapped as JSONP when the query has a valid callback
// parameter. HEAD requests get the same headers without a body.
func (c *Context) Serve(data any) Result {
	if c.Written() {
		return Done()
	}

	var body []byte
	switch v := data.(type) {
	case nil:
		return c.Error(http.StatusNoContent)
	case []byte:
		body = v
	case string:
		body = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Fail(fmt.Errorf("mux: serve: %w", err))
		}
		if cb := c.Query().Get("callback"); cb != "" && jsonpCallback.MatchString(cb) {
			c.SetType("application/javascript")
			body = []byte(cb + "(" + string(b) + ")")
		} else {
			c.SetType("application/json")
			body = b
		}
	}

	if len(body) == 0 {
		return c.Error(http.StatusNoContent)
	}

	return c.writeBody(c.code(), body)
}

// JSON encodes v as JSON and writes it with the given status code.
func (c *Context) JSON(code int, v any) Result {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return Fail(fmt.Errorf("mux: encode json: %w", err))
	}

	c.Writer.Header().Set("Content-Type", "application/json")
	return c.writeBody(code, buf.Bytes())
}

// XML encodes v as XML and writes it with the given status code.
func (c *Context) XML(code int, v any) Result {
	var buf bytes.Buffer
	if err := xml.NewEncoder(&buf).Encode(v); err != nil {
		return Fail(fmt.Errorf("mux: encode xml: %w", err))
	}

	c.Writer.Header().Set("Content-Type", "application/xml")
	return c.writeBody(code, buf.Bytes())
}

// Text writes s as text/plain with the given status code.
func (c *Context) Text(code int, s string) Result {
	c.SetType("text/plain")
	return c.writeBody(code, []byte(s))
}

// SetType sets the Content-Type. tag is a media type or an extension;
// textual types get the pipeline charset.
func (c *Context) SetType(tag string) {
	t := lookupType(tag)
	if strings.HasPrefix(t, "text/") || t == "application/javascript" {
		t += "; charset=" + c.pipeline.charset
	}
	c.Writer.Header().Set("Content-Type", t)
}

func (c *Context) writeBody(code int, body []byte) Result {
	h := c.Writer.Header()
	if h.Get("Content-Type") == "" {
		c.SetType("text/html")
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	if c.pipeline.lang != "" {
		h.Set("Content-Language", c.pipeline.lang)
	}

	c.Writer.WriteHeader(code)
	_, _ = c.Writer.Write(body)

	return Done()
}

func (c *Context) code() int {
	if c.status != 0 {
		return c.status
	}
	return http.StatusOK
}

// Error writes the error page for code and ends the chain. 204, 304 and
// informational codes are sent without body and entity headers. body is
// optional HTML placed under the status heading.
func (c *Context) Error(code int, body ...string) Result {
	c.writePage(code, nil, strings.Join(body, ""))
	return Done()
}

// writeError writes the page for an unresolved or halting error. Debug
// pipelines include the error text and stack.
func (c *Context) writeError(code int, err error) {
	var body string
	switch {
	case c.pipeline.debug && err != nil:
		detail := err.Error()
		var pe *PanicError
		if errors.As(err, &pe) {
			detail += "\n\n" + string(pe.Stack)
		}
		body = "<pre>" + html.EscapeString(detail) + "</pre>"
	case code >= http.StatusInternalServerError:
		body = "<p>Sorry, an error occurred.</p>"
	}
	c.writePage(code, err, body)
}

// finalize completes the response for a Halt.
func (c *Context) finalize(err error) {
	if c.Written() {
		return
	}
	if err != nil {
		c.writeError(StatusCode(err), err)
		return
	}
	c.Writer.WriteHeader(c.code())
}

func (c *Context) writePage(code int, err error, body string) {
	if c.Written() {
		return
	}
	if code == 0 {
		code = http.StatusInternalServerError
	}

	h := c.Writer.Header()

	if code < http.StatusOK || code == http.StatusNoContent || code == http.StatusNotModified {
		for _, k := range entityHeaders {
			h.Del(k)
		}
		c.Writer.WriteHeader(code)
		return
	}

	for p := c.pipeline; p != nil; p = p.Parent() {
		if p.errorPage != nil {
			p.errorPage(c, code, err)
			return
		}
	}

	if body == "" {
		body = defaultErrorBody
	}
	page := "<!doctype html>\n<title>Error</title>\n<h1>" + http.StatusText(code) + "</h1>\n" + body

	h.Del("Content-Encoding")
	h.Set("Content-Type", "text/html; charset="+c.pipeline.charset)
	h.Set("Content-Length", strconv.Itoa(len(page)))
	c.Writer.WriteHeader(code)
	_, _ = io.WriteString(c.Writer, page)
}

// Redirect sends the client to target. Targets without "//" are resolved
// against the pipeline's mount point. The default code is 303, sent as
// 302 to HTTP/1.0 clients.
func (c *Context) Redirect(target string, code ...int) Result {
	status := http.StatusSeeOther
	if len(code) > 0 && code[0] != 0 {
		status = code[0]
	}
	if target == "" {
		target = "/"
	}
	if !strings.Contains(target, "//") {
		target = c.pipeline.origin() + c.base + "/" + strings.TrimLeft(target, "/")
	}
	if status == http.StatusSeeOther && !c.Request.ProtoAtLeast(1, 1) {
		status = http.StatusFound
	}

	h := c.Writer.Header()
	h.Set("Location", target)

	if c.Request.Method == http.MethodHead {
		c.Writer.WriteHeader(status)
		return Done()
	}

	esc := html.EscapeString(target)
	body := "<!doctype html>\n<title>Redirecting</title>\n<a href=\"" + esc + "\">" + esc + "</a>"
	h.Set("Content-Type", "text/html; charset="+c.pipeline.charset)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	c.Writer.WriteHeader(status)
	_, _ = io.WriteString(c.Writer, body)

	return Done()
}

// SetCookie adds a Set-Cookie header. Path defaults to "/". Cookies set
// earlier in the same response are kept.
func (c *Context) SetCookie(ck *http.Cookie) {
	if ck.Path == "" {
		ck.Path = "/"
	}
	http.SetCookie(c.Writer, ck)
}

// DeleteCookie instructs the client to drop the named cookie.
func (c *Context) DeleteCookie(name string) {
	c.SetCookie(&http.Cookie{Name: name, Value: "0", MaxAge: -1, Expires: time.Unix(0, 0)})
}

// ETag sets the entity tag of the response. When the request already
// holds a matching tag it answers 304 and returns true; the caller should
// then end the chain. Validation is skipped in debug mode.
func (c *Context) ETag(tag string, weak bool) bool {
	if c.pipeline.debug {
		return false
	}

	tag = strings.Trim(strings.TrimPrefix(tag, "W/"), `"'`)
	prefix := ""
	if weak {
		prefix = "W/"
	}
	c.Writer.Header().Set("ETag", prefix+`"`+tag+`"`)

	inm := c.Request.Header.Get("If-None-Match")
	if inm == "" {
		return false
	}
	for _, part := range strings.Split(inm, ",") {
		part = strings.Trim(strings.TrimPrefix(strings.TrimSpace(part), "W/"), `"'`)
		if part == tag || part == "*" {
			c.writePage(http.StatusNotModified, nil, "")
			return true
		}
	}
	return false
}

// Modified sets Last-Modified. When the request's If-Modified-Since is
// not older than t it answers 304 and returns true. Validation is skipped
// in debug mode.
func (c *Context) Modified(t time.Time) bool {
	if c.pipeline.debug {
		return false
	}

	t = t.UTC().Truncate(time.Second)
	c.Writer.Header().Set("Last-Modified", t.Format(http.TimeFormat))

	ims, err := http.ParseTime(c.Request.Header.Get("If-Modified-Since"))
	if err != nil || t.After(ims) {
		return false
	}

	c.writePage(http.StatusNotModified, nil, "")
	return true
}

// SendFile serves a file from disk. Relative names are resolved against
// the pipeline root; names containing ".." answer 404. Ranges and HEAD are
// handled by http.ServeContent. The entity tag is derived from the
// modification time and size.
func (c *Context) SendFile(name string) Result {
	if name == "" {
		return Fail(NewStatusError(http.StatusInternalServerError, errors.New("mux: send file: empty name")))
	}
	if strings.Contains(name, "..") {
		return c.Error(http.StatusNotFound)
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(c.pipeline.root, name)
	}

	f, err := os.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c.Error(http.StatusNotFound)
		}
		return Fail(NewStatusError(http.StatusInternalServerError, fmt.Errorf("mux: send file: %w", err)))
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Fail(NewStatusError(http.StatusInternalServerError, fmt.Errorf("mux: send file: %w", err)))
	}
	if !st.Mode().IsRegular() {
		return Fail(NewStatusError(http.StatusInternalServerError, fmt.Errorf("mux: send file: %s is not a regular file", name)))
	}

	if c.ETag(strconv.FormatInt(st.ModTime().UnixMilli(), 16)+strconv.FormatInt(st.Size(), 10), false) {
		return Done()
	}

	if c.Writer.Header().Get("Content-Type") == "" {
		if ext := filepath.Ext(name); ext != "" && mime.TypeByExtension(ext) != "" {
			c.SetType(ext)
		}
	}

	http.ServeContent(c.Writer, c.Request, filepath.Base(name), st.ModTime(), f)

	return Done()
}

// Attach sends a file as a download.
func (c *Context) Attach(name string) Result {
	disp := mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(name)})
	if disp == "" {
		disp = "attachment"
	}
	c.Writer.Header().Set("Content-Disposition", disp)
	return c.SendFile(name)
}
