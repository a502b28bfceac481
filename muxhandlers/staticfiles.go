package muxhandlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/vitalvas/relay/mux"
)

var (
	// ErrStaticFilesNoFS is returned when StaticFilesConfig.FS is nil.
	ErrStaticFilesNoFS = errors.New("static files: file system must not be nil")

	// ErrStaticFilesNoIndex is returned when SPAFallback is set and the
	// root index file is missing.
	ErrStaticFilesNoIndex = errors.New("static files: root index is required for SPA fallback")
)

// StaticFilesConfig configures StaticFilesMiddleware.
type StaticFilesConfig struct {
	// FS holds the files: os.DirFS, embed.FS or any fs.FS.
	FS fs.FS

	// Index is served for directory paths, "index.html" by default.
	Index string

	// Listing renders directories that have no index.
	Listing bool

	// SPAFallback answers missing paths of requests that accept HTML with
	// the root index.
	SPAFallback bool

	// Dotfiles serves paths with a segment starting with ".".
	Dotfiles bool

	// Precompressed serves NAME.gz in place of NAME to clients that
	// accept gzip.
	Precompressed bool

	// MaxAge sets a public Cache-Control max-age on served files.
	MaxAge time.Duration
}

type staticRoot struct {
	fsys         fs.FS
	index        string
	spa          bool
	dotfiles     bool
	gz           bool
	cacheControl string
	listing      http.Handler
}

// StaticFilesMiddleware serves GET and HEAD requests whose path view names
// a file, or a directory with an index, in cfg.FS. Everything else
// continues down the chain so later routes or the 404 terminal answer.
// Directory paths without a trailing slash are redirected to it. Mounted
// under a prefix, paths are relative to the mount.
func StaticFilesMiddleware(cfg StaticFilesConfig) (mux.Handler, error) {
	if cfg.FS == nil {
		return nil, ErrStaticFilesNoFS
	}

	s := &staticRoot{
		fsys:     cfg.FS,
		index:    cfg.Index,
		spa:      cfg.SPAFallback,
		dotfiles: cfg.Dotfiles,
		gz:       cfg.Precompressed,
	}

	if s.index == "" {
		s.index = "index.html"
	}

	if s.spa {
		if st, err := fs.Stat(s.fsys, s.index); err != nil || !st.Mode().IsRegular() {
			return nil, ErrStaticFilesNoIndex
		}
	}

	if cfg.Listing {
		s.listing = http.FileServerFS(s.fsys)
	}

	if cfg.MaxAge > 0 {
		s.cacheControl = "public, max-age=" + strconv.FormatInt(int64(cfg.MaxAge/time.Second), 10)
	}

	return mux.HandlerFunc(s.serve), nil
}

func (s *staticRoot) serve(c *mux.Context) mux.Result {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		return mux.Next()
	}

	name, dirPath, ok := s.resolve(c.Path())
	if !ok {
		return mux.Next()
	}

	info, err := fs.Stat(s.fsys, name)
	switch {
	case err != nil:
		if s.spa && !strings.Contains(path.Base(name), ".") && c.Accepts("text/html") {
			return s.file(c, s.index)
		}
		return mux.Next()

	case info.IsDir():
		if !dirPath {
			return c.Redirect(c.Path()+"/", http.StatusMovedPermanently)
		}

		index := path.Join(name, s.index)
		if st, err := fs.Stat(s.fsys, index); err == nil && st.Mode().IsRegular() {
			return s.file(c, index)
		}

		if s.listing != nil {
			return s.list(c, name)
		}
		return mux.Next()

	case !info.Mode().IsRegular():
		return mux.Next()
	}

	return s.file(c, name)
}

// resolve maps a path view to an fs.FS name. dirPath reports a trailing
// slash or the root.
func (s *staticRoot) resolve(p string) (name string, dirPath, ok bool) {
	raw, err := url.PathUnescape(p)
	if err != nil || strings.ContainsRune(raw, 0) {
		return "", false, false
	}

	name = strings.TrimPrefix(path.Clean("/"+raw), "/")
	if name == "" {
		return ".", true, true
	}

	if !fs.ValidPath(name) {
		return "", false, false
	}

	if !s.dotfiles {
		for seg := range strings.SplitSeq(name, "/") {
			if strings.HasPrefix(seg, ".") {
				return "", false, false
			}
		}
	}

	return name, strings.HasSuffix(raw, "/"), true
}

func (s *staticRoot) file(c *mux.Context, name string) mux.Result {
	h := c.Writer.Header()

	if s.cacheControl != "" {
		h.Set("Cache-Control", s.cacheControl)
	}

	if h.Get("Content-Type") == "" {
		if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
			h.Set("Content-Type", ct)
		}
	}

	served := name
	if s.gz {
		h.Add("Vary", "Accept-Encoding")
		if c.AcceptsGzip() {
			if st, err := fs.Stat(s.fsys, name+".gz"); err == nil && st.Mode().IsRegular() {
				served = name + ".gz"
				h.Set("Content-Encoding", "gzip")
			}
		}
	}

	f, err := s.fsys.Open(served)
	if err != nil {
		return mux.Fail(mux.NewStatusError(http.StatusInternalServerError, fmt.Errorf("static files: %w", err)))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return mux.Fail(mux.NewStatusError(http.StatusInternalServerError, fmt.Errorf("static files: %w", err)))
	}

	content, ok := f.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(f)
		if err != nil {
			return mux.Fail(mux.NewStatusError(http.StatusInternalServerError, fmt.Errorf("static files: read %s: %w", served, err)))
		}
		content = bytes.NewReader(data)
	}

	http.ServeContent(c.Writer, c.Request, path.Base(name), info.ModTime(), content)

	return mux.Done()
}

// list hands a directory to http.FileServerFS for rendering.
func (s *staticRoot) list(c *mux.Context, name string) mux.Result {
	u := *c.Request.URL
	u.Path = "/" + strings.TrimPrefix(name+"/", "./")
	u.RawPath = ""

	r := c.Request.Clone(c.Request.Context())
	r.URL = &u

	s.listing.ServeHTTP(c.Writer, r)

	return mux.Done()
}
