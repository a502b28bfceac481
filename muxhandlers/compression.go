package muxhandlers

import (
	"compress/flate"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/vitalvas/relay/mux"
)

// ErrInvalidCompressionLevel is returned when CompressionConfig.Level is
// outside [flate.HuffmanOnly, flate.BestCompression].
var ErrInvalidCompressionLevel = errors.New("compression: invalid compression level")

// CompressionConfig configures CompressionMiddleware.
type CompressionConfig struct {
	// Level applies to every encoding. Zero means flate.DefaultCompression.
	Level int

	// MinLength is the body size below which responses are sent as is.
	MinLength int

	// Types limits compression to media types with one of these prefixes,
	// e.g. "text/", "application/json". Empty allows every type that is
	// not already compressed.
	Types []string
}

// precompressed media type prefixes that are never encoded again.
var precompressed = []string{
	"image/",
	"video/",
	"audio/",
	"font/woff",
	"application/zip",
	"application/gzip",
	"application/x-gzip",
	"application/x-bzip2",
	"application/x-xz",
	"application/zstd",
	"application/x-7z-compressed",
	"application/x-rar-compressed",
}

type compressor interface {
	io.WriteCloser
	Flush() error
	Reset(w io.Writer)
}

// coding is one content-coding with a pool of its writers.
type coding struct {
	name string
	pool sync.Pool
}

func (cd *coding) acquire(w io.Writer) compressor {
	zw := cd.pool.Get().(compressor)
	zw.Reset(w)
	return zw
}

func (cd *coding) release(zw compressor) {
	_ = zw.Close()
	cd.pool.Put(zw)
}

// CompressionMiddleware encodes the response of the remainder of the chain
// with gzip or deflate, whichever the client rates higher in
// Accept-Encoding; gzip wins ties. The body is buffered until MinLength
// bytes are collected. Responses that already carry a Content-Encoding,
// are of a precompressed or excluded type, answer HEAD or have no body
// (204, 304) are passed through.
//
// The writer is restored when the chain returns, so error pages written
// after the chain gave up are not compressed.
func CompressionMiddleware(cfg CompressionConfig) (mux.Handler, error) {
	level := cfg.Level
	if level == 0 {
		level = flate.DefaultCompression
	}

	if level < flate.HuffmanOnly || level > flate.BestCompression {
		return nil, ErrInvalidCompressionLevel
	}

	gz := &coding{name: "gzip"}
	gz.pool.New = func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, level)
		return w
	}

	fl := &coding{name: "deflate"}
	fl.pool.New = func() any {
		w, _ := flate.NewWriter(io.Discard, level)
		return w
	}

	codings := []*coding{gz, fl}

	types := make([]string, 0, len(cfg.Types))
	for _, t := range cfg.Types {
		types = append(types, strings.ToLower(strings.TrimSpace(t)))
	}

	return mux.HandlerFunc(func(c *mux.Context) mux.Result {
		if c.Request.Method == http.MethodHead {
			return mux.Next()
		}

		cd := negotiateCoding(c.Request.Header.Get("Accept-Encoding"), codings)
		if cd == nil {
			return mux.Next()
		}

		orig := c.Writer
		ew := &encodeWriter{
			ResponseWriter: orig,
			coding:         cd,
			minLength:      cfg.MinLength,
			types:          types,
		}

		c.Writer = ew
		defer func() {
			ew.finish()
			c.Writer = orig
		}()

		return c.Next()
	}), nil
}

// negotiateCoding picks the coding with the highest quality value, earlier
// entries of codings winning ties. A wildcard rates codings the header does
// not name. Nil means no coding is acceptable.
func negotiateCoding(header string, codings []*coding) *coding {
	if header == "" {
		return nil
	}

	rated := map[string]float64{}
	for part := range strings.SplitSeq(header, ",") {
		name, q := parseCoding(part)
		if name != "" {
			rated[name] = q
		}
	}

	var (
		best  *coding
		bestQ float64
	)

	for _, cd := range codings {
		q, ok := rated[cd.name]
		if !ok {
			q, ok = rated["*"]
		}

		if ok && q > bestQ {
			best, bestQ = cd, q
		}
	}

	return best
}

// parseCoding splits "gzip;q=0.8" into its lowercased name and quality.
// A missing quality is 1 and an unparseable one is 0.
func parseCoding(s string) (string, float64) {
	name, params, _ := strings.Cut(s, ";")
	name = strings.ToLower(strings.TrimSpace(name))

	q := 1.0
	for param := range strings.SplitSeq(params, ";") {
		key, val, ok := strings.Cut(param, "=")
		if !ok || strings.TrimSpace(key) != "q" {
			continue
		}

		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil || f < 0 || f > 1 {
			f = 0
		}
		q = f
	}

	return name, q
}

func isPrecompressed(mediaType string) bool {
	for _, prefix := range precompressed {
		if strings.HasPrefix(mediaType, prefix) {
			return true
		}
	}

	return false
}

type encodeState int

const (
	statePending encodeState = iota
	statePlain
	stateEncoded
)

// encodeWriter defers the choice between an encoded and a plain body until
// MinLength bytes are buffered, the handler flushes, or the chain returns.
type encodeWriter struct {
	http.ResponseWriter
	coding    *coding
	minLength int
	types     []string

	state  encodeState
	status int
	buf    []byte
	zw     compressor
}

func (w *encodeWriter) WriteHeader(code int) {
	if w.status != 0 {
		return
	}

	w.status = code

	if code == http.StatusNoContent || code == http.StatusNotModified || code < http.StatusOK {
		w.commit(false)
	}
}

func (w *encodeWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}

	switch w.state {
	case stateEncoded:
		return w.zw.Write(b)
	case statePlain:
		return w.ResponseWriter.Write(b)
	}

	w.buf = append(w.buf, b...)
	if len(w.buf) >= w.minLength {
		w.commit(true)
	}

	return len(b), nil
}

// Flush commits the response and flushes the encoder and the writer below.
func (w *encodeWriter) Flush() {
	if w.status == 0 {
		w.status = http.StatusOK
	}

	if w.state == statePending {
		w.commit(len(w.buf) >= w.minLength)
	}

	if w.zw != nil {
		_ = w.zw.Flush()
	}

	http.NewResponseController(w.ResponseWriter).Flush() //nolint:errcheck
}

func (w *encodeWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// encodable reports whether the committed headers allow encoding.
func (w *encodeWriter) encodable(h http.Header) bool {
	if h.Get("Content-Encoding") != "" || w.status == http.StatusPartialContent {
		return false
	}

	mediaType := strings.ToLower(strings.TrimSpace(h.Get("Content-Type")))
	if isPrecompressed(mediaType) {
		return false
	}

	if len(w.types) == 0 {
		return true
	}

	for _, prefix := range w.types {
		if strings.HasPrefix(mediaType, prefix) {
			return true
		}
	}

	return false
}

func (w *encodeWriter) commit(encode bool) {
	h := w.Header()

	if encode && h.Get("Content-Type") == "" && len(w.buf) > 0 {
		h.Set("Content-Type", http.DetectContentType(w.buf))
	}

	w.state = statePlain
	if encode && w.encodable(h) {
		w.state = stateEncoded
		h.Set("Content-Encoding", w.coding.name)
		h.Add("Vary", "Accept-Encoding")
		h.Del("Content-Length")
		w.zw = w.coding.acquire(w.ResponseWriter)
	}

	w.ResponseWriter.WriteHeader(w.status)

	if len(w.buf) > 0 {
		buf := w.buf
		w.buf = nil

		if w.state == stateEncoded {
			_, _ = w.zw.Write(buf)
		} else {
			_, _ = w.ResponseWriter.Write(buf)
		}
	}
}

// finish commits a pending response and returns the encoder to its pool.
// A response the chain never started stays unwritten.
func (w *encodeWriter) finish() {
	if w.state == statePending && w.status != 0 {
		w.commit(len(w.buf) > 0 && len(w.buf) >= w.minLength)
	}

	if w.zw != nil {
		w.coding.release(w.zw)
		w.zw = nil
	}
}
