package muxhandlers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/vitalvas/relay/mux"
)

var (
	// ErrFaviconNoIcon is returned when neither Data nor FS and Name are set.
	ErrFaviconNoIcon = errors.New("favicon: icon data or file is required")

	// ErrInvalidFaviconMaxAge is returned when FaviconConfig.MaxAge is negative.
	ErrInvalidFaviconMaxAge = errors.New("favicon: max age must not be negative")
)

// DefaultFaviconMaxAge is the client cache lifetime used when
// FaviconConfig.MaxAge is zero.
const DefaultFaviconMaxAge = 24 * time.Hour

// FaviconConfig configures the Favicon middleware.
type FaviconConfig struct {
	// Data is the icon content. It takes precedence over FS and Name.
	Data []byte

	// FS and Name locate the icon file. It is read once, when the
	// middleware is created.
	FS   fs.FS
	Name string

	// Path is the request path answered with the icon. Defaults to
	// "/favicon.ico".
	Path string

	// MaxAge sets Cache-Control max-age. Defaults to DefaultFaviconMaxAge.
	MaxAge time.Duration
}

// FaviconMiddleware returns a step that answers GET and HEAD requests for
// the favicon path with the icon held in memory. Other requests continue
// down the chain. Responses carry a strong ETag, so revalidating clients
// receive 304.
//
// Register it early: browsers request the icon on every page and the
// answer needs nothing from the rest of the chain.
func FaviconMiddleware(cfg FaviconConfig) (mux.Handler, error) {
	if cfg.MaxAge < 0 {
		return nil, ErrInvalidFaviconMaxAge
	}

	icon := cfg.Data
	if icon == nil {
		if cfg.FS == nil || cfg.Name == "" {
			return nil, ErrFaviconNoIcon
		}

		data, err := fs.ReadFile(cfg.FS, cfg.Name)
		if err != nil {
			return nil, fmt.Errorf("favicon: read %s: %w", cfg.Name, err)
		}
		icon = data
	}

	target := cfg.Path
	if target == "" {
		target = "/favicon.ico"
	}

	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = DefaultFaviconMaxAge
	}

	sum := sha256.Sum256(icon)
	etag := hex.EncodeToString(sum[:8])
	cacheControl := "public, max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10)
	length := strconv.Itoa(len(icon))

	return mux.HandlerFunc(func(c *mux.Context) mux.Result {
		if c.Path() != target {
			return mux.Next()
		}

		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			return mux.Next()
		}

		h := c.Writer.Header()
		h.Set("Cache-Control", cacheControl)

		if c.ETag(etag, false) {
			return mux.Done()
		}

		h.Set("Content-Type", "image/x-icon")
		h.Set("Content-Length", length)
		c.Writer.WriteHeader(http.StatusOK)

		if c.Request.Method != http.MethodHead {
			_, _ = c.Writer.Write(icon)
		}

		return mux.Done()
	}), nil
}
