// Package config loads relayd settings from defaults, an optional YAML
// file and RELAY_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vitalvas/relay/internal/logging"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RELAY_"

// Session store kinds.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
)

// Config holds every relayd setting.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Log     LogConfig     `yaml:"log"`
	HTTP    HTTPConfig    `yaml:"http"`
	Static  StaticConfig  `yaml:"static"`
	Views   ViewsConfig   `yaml:"views"`
	Session SessionConfig `yaml:"session"`
	Limits  LimitsConfig  `yaml:"limits"`
	Metrics MetricsConfig `yaml:"metrics"`
	Admin   AdminConfig   `yaml:"admin"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`

	// TrustedProxies enables X-Forwarded-* handling for peers in these
	// addresses or CIDR ranges.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type StaticConfig struct {
	Dir string `yaml:"dir"`

	// Favicon is an icon file served from memory at /favicon.ico.
	Favicon string `yaml:"favicon"`
}

type ViewsConfig struct {
	Dir     string `yaml:"dir"`
	NoCache bool   `yaml:"no_cache"`
}

type SessionConfig struct {
	Store      string        `yaml:"store"`
	Dir        string        `yaml:"dir"`
	TTL        time.Duration `yaml:"ttl"`
	Limit      int           `yaml:"limit"`
	CookieName string        `yaml:"cookie_name"`
	Secure     bool          `yaml:"secure"`
}

type LimitsConfig struct {
	// Rate is requests per second per client. Zero disables the limiter.
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`

	// Throttle paces all /api requests to this many per second. Zero
	// disables pacing.
	Throttle int `yaml:"throttle"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AdminConfig enables the /admin pages for the listed users. No users
// leaves them unrouted.
type AdminConfig struct {
	Users map[string]string `yaml:"users"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatJSON,
		},
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
			ShutdownTimeout:   15 * time.Second,
			RequestTimeout:    20 * time.Second,
		},
		Session: SessionConfig{
			Store:      StoreMemory,
			TTL:        14 * 24 * time.Hour,
			CookieName: "sid",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return cfg, err
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	return nil
}

type envVar struct {
	name string
	set  func(c *Config, v string) error
}

func stringVar(name string, field func(c *Config) *string) envVar {
	return envVar{name: name, set: func(c *Config, v string) error {
		*field(c) = v
		return nil
	}}
}

func boolVar(name string, field func(c *Config) *bool) envVar {
	return envVar{name: name, set: func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}}
}

func intVar(name string, field func(c *Config) *int) envVar {
	return envVar{name: name, set: func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}}
}

func floatVar(name string, field func(c *Config) *float64) envVar {
	return envVar{name: name, set: func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}}
}

func listVar(name string, field func(c *Config) *[]string) envVar {
	return envVar{name: name, set: func(c *Config, v string) error {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*field(c) = out
		return nil
	}}
}

// pairsVar reads "user:password" items separated by commas.
func pairsVar(name string, field func(c *Config) *map[string]string) envVar {
	return envVar{name: name, set: func(c *Config, v string) error {
		out := make(map[string]string)
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item == "" {
				continue
			}

			key, value, ok := strings.Cut(item, ":")
			if !ok || key == "" {
				return fmt.Errorf("item %q (want key:value)", item)
			}
			out[key] = value
		}
		*field(c) = out
		return nil
	}}
}

func durationVar(name string, field func(c *Config) *time.Duration) envVar {
	return envVar{name: name, set: func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}}
}

var envVars = []envVar{
	boolVar("DEBUG", func(c *Config) *bool { return &c.Debug }),
	stringVar("LOG_LEVEL", func(c *Config) *string { return &c.Log.Level }),
	stringVar("LOG_FORMAT", func(c *Config) *string { return &c.Log.Format }),
	stringVar("HTTP_ADDR", func(c *Config) *string { return &c.HTTP.Addr }),
	durationVar("HTTP_READ_TIMEOUT", func(c *Config) *time.Duration { return &c.HTTP.ReadTimeout }),
	durationVar("HTTP_READ_HEADER_TIMEOUT", func(c *Config) *time.Duration { return &c.HTTP.ReadHeaderTimeout }),
	durationVar("HTTP_WRITE_TIMEOUT", func(c *Config) *time.Duration { return &c.HTTP.WriteTimeout }),
	durationVar("HTTP_IDLE_TIMEOUT", func(c *Config) *time.Duration { return &c.HTTP.IdleTimeout }),
	durationVar("HTTP_SHUTDOWN_TIMEOUT", func(c *Config) *time.Duration { return &c.HTTP.ShutdownTimeout }),
	durationVar("HTTP_REQUEST_TIMEOUT", func(c *Config) *time.Duration { return &c.HTTP.RequestTimeout }),
	listVar("HTTP_TRUSTED_PROXIES", func(c *Config) *[]string { return &c.HTTP.TrustedProxies }),
	stringVar("STATIC_DIR", func(c *Config) *string { return &c.Static.Dir }),
	stringVar("STATIC_FAVICON", func(c *Config) *string { return &c.Static.Favicon }),
	stringVar("VIEWS_DIR", func(c *Config) *string { return &c.Views.Dir }),
	boolVar("VIEWS_NO_CACHE", func(c *Config) *bool { return &c.Views.NoCache }),
	stringVar("SESSION_STORE", func(c *Config) *string { return &c.Session.Store }),
	stringVar("SESSION_DIR", func(c *Config) *string { return &c.Session.Dir }),
	durationVar("SESSION_TTL", func(c *Config) *time.Duration { return &c.Session.TTL }),
	intVar("SESSION_LIMIT", func(c *Config) *int { return &c.Session.Limit }),
	stringVar("SESSION_COOKIE_NAME", func(c *Config) *string { return &c.Session.CookieName }),
	boolVar("SESSION_SECURE", func(c *Config) *bool { return &c.Session.Secure }),
	floatVar("LIMITS_RATE", func(c *Config) *float64 { return &c.Limits.Rate }),
	intVar("LIMITS_BURST", func(c *Config) *int { return &c.Limits.Burst }),
	intVar("LIMITS_THROTTLE", func(c *Config) *int { return &c.Limits.Throttle }),
	boolVar("METRICS_ENABLED", func(c *Config) *bool { return &c.Metrics.Enabled }),
	stringVar("METRICS_PATH", func(c *Config) *string { return &c.Metrics.Path }),
	pairsVar("ADMIN_USERS", func(c *Config) *map[string]string { return &c.Admin.Users }),
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	for _, ev := range envVars {
		v, ok := lookup(EnvPrefix + ev.name)
		if !ok {
			continue
		}

		if err := ev.set(c, strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, ev.name, v, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: env: %w", errors.Join(errs...))
	}

	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	switch strings.ToLower(c.Log.Format) {
	case logging.FormatJSON, logging.FormatConsole:
	default:
		errs = append(errs, fmt.Errorf("log.format %q (must be json|console)", c.Log.Format))
	}

	if _, port, err := net.SplitHostPort(c.HTTP.Addr); err != nil {
		errs = append(errs, fmt.Errorf("http.addr %q: %w", c.HTTP.Addr, err))
	} else if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		errs = append(errs, fmt.Errorf("http.addr %q: invalid port", c.HTTP.Addr))
	}

	for name, d := range map[string]time.Duration{
		"http.read_timeout":        c.HTTP.ReadTimeout,
		"http.read_header_timeout": c.HTTP.ReadHeaderTimeout,
		"http.write_timeout":       c.HTTP.WriteTimeout,
		"http.idle_timeout":        c.HTTP.IdleTimeout,
		"http.shutdown_timeout":    c.HTTP.ShutdownTimeout,
		"http.request_timeout":     c.HTTP.RequestTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s %s (must not be negative)", name, d))
		}
	}

	switch c.Session.Store {
	case StoreMemory:
	case StoreFile:
		if c.Session.Dir == "" {
			errs = append(errs, errors.New("session.dir is required for the file store"))
		}
	default:
		errs = append(errs, fmt.Errorf("session.store %q (must be memory|file)", c.Session.Store))
	}

	if c.Session.TTL <= 0 {
		errs = append(errs, fmt.Errorf("session.ttl %s (must be positive)", c.Session.TTL))
	}
	if c.Session.Limit < 0 {
		errs = append(errs, fmt.Errorf("session.limit %d (must not be negative)", c.Session.Limit))
	}
	if c.Session.CookieName == "" {
		errs = append(errs, errors.New("session.cookie_name is required"))
	}

	if c.Limits.Rate < 0 {
		errs = append(errs, fmt.Errorf("limits.rate %g (must not be negative)", c.Limits.Rate))
	}
	if c.Limits.Burst < 0 {
		errs = append(errs, fmt.Errorf("limits.burst %d (must not be negative)", c.Limits.Burst))
	}
	if c.Limits.Throttle < 0 {
		errs = append(errs, fmt.Errorf("limits.throttle %d (must not be negative)", c.Limits.Throttle))
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q (must start with /)", c.Metrics.Path))
	}

	for user := range c.Admin.Users {
		if user == "" || strings.Contains(user, ":") {
			errs = append(errs, fmt.Errorf("admin.users %q (must be non-empty without a colon)", user))
		}
	}

	return errors.Join(errs...)
}
