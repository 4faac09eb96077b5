// Package config loads the settings shared by the inok binaries.
//
// Values are resolved in order: built-in defaults, then the config file
// named by --config or INOK_CONFIG (YAML, or JSON with comments), then
// INOK_* environment variables. The result is validated before use.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/inok-dev/inok-console/internal/observability"
	"github.com/inok-dev/inok-console/internal/storage"
	"github.com/inok-dev/inok-console/internal/vault"
)

// Config is the configuration of the inok binaries.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Session SessionConfig `yaml:"session"`
	Console ConsoleConfig `yaml:"console"`
	Backend BackendConfig `yaml:"backend"`
	Log     LogConfig     `yaml:"log"`
}

// APIConfig locates the INOK REST API.
type APIConfig struct {
	// URL is the API root, e.g. http://localhost:8000/api.
	URL string `yaml:"url"`

	// Timeout bounds each HTTP exchange. Empty means no client timeout.
	Timeout string `yaml:"timeout"`
}

// SessionConfig configures the persisted session.
type SessionConfig struct {
	// File holds the token and user snapshot.
	File string `yaml:"file"`

	// Key seals the token with AES-GCM: 64 hex characters, or any string
	// to be stretched with scrypt.
	Key string `yaml:"key"`

	// Passphrase seals the token with age instead. Mutually exclusive with Key.
	Passphrase string `yaml:"passphrase"`
}

// ConsoleConfig configures the console daemon.
type ConsoleConfig struct {
	Addr string `yaml:"addr"`

	// TLS serves the console over a generated self-signed certificate.
	TLS bool `yaml:"tls"`

	// NotificationTTL is how long undelivered notifications are kept.
	NotificationTTL string `yaml:"notification_ttl"`

	// AllowedOrigins lists the browser origins, besides the console's own,
	// that may call the daemon API.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// BackendConfig configures the reference backend.
type BackendConfig struct {
	Addr    string `yaml:"addr"`
	DataDir string `yaml:"data_dir"`

	// SessionTTL bounds token lifetime. Empty means tokens never expire.
	SessionTTL string `yaml:"session_ttl"`

	// LoginsPerMinute throttles login attempts per client address. Zero
	// disables throttling.
	LoginsPerMinute int `yaml:"logins_per_minute"`

	// Admin account created on first start when AdminPassword is set.
	AdminName     string `yaml:"admin_name"`
	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`
}

// LogConfig configures slog output.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			URL:     "http://localhost:8000/api",
			Timeout: "30s",
		},
		Session: SessionConfig{
			File: storage.DefaultPath(),
		},
		Console: ConsoleConfig{
			Addr:            "127.0.0.1:7100",
			NotificationTTL: "30s",
		},
		Backend: BackendConfig{
			Addr:            ":8000",
			DataDir:         "./data",
			LoginsPerMinute: 30,
			AdminName:       "Administrador",
			AdminEmail:      "admin@inok.local",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from path (or INOK_CONFIG when path is
// empty) and the environment. A missing path means defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("INOK_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges a config file into c. .json and .jsonc files may carry
// comments and trailing commas.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is valid YAML, so one set of tags serves both.
		data = jsonc.ToJSON(data)
	case ".yaml", ".yml", "":
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return yaml.Unmarshal(data, c)
}

// applyEnv applies the INOK_* overrides.
func (c *Config) applyEnv() {
	overrides := []struct {
		name   string
		target *string
	}{
		{"INOK_API_URL", &c.API.URL},
		{"INOK_API_TIMEOUT", &c.API.Timeout},
		{"INOK_SESSION_FILE", &c.Session.File},
		{"INOK_SESSION_KEY", &c.Session.Key},
		{"INOK_SESSION_PASSPHRASE", &c.Session.Passphrase},
		{"INOK_CONSOLE_ADDR", &c.Console.Addr},
		{"INOK_BACKEND_ADDR", &c.Backend.Addr},
		{"INOK_BACKEND_DATA_DIR", &c.Backend.DataDir},
		{"INOK_ADMIN_EMAIL", &c.Backend.AdminEmail},
		{"INOK_ADMIN_PASSWORD", &c.Backend.AdminPassword},
		{"INOK_LOG_LEVEL", &c.Log.Level},
		{"INOK_LOG_FORMAT", &c.Log.Format},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			*o.target = v
		}
	}
	if v := os.Getenv("INOK_CONSOLE_TLS"); v != "" {
		c.Console.TLS = v == "true" || v == "1"
	}
	if v := os.Getenv("INOK_CONSOLE_ORIGINS"); v != "" {
		c.Console.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.Console.AllowedOrigins = append(c.Console.AllowedOrigins, origin)
			}
		}
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.url %q must be an http(s) URL", c.API.URL)
	}
	for name, value := range map[string]string{
		"api.timeout":              c.API.Timeout,
		"console.notification_ttl": c.Console.NotificationTTL,
		"backend.session_ttl":      c.Backend.SessionTTL,
	} {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Session.Key != "" && c.Session.Passphrase != "" {
		return errors.New("session.key and session.passphrase are mutually exclusive")
	}
	if _, err := observability.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

// APITimeout returns the parsed api.timeout.
func (c *Config) APITimeout() time.Duration {
	d, _ := parseDuration(c.API.Timeout)
	return d
}

// NotificationTTL returns the parsed console.notification_ttl.
func (c *Config) NotificationTTL() time.Duration {
	d, _ := parseDuration(c.Console.NotificationTTL)
	return d
}

// SessionTTL returns the parsed backend.session_ttl.
func (c *Config) SessionTTL() time.Duration {
	d, _ := parseDuration(c.Backend.SessionTTL)
	return d
}

// Sealer returns the sealer selected by the session settings, or nil when
// the token is stored in plain text.
func (c *Config) Sealer() (storage.Sealer, error) {
	switch {
	case c.Session.Key != "":
		key, err := vault.ParseKey(c.Session.Key)
		if err != nil {
			return nil, err
		}
		return vault.NewAESSealer(key)
	case c.Session.Passphrase != "":
		return vault.NewAgeSealer(c.Session.Passphrase, 0)
	}
	return nil, nil
}

// Logger builds the logger described by the log settings.
func (c *Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := observability.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	return observability.New(w, level, c.Log.Format)
}
