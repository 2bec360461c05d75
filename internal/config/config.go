package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = "leetpanel.yaml"

// Config holds all leetpanel configuration.
type Config struct {
	// StateDir holds the sqlite database and logs/.
	StateDir string `yaml:"state_dir" validate:"required"`

	// Remote chat service
	Backend BackendConfig `yaml:"backend"`

	// Which tab URLs count as problem pages
	Site SiteConfig `yaml:"site"`

	// Chrome attachment
	Browser BrowserConfig `yaml:"browser"`

	// Durable session storage
	Store StoreConfig `yaml:"store"`

	// Background re-detection interval
	PollInterval string `yaml:"poll_interval" validate:"duration"`

	Logging LoggingConfig `yaml:"logging"`

	UI UIConfig `yaml:"ui"`
}

// BackendConfig configures the chat service client.
type BackendConfig struct {
	URL     string `yaml:"url" validate:"required,url"`
	Timeout string `yaml:"timeout" validate:"duration"`
}

// SiteConfig configures problem-page recognition.
type SiteConfig struct {
	Pattern string `yaml:"pattern" validate:"required,regexp"`
}

// BrowserConfig configures how the page extractor reaches Chrome.
type BrowserConfig struct {
	// DebuggerURL attaches to an existing Chrome (ws://... or http://host:9222).
	DebuggerURL string `yaml:"debugger_url"`
	// Launch starts a new Chrome when DebuggerURL is empty.
	Launch   bool `yaml:"launch"`
	Headless bool `yaml:"headless"`
	// EventThrottle drops repeated tab events for the same target inside this window.
	EventThrottle string `yaml:"event_throttle" validate:"duration"`
}

// StoreConfig selects the KV backend.
type StoreConfig struct {
	Kind   string `yaml:"kind" validate:"oneof=memory sqlite redis"`
	Driver string `yaml:"driver" validate:"omitempty,oneof=sqlite3 sqlite"`
	// DSN is a sqlite path; empty means <state_dir>/leetpanel.db.
	DSN string `yaml:"dsn"`

	RedisAddr     string `yaml:"redis_addr" validate:"required_if=Kind redis"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" validate:"gte=0"`
	Namespace     string `yaml:"namespace"`

	// CacheTTL wraps the backend in an in-process cache when non-empty.
	CacheTTL string `yaml:"cache_ttl" validate:"omitempty,duration"`
}

// UIConfig configures the terminal panel.
type UIConfig struct {
	Theme    string `yaml:"theme" validate:"oneof=dark light auto"`
	WordWrap int    `yaml:"word_wrap" validate:"gte=20"`
	// Username prefills the session prompt.
	Username string `yaml:"username"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		StateDir: ".leetpanel",

		Backend: BackendConfig{
			URL:     "http://localhost:8000",
			Timeout: "30s",
		},

		Site: SiteConfig{
			Pattern: `^https://leetcode\.com/problems/[^/]+`,
		},

		Browser: BrowserConfig{
			DebuggerURL:   "",
			Launch:        true,
			Headless:      false,
			EventThrottle: "250ms",
		},

		Store: StoreConfig{
			Kind:      "sqlite",
			Driver:    "sqlite",
			Namespace: "leetpanel",
		},

		PollInterval: "2s",

		Logging: LoggingConfig{
			Level:      "info",
			DebugMode:  false,
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},

		UI: UIConfig{
			Theme:    "auto",
			WordWrap: 80,
		},
	}
}

// Load loads configuration from a YAML file.
// A .env next to the working directory is applied first; a missing config file yields defaults.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("LEETPANEL_BACKEND_URL"); url != "" {
		c.Backend.URL = url
	}
	if url := os.Getenv("LEETPANEL_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if dsn := os.Getenv("LEETPANEL_STORE_DSN"); dsn != "" {
		c.Store.DSN = dsn
	}
	// A redis address implies the redis backend.
	if addr := os.Getenv("LEETPANEL_REDIS_ADDR"); addr != "" {
		c.Store.RedisAddr = addr
		c.Store.Kind = "redis"
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		d, err := time.ParseDuration(s)
		return err == nil && d > 0
	})
	_ = v.RegisterValidation("regexp", func(fl validator.FieldLevel) bool {
		return compiles(fl.Field().String())
	})
	return v
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// GetPollInterval returns the poll interval as a duration.
func (c *Config) GetPollInterval() time.Duration {
	return parseOr(c.PollInterval, 2*time.Second)
}

// GetBackendTimeout returns the HTTP client timeout as a duration.
func (c *Config) GetBackendTimeout() time.Duration {
	return parseOr(c.Backend.Timeout, 30*time.Second)
}

// GetEventThrottle returns the tab event throttle window.
func (c *Config) GetEventThrottle() time.Duration {
	return parseOr(c.Browser.EventThrottle, 250*time.Millisecond)
}

// GetCacheTTL returns the store cache TTL; zero disables caching.
func (c *Config) GetCacheTTL() time.Duration {
	return parseOr(c.Store.CacheTTL, 0)
}

// StorePath returns the sqlite file path.
func (c *Config) StorePath() string {
	if c.Store.DSN != "" {
		return c.Store.DSN
	}
	return filepath.Join(c.StateDir, "leetpanel.db")
}

func parseOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
