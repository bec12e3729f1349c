package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.convsync/config.toml.
type Config struct {
	DefaultProfile string    `toml:"default_profile"`
	Backend        Backend   `toml:"backend"`
	Cache          Cache     `toml:"cache"`
	Typing         Typing    `toml:"typing"`
	Log            Log       `toml:"log"`
	Accounts       []Account `toml:"accounts"`
}

// Backend locates the REST and WebSocket collaborator.
type Backend struct {
	BaseURL string   `toml:"base_url"`
	WSURL   string   `toml:"ws_url"`
	Timeout Duration `toml:"timeout"`

	// WSReadLimit caps one inbound WebSocket frame, in bytes.
	WSReadLimit int64 `toml:"ws_read_limit"`
}

// Cache tunes the conversation cache.
type Cache struct {
	MaxCached       int      `toml:"max_cached"`
	Expiry          Duration `toml:"expiry"`
	StaleWindow     Duration `toml:"stale_window"`
	CleanupInterval Duration `toml:"cleanup_interval"`
}

// Typing tunes typing-indicator timers.
type Typing struct {
	// Throttle bounds outgoing start-typing signals per conversation.
	Throttle Duration `toml:"throttle"`
	// Idle is how long after the last keystroke a stop-typing is sent.
	Idle Duration `toml:"idle"`
	// Expiry drops a remote typing entry that was never stopped.
	Expiry Duration `toml:"expiry"`
}

// Log configures the daemon logger.
type Log struct {
	Level string `toml:"level"`
}

// Account is one signed-in identity.
type Account struct {
	ID     string `toml:"id"`
	UserID string `toml:"user_id"`
	Token  string `toml:"token"`
}

// Duration is a time.Duration encoded as a Go duration string ("5m").
type Duration struct {
	time.Duration
}

// D wraps d as a config Duration.
func D(d time.Duration) Duration { return Duration{d} }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Defaults returns a config with every tunable set.
func Defaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Backend.Timeout.Duration == 0 {
		c.Backend.Timeout = D(30 * time.Second)
	}
	if c.Backend.WSReadLimit <= 0 {
		c.Backend.WSReadLimit = 4 << 20
	}
	if c.Cache.MaxCached == 0 {
		c.Cache.MaxCached = 10
	}
	if c.Cache.Expiry.Duration == 0 {
		c.Cache.Expiry = D(30 * time.Minute)
	}
	if c.Cache.StaleWindow.Duration == 0 {
		c.Cache.StaleWindow = D(5 * time.Minute)
	}
	if c.Cache.CleanupInterval.Duration == 0 {
		c.Cache.CleanupInterval = D(5 * time.Minute)
	}
	if c.Typing.Throttle.Duration == 0 {
		c.Typing.Throttle = D(2 * time.Second)
	}
	if c.Typing.Idle.Duration == 0 {
		c.Typing.Idle = D(2 * time.Second)
	}
	if c.Typing.Expiry.Duration == 0 {
		c.Typing.Expiry = D(2 * time.Second)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Account returns the configured account with the given id.
func (c *Config) Account(id string) (Account, bool) {
	for _, a := range c.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}

// Tokens maps account id to bearer token.
func (c *Config) Tokens() map[string]string {
	out := make(map[string]string, len(c.Accounts))
	for _, a := range c.Accounts {
		out[a.ID] = a.Token
	}
	return out
}

// ValidationError describes a config field that cannot be used.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Validate checks the fields the engine cannot run without.
func (c *Config) Validate() error {
	if c.Cache.MaxCached < 0 {
		return &ValidationError{Field: "cache.max_cached", Reason: "must not be negative"}
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		if a.ID == "" {
			return &ValidationError{Field: fmt.Sprintf("accounts[%d].id", i), Reason: "required"}
		}
		if seen[a.ID] {
			return &ValidationError{Field: fmt.Sprintf("accounts[%d].id", i), Reason: fmt.Sprintf("duplicate account %q", a.ID)}
		}
		seen[a.ID] = true
		if a.UserID == "" {
			return &ValidationError{Field: fmt.Sprintf("accounts[%d].user_id", i), Reason: "required"}
		}
	}
	return nil
}

// Load reads config from the given path and fills defaults. Returns error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
