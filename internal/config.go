package internal

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/susamn/obsidian-web/internal/index/backend"
	"github.com/susamn/obsidian-web/internal/indexer"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App   ApplicationConfig `yaml:"app" toml:"app"`
	Vault VaultConfig       `yaml:"vault" toml:"vault"`
	Index IndexConfig       `yaml:"index" toml:"index"`
	Watch WatchConfig       `yaml:"watch" toml:"watch"`
	Auth  AuthConfig        `yaml:"auth" toml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.Index.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" toml:"log_level"`
	HTTP     HTTPConfig `yaml:"http" toml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" toml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the Markdown vault directory.
type VaultConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// IndexConfig selects the index engine and tunes the pipeline.
// Zero values for the tuning knobs fall back to the pipeline defaults.
type IndexConfig struct {
	Backend        string        `yaml:"backend" toml:"backend"`
	Path           string        `yaml:"path" toml:"path"`
	BatchSize      int           `yaml:"batch_size" toml:"batch_size"`
	FlushThreshold int           `yaml:"flush_threshold" toml:"flush_threshold"`
	FlushInterval  time.Duration `yaml:"flush_interval" toml:"flush_interval"`
	BufferCapacity int           `yaml:"buffer_capacity" toml:"buffer_capacity"`
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = backend.Bleve
	}
	c.Path = strings.TrimSpace(c.Path)
	if c.Path == "" {
		c.Path = backend.DefaultPath(c.Backend)
	}
	names := make([]any, 0, len(backend.Names))
	for _, n := range backend.Names {
		names = append(names, n)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(names...)),
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.BatchSize, validation.Min(0)),
		validation.Field(&c.FlushThreshold, validation.Min(0)),
		validation.Field(&c.FlushInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.BufferCapacity, validation.Min(0)),
	)
}

// WatchConfig controls the file-system watcher feeding incremental updates.
type WatchConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode" toml:"mode"`
	Token string `yaml:"token" toml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		Index: IndexConfig{
			Backend:        backend.Bleve,
			BatchSize:      indexer.DefaultBatchSize,
			FlushThreshold: indexer.DefaultFlushThreshold,
			FlushInterval:  indexer.DefaultFlushInterval,
			BufferCapacity: indexer.DefaultBufferCapacity,
		},
		Watch: WatchConfig{
			Enabled: true,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
