package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/TheMichaelB/wikisync/internal/models"
)

// Config holds all application configuration.
type Config struct {
	// API configuration
	API APIConfig `json:"api" mapstructure:"api"`

	// Token credentials
	Auth AuthConfig `json:"auth" mapstructure:"auth"`

	// Sync behavior
	Sync SyncConfig `json:"sync" mapstructure:"sync"`

	// Manifest location and backend
	Manifest ManifestConfig `json:"manifest" mapstructure:"manifest"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// APIConfig for server communication.
type APIConfig struct {
	BaseURL            string        `json:"base_url" mapstructure:"base_url"` // Overrides the manifest url when set
	Timeout            time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries         int           `json:"max_retries" mapstructure:"max_retries"`
	RetryDelay         time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
	PageSize           int           `json:"page_size" mapstructure:"page_size"` // Listing batch size
	UserAgent          string        `json:"user_agent" mapstructure:"user_agent"`
	InsecureSkipVerify bool          `json:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
}

// AuthConfig holds the BookStack API token.
type AuthConfig struct {
	TokenID     string `json:"token_id,omitempty" mapstructure:"token_id"`
	TokenSecret string `json:"token_secret,omitempty" mapstructure:"token_secret"`
	EnvFile     string `json:"env_file" mapstructure:"env_file"` // Relative to the wiki root
}

// SyncConfig for synchronization behavior.
type SyncConfig struct {
	MaxConcurrent int    `json:"max_concurrent" mapstructure:"max_concurrent"` // Parallel downloads
	IgnoreFile    string `json:"ignore_file" mapstructure:"ignore_file"`       // Discovery ignore rules
	MaxFileSize   int64  `json:"max_file_size" mapstructure:"max_file_size"`   // Largest page written locally, in bytes
}

// ManifestConfig locates the manifest.
type ManifestConfig struct {
	Filename string `json:"filename" mapstructure:"filename"` // .json, or .db/.sqlite for SQLite
	Backup   bool   `json:"backup" mapstructure:"backup"`     // Keep <filename>.backup on save
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level      string `json:"level" mapstructure:"level"`             // debug, info, warn, error
	Format     string `json:"format" mapstructure:"format"`           // text, json
	File       string `json:"file" mapstructure:"file"`               // Log file path (empty = stderr)
	MaxSize    int    `json:"max_size" mapstructure:"max_size"`       // Max log file size in MB
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"` // Max number of old logs
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`         // Max age in days
	Color      bool   `json:"color" mapstructure:"color"`             // Enable colored output
	Timestamp  bool   `json:"timestamp" mapstructure:"timestamp"`     // Include timestamps
}

// DefaultManifestName is the manifest filename looked up from the working directory.
const DefaultManifestName = ".bookstack.json"

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			RetryDelay: time.Second,
			PageSize:   100,
			UserAgent:  "wikisync/1.0",
		},
		Auth: AuthConfig{
			EnvFile: ".env",
		},
		Sync: SyncConfig{
			MaxConcurrent: 5,
			IgnoreFile:    ".wikisyncignore",
			MaxFileSize:   32 * 1024 * 1024,
		},
		Manifest: ManifestConfig{
			Filename: DefaultManifestName,
			Backup:   true,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
			Color:      true,
			Timestamp:  true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.Manifest.Validate(); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// Validate validates the API configuration.
func (c *APIConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.By(HTTPURL)),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.MaxRetries, validation.Min(0)),
		validation.Field(&c.PageSize, validation.Required, validation.Min(1), validation.Max(500)),
	)
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxConcurrent, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxFileSize, validation.Required, validation.Min(int64(1024))),
	)
}

// Validate validates the manifest configuration.
func (c *ManifestConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Filename, validation.Required),
	)
}

// Validate validates the log configuration.
func (c *LogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Format, validation.Required, validation.In("text", "json")),
	)
}

// Require reports whether both token parts are present.
func (c *AuthConfig) Require() error {
	if c.TokenID == "" || c.TokenSecret == "" {
		return models.ErrMissingCredentials
	}
	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	if c.Log.File == "" {
		return nil
	}

	dir := filepath.Dir(c.Log.File)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	return nil
}

// HTTPURL is a validation rule accepting empty strings and absolute http(s)
// URLs.
func HTTPURL(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must be an http or https URL")
	}
	if u.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}
