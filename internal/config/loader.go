package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/TheMichaelB/wikisync/internal/models"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	rootDir    string
	envPrefix  string
}

// NewLoader creates a config loader. An empty configPath searches the
// default locations.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envPrefix:  "WIKISYNC",
	}
}

// WithRoot sets the wiki root used for the .env file and config lookup.
func (l *Loader) WithRoot(dir string) *Loader {
	l.rootDir = dir
	return l
}

// Load reads configuration from .env, file and environment, in increasing
// order of precedence.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.rootDir != "" {
		if err := LoadEnvFile(filepath.Join(l.rootDir, cfg.Auth.EnvFile)); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	v := l.newViper(cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config file %s: %w", v.ConfigFileUsed(), err)
		}
		if l.configPath != "" {
			return nil, fmt.Errorf("load config file %s: %w", l.configPath, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}

	return cfg, nil
}

// ConfigFileUsed returns the config file that Load would read, if any.
func (l *Loader) ConfigFileUsed() string {
	v := l.newViper(DefaultConfig())
	if err := v.ReadInConfig(); err != nil {
		return ""
	}
	return v.ConfigFileUsed()
}

func (l *Loader) newViper(defaults *Config) *viper.Viper {
	v := viper.New()
	setDefaults(v, defaults)

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
	} else {
		for _, dir := range l.searchPaths() {
			v.AddConfigPath(dir)
		}
		v.SetConfigName("wikisync")
	}

	v.SetEnvPrefix(l.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// BookStack's own variable names, as used by its API docs.
	_ = v.BindEnv("api.base_url", l.envPrefix+"_API_BASE_URL", "BOOKSTACK_URL")
	_ = v.BindEnv("auth.token_id", l.envPrefix+"_AUTH_TOKEN_ID", "BOOKSTACK_TOKEN_ID")
	_ = v.BindEnv("auth.token_secret", l.envPrefix+"_AUTH_TOKEN_SECRET", "BOOKSTACK_TOKEN_SECRET")

	return v
}

// searchPaths returns default config file locations.
func (l *Loader) searchPaths() []string {
	var paths []string
	if l.rootDir != "" {
		paths = append(paths, l.rootDir)
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "wikisync"))
	}

	return paths
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.timeout", cfg.API.Timeout)
	v.SetDefault("api.max_retries", cfg.API.MaxRetries)
	v.SetDefault("api.retry_delay", cfg.API.RetryDelay)
	v.SetDefault("api.page_size", cfg.API.PageSize)
	v.SetDefault("api.user_agent", cfg.API.UserAgent)
	v.SetDefault("api.insecure_skip_verify", cfg.API.InsecureSkipVerify)

	v.SetDefault("auth.token_id", cfg.Auth.TokenID)
	v.SetDefault("auth.token_secret", cfg.Auth.TokenSecret)
	v.SetDefault("auth.env_file", cfg.Auth.EnvFile)

	v.SetDefault("sync.max_concurrent", cfg.Sync.MaxConcurrent)
	v.SetDefault("sync.ignore_file", cfg.Sync.IgnoreFile)
	v.SetDefault("sync.max_file_size", cfg.Sync.MaxFileSize)

	v.SetDefault("manifest.filename", cfg.Manifest.Filename)
	v.SetDefault("manifest.backup", cfg.Manifest.Backup)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.max_size", cfg.Log.MaxSize)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
	v.SetDefault("log.max_age", cfg.Log.MaxAge)
	v.SetDefault("log.color", cfg.Log.Color)
	v.SetDefault("log.timestamp", cfg.Log.Timestamp)
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// WriteCredentials stores the token in the .env file at path, keeping any
// other variables already in it.
func WriteCredentials(path, tokenID, tokenSecret string) error {
	env := map[string]string{}
	if existing, err := godotenv.Read(path); err == nil {
		env = existing
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", path, err)
	}

	env["BOOKSTACK_TOKEN_ID"] = tokenID
	env["BOOKSTACK_TOKEN_SECRET"] = tokenSecret

	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Chmod(path, 0600)
}

// SaveExample writes an example config file. The format follows the
// extension of path.
func SaveExample(path string) error {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
