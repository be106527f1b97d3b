// Package config loads vaultsync settings from defaults, an optional
// config.yaml, a .env file and VAULTSYNC_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/forest6511/vaultsync/pkg/cache"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "VAULTSYNC"

const (
	defaultDirName        = ".vaultsync"
	defaultHealthPath     = "/health"
	defaultPollInterval   = 15 * time.Second
	defaultRequestTimeout = 10 * time.Second
	defaultLogLevel       = "info"
	defaultLogFormat      = "console"
	configName            = "config"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Config holds the resolved settings.
type Config struct {
	DataDir          string        `mapstructure:"data_dir"`
	ServerURL        string        `mapstructure:"server_url"`
	HealthPath       string        `mapstructure:"health_path"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	RoutesFile       string        `mapstructure:"routes_file"`
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"`
	MutationPatterns []string      `mapstructure:"mutation_patterns"`
}

// Options control where Load looks.
type Options struct {
	// ConfigFile is an explicit config path. When empty, config.yaml is
	// looked up in the data directory.
	ConfigFile string
	// DataDir overrides every other data_dir source.
	DataDir string
	// EnvFile is loaded with godotenv when it exists. Defaults to ".env".
	EnvFile string
}

// Load resolves the configuration.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		// godotenv.Load never overrides variables already set.
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("config: failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	v.SetDefault("data_dir", filepath.Join(home, defaultDirName))
	v.SetDefault("server_url", "")
	v.SetDefault("health_path", defaultHealthPath)
	v.SetDefault("poll_interval", defaultPollInterval)
	v.SetDefault("request_timeout", defaultRequestTimeout)
	v.SetDefault("routes_file", "")
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("log_format", defaultLogFormat)
	v.SetDefault("mutation_patterns", []string{"/api/transactions*"})

	if opts.DataDir != "" {
		v.Set("data_dir", opts.DataDir)
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("data_dir"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: failed to read config.yaml: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to decode: %w", err)
	}
	if cfg.RoutesFile == "" {
		cfg.RoutesFile = filepath.Join(cfg.DataDir, cache.RoutesFileName)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and formats.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is empty", ErrInvalid)
	}
	if c.ServerURL != "" {
		u, err := url.Parse(c.ServerURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: server_url must be an absolute http(s) URL", ErrInvalid)
		}
	}
	if !strings.HasPrefix(c.HealthPath, "/") {
		return fmt.Errorf("%w: health_path must start with /", ErrInvalid)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalid)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request_timeout must be positive", ErrInvalid)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("%w: log_format must be console or json", ErrInvalid)
	}
	for _, p := range c.MutationPatterns {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%w: mutation pattern %q must start with /", ErrInvalid, p)
		}
	}
	return nil
}

// HealthURL returns the connectivity probe URL, or "" when no server is
// configured.
func (c *Config) HealthURL() string {
	if c.ServerURL == "" {
		return ""
	}
	return strings.TrimRight(c.ServerURL, "/") + c.HealthPath
}

// DBPath returns the SQLite database path inside the data directory.
func (c *Config) DBPath(fileName string) string {
	return filepath.Join(c.DataDir, fileName)
}
