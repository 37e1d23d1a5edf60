package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds all configuration for contentguard
type Config struct {
	// Server configuration
	Listen   string `mapstructure:"listen"`
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`

	// TLS configuration
	EnableTLS bool   `mapstructure:"enable_tls"`
	CertFile  string `mapstructure:"cert_file"`
	KeyFile   string `mapstructure:"key_file"`

	// Cache configuration
	Cache CacheConfig `mapstructure:"cache"`

	// Access decision configuration
	Access AccessConfig `mapstructure:"access"`

	// Metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// CacheConfig defines the membership/decision cache backend
type CacheConfig struct {
	Backend string `mapstructure:"backend"` // memory, redis, none

	// Memory backend
	Size int `mapstructure:"size"`

	// Redis backend
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// AccessConfig defines the access-decision tunables
type AccessConfig struct {
	LockRecursive              bool   `mapstructure:"lock_recursive"`
	AuthorsHasAccessToOwn      bool   `mapstructure:"authors_has_access_to_own"`
	AuthorsCanAddPostsToGroups bool   `mapstructure:"authors_can_add_posts_to_groups"`
	FullAccessRole             string `mapstructure:"full_access_role"`
}

// MetricsConfig defines metrics configuration
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Load loads configuration from various sources
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Bind command line flags
	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	// Read from config file if specified
	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Read from environment variables
	v.SetEnvPrefix("CONTENTGUARD")
	v.AutomaticEnv()

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate and setup defaults
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("listen", ":8080")
	// NO default for data_dir - must be explicitly configured
	v.SetDefault("log_level", "info")

	// TLS defaults
	v.SetDefault("enable_tls", false)

	// Cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.size", 4096)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)

	// Access defaults
	v.SetDefault("access.lock_recursive", false)
	v.SetDefault("access.authors_has_access_to_own", false)
	v.SetDefault("access.authors_can_add_posts_to_groups", false)
	v.SetDefault("access.full_access_role", "administrator")

	// Metrics defaults
	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"listen":         "listen",
		"data-dir":       "data_dir",
		"log-level":      "log_level",
		"enable-tls":     "enable_tls",
		"tls-cert":       "cert_file",
		"tls-key":        "key_file",
		"cache-backend":  "cache.backend",
		"lock-recursive": "access.lock_recursive",
	}

	for flag, key := range flags {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	return nil
}

func validate(cfg *Config) error {
	// Validate that data_dir is configured (either via flag, config file, or env var)
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required: specify via --data-dir flag, config file, or CONTENTGUARD_DATA_DIR environment variable")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(filepath.Join(cfg.DataDir, "db"), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	switch cfg.Cache.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unknown cache backend %q: must be memory, redis or none", cfg.Cache.Backend)
	}
	if cfg.Cache.Backend == "redis" && cfg.Cache.RedisAddr == "" {
		return fmt.Errorf("cache backend redis requires cache.redis_addr")
	}
	if cfg.Cache.Size < 0 {
		return fmt.Errorf("cache.size must not be negative")
	}

	// Validate TLS configuration
	if cfg.EnableTLS {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert-file or key-file not specified")
		}
	}

	return nil
}

// DatabasePath returns the location of the sqlite database under the data
// directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "db", "contentguard.db")
}
