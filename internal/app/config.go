package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by LoadConfig, e.g.
// VEGAPRE_CACHE_CAPACITY.
const EnvPrefix = "VEGAPRE"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	CacheCapacity    int   `mapstructure:"cache_capacity"`
	CacheMemoryLimit int64 `mapstructure:"cache_memory_limit"`
	Workers          int   `mapstructure:"workers"`

	LogFormat string `mapstructure:"log_format"`
	LogLevel  string `mapstructure:"log_level"`

	ListenAddr  string        `mapstructure:"listen_addr"`
	DataDir     string        `mapstructure:"data_dir"` // enables file urls below it
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`

	S3Endpoint        string `mapstructure:"s3_endpoint"`
	S3AccessKeyID     string `mapstructure:"s3_access_key_id"`
	S3SecretAccessKey string `mapstructure:"s3_secret_access_key"`
	S3UseSSL          bool   `mapstructure:"s3_use_ssl"`
}

var defaults = map[string]any{
	"cache_capacity":       256,
	"cache_memory_limit":   64 << 20,
	"workers":              0,
	"log_format":           "text",
	"log_level":            "info",
	"listen_addr":          ":8080",
	"data_dir":             "",
	"http_timeout":         "30s",
	"s3_endpoint":          "",
	"s3_access_key_id":     "",
	"s3_secret_access_key": "",
	"s3_use_ssl":           true,
}

// LoadConfig layers defaults, the optional config file at path, VEGAPRE_
// environment variables and finally the flags the user actually set. Flag
// names use dashes for the underscores of the config keys.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key := range defaults {
			if f := flags.Lookup(strings.ReplaceAll(key, "_", "-")); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", f.Name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return NewConfig(cfg)
}

// NewConfig validates cfg and returns a copy of it.
func NewConfig(cfg Config) (*Config, error) {
	var errs []error
	if cfg.CacheCapacity < 0 {
		errs = append(errs, fmt.Errorf("cache_capacity must not be negative, got %d", cfg.CacheCapacity))
	}
	if cfg.CacheMemoryLimit < 0 {
		errs = append(errs, fmt.Errorf("cache_memory_limit must not be negative, got %d", cfg.CacheMemoryLimit))
	}
	if cfg.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", cfg.Workers))
	}

	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, errors.New("invalid log_format: must be 'text' or 'json'"))
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, errors.New("invalid log_level: must be 'debug', 'info', 'warn', or 'error'"))
	}

	if cfg.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("http_timeout must be positive, got %s", cfg.HTTPTimeout))
	}
	if cfg.S3Endpoint != "" && (cfg.S3AccessKeyID == "") != (cfg.S3SecretAccessKey == "") {
		errs = append(errs, errors.New("s3_access_key_id and s3_secret_access_key must be set together"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &cfg, nil
}
