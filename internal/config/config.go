// Package config loads the service configuration from a YAML file and
// applies environment variable overrides. A .env file in the working
// directory is loaded first so container deployments can configure the
// service without a config file at all.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Defaults applied when neither the config file nor the environment
// provides a value.
const (
	DefaultPort          = 8000
	DefaultDatabaseURL   = "file:nope.db"
	DefaultFeedOutputDir = "edl_files"

	DefaultRateLimitRequests = 120
	DefaultRateLimitWindow   = time.Minute

	DefaultTokenExpiry = 12 * time.Hour
)

// placeholderSecret is rejected at startup so a copied example config
// cannot reach production unchanged.
const placeholderSecret = "change-me"

// Config is the root configuration for the service.
type Config struct {
	// Port is the HTTP listen port for the management API.
	Port int `yaml:"port"`
	// DatabaseURL is the database DSN (postgres URL or sqlite file path).
	DatabaseURL string `yaml:"database-url"`
	// SecretKey signs console session tokens.
	SecretKey string `yaml:"secret-key"`
	// TokenExpiry is how long issued session tokens stay valid.
	TokenExpiry time.Duration `yaml:"token-expiry"`

	// AdminPassword is the initial password for the seeded admin user.
	AdminPassword string `yaml:"admin-password"`
	// FeedPassword is the initial password for the seeded feed credential.
	FeedPassword string `yaml:"feed-password"`

	// FeedOutputDir is where generated feed files are written. The
	// htpasswd mirror lives beside the feeds in the same directory.
	FeedOutputDir string `yaml:"feed-output-dir"`

	// RateLimitRequests is the per-client request budget per window.
	RateLimitRequests int `yaml:"rate-limit-requests"`
	// RateLimitWindow is the sliding window length.
	RateLimitWindow time.Duration `yaml:"rate-limit-window"`

	// RedisURL enables the shared rate limiter backend when set.
	RedisURL string `yaml:"redis-url"`

	// LogFile is the rotated log destination; empty logs to stderr only.
	LogFile string `yaml:"log-file"`
	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`
}

// Load reads the config file at path (optional), applies environment
// overrides, fills defaults, and validates the result.
func Load(path string) (*Config, error) {
	if errEnv := godotenv.Load(); errEnv != nil {
		log.Debug("no .env file found, using process environment")
	}

	cfg := &Config{}
	if path != "" {
		data, errRead := os.ReadFile(path)
		if errRead != nil && !errors.Is(errRead, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", errRead)
		}
		if errRead == nil {
			if errParse := yaml.Unmarshal(data, cfg); errParse != nil {
				return nil, fmt.Errorf("parse config: %w", errParse)
			}
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if errValidate := cfg.Validate(); errValidate != nil {
		return nil, errValidate
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("NOPE_PORT"); v != "" {
		if port, errParse := strconv.Atoi(v); errParse == nil {
			cfg.Port = port
		} else {
			log.WithField("value", v).Warn("ignoring invalid NOPE_PORT")
		}
	}
	if v := os.Getenv("NOPE_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("NOPE_SECRET_KEY"); v != "" {
		cfg.SecretKey = v
	}
	if v := os.Getenv("NOPE_ADMIN_PASSWORD"); v != "" {
		cfg.AdminPassword = v
	}
	if v := os.Getenv("NOPE_FEED_PASSWORD"); v != "" {
		cfg.FeedPassword = v
	}
	if v := os.Getenv("NOPE_FEED_OUTPUT_DIR"); v != "" {
		cfg.FeedOutputDir = v
	}
	if v := os.Getenv("NOPE_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("NOPE_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("NOPE_DEBUG"); v != "" {
		cfg.Debug = v == "1" || v == "true"
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = DefaultDatabaseURL
	}
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = DefaultTokenExpiry
	}
	if cfg.FeedOutputDir == "" {
		cfg.FeedOutputDir = DefaultFeedOutputDir
	}
	if cfg.RateLimitRequests == 0 {
		cfg.RateLimitRequests = DefaultRateLimitRequests
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = DefaultRateLimitWindow
	}
}

// Validate rejects configurations that cannot run safely.
func (c *Config) Validate() error {
	if c.SecretKey == "" || c.SecretKey == placeholderSecret {
		return errors.New("secret-key must be set to a non-default value")
	}
	if c.AdminPassword == "" {
		return errors.New("admin-password must be set for initial seeding")
	}
	if c.FeedPassword == "" {
		return errors.New("feed-password must be set for initial seeding")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	return nil
}
