/*
config.go - Server configuration

PURPOSE:
  One Config value drives the whole process: HTTP listener, database,
  authentication and logging.

PRECEDENCE (lowest to highest):
  1. Default()
  2. YAML file passed to Load (a missing file is not an error)
  3. Environment: CRM_PORT, CRM_DB_PATH, CRM_JWT_SECRET, CRM_LOG_LEVEL
  4. Command-line flags, applied by cmd/server

EXAMPLE FILE:
  server:
    port: 8080
    allowed_origins: ["http://localhost:5173"]
  database:
    path: ./data/crm.db
  auth:
    jwt_secret: change-me
    token_ttl: 24h
  logging:
    level: info
    format: json
  scheduler:
    enabled: true
    expiry_interval: 1h

SEE ALSO:
  - cmd/server/main.go: Flag overrides and startup
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	ReadTimeout    string   `yaml:"read_timeout"`
	WriteTimeout   string   `yaml:"write_timeout"`
	IdleTimeout    string   `yaml:"idle_timeout"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	// Path of the SQLite file; ":memory:" for a throwaway database.
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	TokenTTL   string `yaml:"token_ttl"`
	BcryptCost int    `yaml:"bcrypt_cost"`
}

type SchedulerConfig struct {
	// Enabled turns on the background policy expiry sweep.
	Enabled        bool   `yaml:"enabled"`
	ExpiryInterval string `yaml:"expiry_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// devSecret is only good for local runs; Validate refuses an empty secret, not this one.
const devSecret = "dev-secret-change-me"

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			ReadTimeout:    "15s",
			WriteTimeout:   "15s",
			IdleTimeout:    "60s",
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{Path: "crm.db"},
		Auth: AuthConfig{
			JWTSecret:  devSecret,
			TokenTTL:   "24h",
			BcryptCost: 12,
		},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Scheduler: SchedulerConfig{Enabled: true, ExpiryInterval: "1h"},
	}
}

// Load reads path over the defaults and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("CRM_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CRM_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("CRM_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CRM_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("CRM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database path not configured")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret not configured (set CRM_JWT_SECRET)")
	}
	if _, err := time.ParseDuration(c.Auth.TokenTTL); err != nil {
		return fmt.Errorf("invalid token ttl %q: %w", c.Auth.TokenTTL, err)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Logging.Level, err)
	}
	if c.Scheduler.Enabled {
		if d, err := time.ParseDuration(c.Scheduler.ExpiryInterval); err != nil || d <= 0 {
			return fmt.Errorf("invalid expiry interval %q", c.Scheduler.ExpiryInterval)
		}
	}
	return nil
}

func (c *Config) GetReadTimeout() time.Duration  { return parseDuration(c.Server.ReadTimeout, 15*time.Second) }
func (c *Config) GetWriteTimeout() time.Duration { return parseDuration(c.Server.WriteTimeout, 15*time.Second) }
func (c *Config) GetIdleTimeout() time.Duration  { return parseDuration(c.Server.IdleTimeout, 60*time.Second) }
func (c *Config) GetTokenTTL() time.Duration     { return parseDuration(c.Auth.TokenTTL, 24*time.Hour) }
func (c *Config) GetExpiryInterval() time.Duration {
	return parseDuration(c.Scheduler.ExpiryInterval, time.Hour)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// NewLogger builds the process logger from the logging section.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Logging.Level, err)
	}

	zc := zap.NewProductionConfig()
	if c.Logging.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
