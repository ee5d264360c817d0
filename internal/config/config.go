// Package config holds process configuration.
//
// Values are layered: defaults, then an optional YAML file named by
// HEALTHLEDGER_CONFIG, then HEALTHLEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/danielhendel/oli-sub001/internal/trigger"
)

// Config contains process configuration.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBPath is the SQLite database file.
	DBPath string `koanf:"db_path"`

	// LogLevel is debug, info, warn or error. LogFormat is json or text.
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// JWTSecret signs bearer tokens. CursorSecret signs pagination cursors.
	JWTSecret    string `koanf:"jwt_secret"`
	CursorSecret string `koanf:"cursor_secret"`

	PageDefaultLimit int `koanf:"page_default_limit"`
	PageMaxLimit     int `koanf:"page_max_limit"`

	// TriggerMode is inline, nats or none.
	TriggerMode string `koanf:"trigger_mode"`
	NATSURL     string `koanf:"nats_url"`

	RateLimitEnabled  bool          `koanf:"rate_limit_enabled"`
	RedisURL          string        `koanf:"redis_url"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// New returns a Config with defaults. Secrets have no default.
func New() *Config {
	return &Config{
		Addr:              ":8080",
		DBPath:            "healthledger.db",
		LogLevel:          "info",
		LogFormat:         "json",
		PageDefaultLimit:  50,
		PageMaxLimit:      200,
		TriggerMode:       trigger.ModeInline,
		NATSURL:           "nats://127.0.0.1:4222",
		RateLimitEnabled:  false,
		RedisURL:          "redis://127.0.0.1:6379/0",
		RateLimitRequests: 120,
		RateLimitWindow:   time.Minute,
		ShutdownTimeout:   15 * time.Second,
	}
}

// Validate reports every setting that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path must not be empty"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret must be set"))
	}
	if c.CursorSecret == "" {
		errs = append(errs, errors.New("cursor_secret must be set"))
	}
	if c.PageDefaultLimit <= 0 || c.PageMaxLimit < c.PageDefaultLimit {
		errs = append(errs, fmt.Errorf("page limits must satisfy 0 < default (%d) <= max (%d)", c.PageDefaultLimit, c.PageMaxLimit))
	}
	switch c.TriggerMode {
	case trigger.ModeInline, trigger.ModeNone:
	case trigger.ModeNATS:
		if c.NATSURL == "" {
			errs = append(errs, errors.New("nats_url is required when trigger_mode is nats"))
		}
	default:
		errs = append(errs, fmt.Errorf("trigger_mode %q must be inline, nats or none", c.TriggerMode))
	}
	if c.RateLimitEnabled {
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis_url is required when rate limiting is enabled"))
		}
		if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
			errs = append(errs, errors.New("rate_limit_requests and rate_limit_window must be positive"))
		}
	}
	return errors.Join(errs...)
}
