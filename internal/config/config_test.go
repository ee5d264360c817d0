package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setSecrets(t *testing.T) {
	t.Setenv("HEALTHLEDGER_JWT_SECRET", "jwt")
	t.Setenv("HEALTHLEDGER_CURSOR_SECRET", "cursor")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HEALTHLEDGER_CONFIG", "")
	setSecrets(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "inline", cfg.TriggerMode)
	assert.Equal(t, 50, cfg.PageDefaultLimit)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.False(t, cfg.RateLimitEnabled)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "healthledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
db_path: /var/lib/healthledger/ledger.db
log_format: text
trigger_mode: nats
rate_limit_enabled: true
rate_limit_window: 30s
`), 0o600))

	t.Setenv("HEALTHLEDGER_CONFIG", path)
	t.Setenv("HEALTHLEDGER_ADDR", ":7070")
	t.Setenv("HEALTHLEDGER_RATE_LIMIT_REQUESTS", "10")
	setSecrets(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Addr, "env wins over file")
	assert.Equal(t, "/var/lib/healthledger/ledger.db", cfg.DBPath)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "nats", cfg.TriggerMode)
	assert.True(t, cfg.RateLimitEnabled)
	assert.Equal(t, 10, cfg.RateLimitRequests)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, "info", cfg.LogLevel, "unset keys keep defaults")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("HEALTHLEDGER_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := New()
		c.JWTSecret = "jwt"
		c.CursorSecret = "cursor"
		return c
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(*Config){
		"no jwt secret":    func(c *Config) { c.JWTSecret = "" },
		"no cursor secret": func(c *Config) { c.CursorSecret = "" },
		"bad trigger mode": func(c *Config) { c.TriggerMode = "kafka" },
		"nats without url": func(c *Config) { c.TriggerMode = "nats"; c.NATSURL = "" },
		"limit over max":   func(c *Config) { c.PageDefaultLimit = 500 },
		"rate without redis": func(c *Config) {
			c.RateLimitEnabled = true
			c.RedisURL = ""
		},
		"zero rate window": func(c *Config) {
			c.RateLimitEnabled = true
			c.RateLimitWindow = 0
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
