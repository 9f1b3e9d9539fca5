package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	c := Default()

	assert.Equal(t, ModeServer, c.Mode)
	assert.Equal(t, "127.0.0.1:5555", c.Addr())
	assert.Positive(t, c.Workers)
	assert.NoError(t, c.Validate())
	assert.Empty(t, c.LogDir)
}

func TestFromEnv(t *testing.T) {
	c := Default()
	err := c.FromEnv(envMap(map[string]string{
		"RELAY_MODE":            "client",
		"RELAY_PORT":            "6000",
		"RELAY_MAILBOX_BACKEND": "redis",
		"RELAY_MAILBOX_TTL":     "1h",
		"RELAY_AUTH_ENABLED":    "true",
		"RELAY_LOG_LEVEL":       "  debug ",
		"RELAY_HOST":            "",
		"RELAY_LOG_DIR":         "/var/log/relay",
	}))
	require.NoError(t, err)

	assert.Equal(t, ModeClient, c.Mode)
	assert.Equal(t, 6000, c.Port)
	assert.Equal(t, BackendRedis, c.MailboxBackend)
	assert.Equal(t, time.Hour, c.MailboxTTL)
	assert.True(t, c.AuthEnabled)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "127.0.0.1", c.Host, "empty variables are ignored")
	assert.Equal(t, "/var/log/relay", c.LogDir)
}

func TestFromEnvInvalid(t *testing.T) {
	tests := map[string]string{
		"RELAY_PORT":          "many",
		"RELAY_READ_TIMEOUT":  "soon",
		"RELAY_REQUIRE_TOKEN": "maybe",
	}

	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			c := Default()
			err := c.FromEnv(envMap(map[string]string{name: value}))
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), name)
		})
	}
}

func TestBindFlags(t *testing.T) {
	c := Default()
	fs := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	c.BindFlags(fs)

	require.NoError(t, fs.Parse([]string{"-m", "client", "-H", "10.0.0.1", "-P", "7000", "--mailbox-limit", "5", "--read-timeout", "30s", "--log-dir", "logs"}))

	assert.Equal(t, ModeClient, c.Mode)
	assert.Equal(t, "10.0.0.1:7000", c.Addr())
	assert.Equal(t, 5, c.MailboxLimit)
	assert.Equal(t, 30*time.Second, c.ReadTimeout)
	assert.Equal(t, "logs", c.LogDir)
}

func TestBindFlagsKeepsEnvAsDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.FromEnv(envMap(map[string]string{"RELAY_PORT": "6001"})))

	fs := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	c.BindFlags(fs)
	require.NoError(t, fs.Parse(nil))

	assert.Equal(t, 6001, c.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "proxy" }},
		{"empty host", func(c *Config) { c.Host = " " }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"client without port", func(c *Config) { c.Mode = ModeClient; c.Port = 0 }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
		{"unknown backend", func(c *Config) { c.MailboxBackend = "disk" }},
		{"redis without addr", func(c *Config) { c.MailboxBackend = BackendRedis; c.RedisAddr = "" }},
		{"negative limit", func(c *Config) { c.MailboxLimit = -1 }},
		{"negative ttl", func(c *Config) { c.MailboxTTL = -time.Second }},
		{"negative timeout", func(c *Config) { c.WriteTimeout = -time.Second }},
		{"tiny frame", func(c *Config) { c.MaxFrameSize = 1 }},
		{"token without auth", func(c *Config) { c.RequireToken = true }},
		{"auth without token ttl", func(c *Config) { c.AuthEnabled = true; c.TokenTTL = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}

	t.Run("relay is a server alias", func(t *testing.T) {
		c := Default()
		c.Mode = ModeRelay
		assert.NoError(t, c.Validate())
		assert.True(t, c.IsServer())
	})

	t.Run("server on ephemeral port", func(t *testing.T) {
		c := Default()
		c.Port = 0
		assert.NoError(t, c.Validate())
	})
}
