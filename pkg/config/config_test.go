package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("does/not/exist.yaml")
	require.NoError(t, err)
	assert.Equal(t, "medium", cfg.Session.QualityProfile)
	assert.Equal(t, 0.05, cfg.Session.SpeakingLevel)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
session:
  quality_profile: high
  speaking_level: 0.1
  quality_interval: 10s
relay:
  address: ":9999"
  jwt_secret: "secret"
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "high", cfg.Session.QualityProfile)
	assert.Equal(t, 0.1, cfg.Session.SpeakingLevel)
	assert.Equal(t, 10*time.Second, cfg.Session.QualityInterval)
	assert.Equal(t, ":9999", cfg.Relay.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unspecified sections keep defaults.
	assert.Equal(t, ":8080", cfg.HTTP.Address)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad profile", func(c *Config) { c.Session.QualityProfile = "ultra" }},
		{"speaking level too high", func(c *Config) { c.Session.SpeakingLevel = 1.5 }},
		{"speaking level zero", func(c *Config) { c.Session.SpeakingLevel = 0 }},
		{"half port range", func(c *Config) { c.WebRTC.PortRange.Min = 10000 }},
		{"inverted port range", func(c *Config) {
			c.WebRTC.PortRange.Min = 20000
			c.WebRTC.PortRange.Max = 10000
		}},
		{"empty relay address", func(c *Config) { c.Relay.Address = "" }},
		{"empty jwt secret", func(c *Config) { c.Relay.JWTSecret = "" }},
		{"zero rate limit", func(c *Config) { c.Relay.RateLimit.MessagesPerSecond = 0 }},
		{"redis without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MEETMESH_RELAY_ADDRESS", ":7777")
	t.Setenv("MEETMESH_LOG_LEVEL", "warn")

	cfg, err := Load("does/not/exist.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Relay.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
}
