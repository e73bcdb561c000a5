package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.HTTPListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "logs", cfg.LogDir)
	assert.Equal(t, 8083, cfg.AgentDefaultPort)
	assert.Equal(t, 10*time.Second, cfg.PingInterval)
	assert.Equal(t, 15*time.Minute, cfg.StatWindow)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_LISTEN_ADDR", ":9999")
	t.Setenv("PING_INTERVAL", "30s")
	t.Setenv("AGENT_DEFAULT_PORT", "9000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTPListenAddr)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 9000, cfg.AgentDefaultPort)
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	t.Setenv("PING_INTERVAL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.PingInterval)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate("fleet-api"))

	cfg.DatabaseURL = "postgres://localhost/fleet"
	require.NoError(t, cfg.Validate("fleet-api"))
}
