package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL    string
	HTTPListenAddr string
	LogLevel       string
	ServiceName    string

	// LogDir is the root directory for per-server agent install logs and
	// host-level logs served by the logs API.
	LogDir string

	// AgentVersion selects the agent release downloaded during provisioning.
	AgentVersion     string
	AgentDownloadURL string
	AgentDefaultPort int

	SSHTimeout   time.Duration
	PingInterval time.Duration
	StatWindow   time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8090"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		ServiceName:      getEnv("SERVICE_NAME", "fleet-api"),
		LogDir:           getEnv("LOG_DIR", "logs"),
		AgentVersion:     getEnv("AGENT_VERSION", "0.1.1"),
		AgentDownloadURL: getEnv("AGENT_DOWNLOAD_URL", "https://github.com/vetle/fleet/releases/download/v%s/agent"),
		AgentDefaultPort: getEnvInt("AGENT_DEFAULT_PORT", 8083),
		SSHTimeout:       getEnvDuration("SSH_TIMEOUT", 10*time.Second),
		PingInterval:     getEnvDuration("PING_INTERVAL", 10*time.Second),
		StatWindow:       getEnvDuration("STAT_WINDOW", 15*time.Minute),
	}

	return cfg, nil
}

// Validate checks that config required by the given component is present.
func (c *Config) Validate(component string) error {
	switch component {
	case "fleet-api":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
