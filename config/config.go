// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup; Validate reports
// the settings that have no usable default (IRC endpoint, API credentials).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// IRC
	IRCServer           string
	IRCPort             int
	IRCChannel          string
	IRCNickname         string
	IRCPassword         string
	IRCNickServPassword string
	IRCTLS              bool

	// Tracker API
	APIURL   string
	APIToken string

	// Ledger
	AnnouncedFile string

	// Announce loop
	PollInterval time.Duration

	// Reconnect policy
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
	StabilityWindow time.Duration
}

// Load reads environment variables and applies defaults. It doesn't fail on missing credentials;
// use Validate() before starting the service so a broken unit file shows up at boot, not at the
// first poll.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.IRCServer = os.Getenv("IRC_SERVER")
	cfg.IRCPort = getEnvInt("IRC_PORT", 6697)
	cfg.IRCChannel = os.Getenv("IRC_CHANNEL")
	if cfg.IRCChannel != "" && !strings.HasPrefix(cfg.IRCChannel, "#") {
		cfg.IRCChannel = "#" + cfg.IRCChannel
	}
	cfg.IRCNickname = os.Getenv("IRC_NICKNAME")
	cfg.IRCPassword = os.Getenv("IRC_PASSWORD")
	cfg.IRCNickServPassword = os.Getenv("IRC_NICKSERV_PASSWORD")
	cfg.IRCTLS = os.Getenv("IRC_TLS") != "0" // default on; announce networks run TLS-only

	cfg.APIURL = os.Getenv("API_URL")
	cfg.APIToken = os.Getenv("API_TOKEN")

	// Ledger file: ANNOUNCED_FILE wins, else DATA_DIR/announced.log
	cfg.AnnouncedFile = os.Getenv("ANNOUNCED_FILE")
	if cfg.AnnouncedFile == "" {
		dataDir := os.Getenv("DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}
		cfg.AnnouncedFile = filepath.Join(dataDir, "announced.log")
	}

	cfg.PollInterval = getEnvDuration("POLL_INTERVAL", 30*time.Second)
	cfg.ReconnectMin = getEnvDuration("IRC_RECONNECT_MIN", 5*time.Second)
	cfg.ReconnectMax = getEnvDuration("IRC_RECONNECT_MAX", 5*time.Minute)
	cfg.StabilityWindow = getEnvDuration("IRC_STABILITY_WINDOW", time.Minute)
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = cfg.ReconnectMin
	}

	return cfg, nil
}

// Validate checks the fields the announcer cannot run without.
func (c *Config) Validate() error {
	var missing []string
	if c.IRCServer == "" {
		missing = append(missing, "IRC_SERVER")
	}
	if c.IRCChannel == "" {
		missing = append(missing, "IRC_CHANNEL")
	}
	if c.IRCNickname == "" {
		missing = append(missing, "IRC_NICKNAME")
	}
	if c.APIURL == "" {
		missing = append(missing, "API_URL")
	}
	if c.APIToken == "" {
		missing = append(missing, "API_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env: %s", strings.Join(missing, ", "))
	}
	if c.IRCPort <= 0 || c.IRCPort > 65535 {
		return fmt.Errorf("invalid IRC_PORT %d", c.IRCPort)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("invalid POLL_INTERVAL %s", c.PollInterval)
	}
	return nil
}

// Addr returns the host:port dial target for the IRC server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.IRCServer, c.IRCPort)
}

func getEnvInt(key string, defaultVal int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return defaultVal
}
