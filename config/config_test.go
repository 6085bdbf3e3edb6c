package config

import (
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"IRC_SERVER", "IRC_PORT", "IRC_CHANNEL", "IRC_NICKNAME", "IRC_PASSWORD",
		"IRC_NICKSERV_PASSWORD", "IRC_TLS", "API_URL", "API_TOKEN",
		"ANNOUNCED_FILE", "DATA_DIR", "POLL_INTERVAL",
		"IRC_RECONNECT_MIN", "IRC_RECONNECT_MAX", "IRC_STABILITY_WINDOW",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.IRCPort != 6697 {
		t.Errorf("IRCPort = %d, want 6697", cfg.IRCPort)
	}
	if !cfg.IRCTLS {
		t.Errorf("IRCTLS = false, want default true")
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.PollInterval)
	}
	if cfg.ReconnectMin != 5*time.Second || cfg.ReconnectMax != 5*time.Minute {
		t.Errorf("reconnect defaults = %v/%v, want 5s/5m", cfg.ReconnectMin, cfg.ReconnectMax)
	}
	if cfg.AnnouncedFile != "data/announced.log" {
		t.Errorf("AnnouncedFile = %q, want data/announced.log", cfg.AnnouncedFile)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("IRC_SERVER", "irc.example.net")
	t.Setenv("IRC_PORT", "7000")
	t.Setenv("IRC_CHANNEL", "announce") // no # prefix on purpose
	t.Setenv("IRC_NICKNAME", "annbot")
	t.Setenv("IRC_TLS", "0")
	t.Setenv("API_URL", "https://tracker.example/api/torrents/filter")
	t.Setenv("API_TOKEN", "secret")
	t.Setenv("ANNOUNCED_FILE", "/var/lib/announcer/seen.log")
	t.Setenv("POLL_INTERVAL", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.IRCChannel != "#announce" {
		t.Errorf("IRCChannel = %q, want #announce", cfg.IRCChannel)
	}
	if cfg.IRCTLS {
		t.Errorf("IRCTLS = true, want false when IRC_TLS=0")
	}
	if cfg.PollInterval != 2*time.Minute {
		t.Errorf("PollInterval = %v, want 2m", cfg.PollInterval)
	}
	if cfg.AnnouncedFile != "/var/lib/announcer/seen.log" {
		t.Errorf("AnnouncedFile = %q", cfg.AnnouncedFile)
	}
	if got := cfg.Addr(); got != "irc.example.net:7000" {
		t.Errorf("Addr() = %q, want irc.example.net:7000", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil for complete config", err)
	}
}

func TestDataDirDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_DIR", "/srv/announcer")
	cfg, _ := Load()
	if cfg.AnnouncedFile != "/srv/announcer/announced.log" {
		t.Errorf("AnnouncedFile = %q, want /srv/announcer/announced.log", cfg.AnnouncedFile)
	}
}

func TestValidateMissing(t *testing.T) {
	clearEnv(t)
	cfg, _ := Load()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error for empty config")
	}
	for _, k := range []string{"IRC_SERVER", "IRC_CHANNEL", "IRC_NICKNAME", "API_URL", "API_TOKEN"} {
		if !strings.Contains(err.Error(), k) {
			t.Errorf("Validate() error %q does not name %s", err, k)
		}
	}
}

func TestValidateBadPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("IRC_SERVER", "irc.example.net")
	t.Setenv("IRC_CHANNEL", "#announce")
	t.Setenv("IRC_NICKNAME", "annbot")
	t.Setenv("API_URL", "https://tracker.example/api")
	t.Setenv("API_TOKEN", "secret")
	t.Setenv("IRC_PORT", "99999")
	cfg, _ := Load()
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil, want error for out-of-range port")
	}
}

func TestReconnectBoundsOrdered(t *testing.T) {
	clearEnv(t)
	t.Setenv("IRC_RECONNECT_MIN", "1m")
	t.Setenv("IRC_RECONNECT_MAX", "10s")
	cfg, _ := Load()
	if cfg.ReconnectMax < cfg.ReconnectMin {
		t.Errorf("ReconnectMax %v < ReconnectMin %v after Load", cfg.ReconnectMax, cfg.ReconnectMin)
	}
}
