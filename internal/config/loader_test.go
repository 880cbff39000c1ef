package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReadsFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "perch.yaml")
	doc := `
server:
  name: hub.example
  sid: 9ZZ
uplink:
  addr: irc.example:6667
  send_password: outgoing
  recv_password: incoming
  ping_interval: 30s
plugins:
  dir: /opt/perch/plugins
  enabled: [greeter]
log_level: debug
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if resolved != path {
		t.Errorf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.Server.Name != "hub.example" || cfg.Server.SID != "9ZZ" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Uplink.Addr != "irc.example:6667" || cfg.Uplink.PingInterval != 30*time.Second {
		t.Errorf("uplink = %+v", cfg.Uplink)
	}
	// Untouched keys keep their defaults.
	if cfg.Uplink.PongTimeout != 2*time.Minute {
		t.Errorf("pong_timeout = %v, want default", cfg.Uplink.PongTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if set := cfg.EnabledSet(); !set["greeter"] || len(set) != 1 {
		t.Errorf("enabled set = %v", set)
	}
}

func TestLoadWritesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "perch.yaml")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.SID != "00A" {
		t.Errorf("sid = %q, want default", cfg.Server.SID)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config not written: %v", err)
	}
}

func TestUpdateFromOverwritesNonZero(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{
		Server:   ServerConfig{Name: "other.example"},
		LogLevel: "warn",
	})
	if cfg.Server.Name != "other.example" {
		t.Errorf("name = %q", cfg.Server.Name)
	}
	if cfg.Server.SID != "00A" {
		t.Errorf("sid clobbered: %q", cfg.Server.SID)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
}
