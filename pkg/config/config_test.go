package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadParsesSizesAndDurations(t *testing.T) {
	p := writeConfig(t, `
server:
  address: "127.0.0.1"
  port: 9090
  db_path: "/tmp/chatrelay"
presence:
  window: 3m
  heartbeat_interval: 45s
calls:
  ring_timeout: 30s
signals:
  max_payload: 128KB
limits:
  max_text: 4KiB
retention:
  enabled: true
  cron: "0 3 * * *"
  period: 720h
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9090" {
		t.Fatalf("addr %q", cfg.Addr())
	}
	if got := time.Duration(cfg.Presence.Window); got != 3*time.Minute {
		t.Fatalf("presence window %v", got)
	}
	if got := time.Duration(cfg.Calls.RingTimeout); got != 30*time.Second {
		t.Fatalf("ring timeout %v", got)
	}
	if got := cfg.Signals.MaxPayload.Int64(); got != 128*1000 {
		t.Fatalf("max payload %d", got)
	}
	if got := cfg.Limits.MaxText.Int64(); got != 4*1024 {
		t.Fatalf("max text %d", got)
	}
	if !cfg.Retention.Enabled || cfg.Retention.Cron != "0 3 * * *" {
		t.Fatalf("retention %+v", cfg.Retention)
	}
	if got := time.Duration(cfg.Retention.Period); got != 720*time.Hour {
		t.Fatalf("retention period %v", got)
	}
}

func TestNumericDurationMeansSeconds(t *testing.T) {
	p := writeConfig(t, "presence:\n  window: 300\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := time.Duration(cfg.Presence.Window); got != 300*time.Second {
		t.Fatalf("window %v, want 300s", got)
	}
}

func TestAddrDefaults(t *testing.T) {
	var cfg Config
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Fatalf("default addr %q", cfg.Addr())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHATRELAY_ADDR", "10.0.0.5:7070")
	t.Setenv("CHATRELAY_DB_PATH", "/var/lib/chatrelay")
	t.Setenv("CHATRELAY_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("CHATRELAY_RING_TIMEOUT", "45s")
	t.Setenv("CHATRELAY_SIGNAL_MAX_PAYLOAD", "32KiB")
	t.Setenv("CHATRELAY_RETENTION_ENABLED", "true")

	var cfg Config
	if !LoadEnvOverrides(&cfg) {
		t.Fatal("env overrides not detected")
	}
	if cfg.Server.Address != "10.0.0.5" || cfg.Server.Port != 7070 {
		t.Fatalf("addr not split: %+v", cfg.Server)
	}
	if cfg.Server.DBPath != "/var/lib/chatrelay" {
		t.Fatalf("db path %q", cfg.Server.DBPath)
	}
	if len(cfg.Security.CORS.AllowedOrigins) != 2 || cfg.Security.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins %v", cfg.Security.CORS.AllowedOrigins)
	}
	if time.Duration(cfg.Calls.RingTimeout) != 45*time.Second {
		t.Fatalf("ring timeout %v", cfg.Calls.RingTimeout)
	}
	if cfg.Signals.MaxPayload.Int64() != 32*1024 {
		t.Fatalf("max payload %d", cfg.Signals.MaxPayload.Int64())
	}
	if !cfg.Retention.Enabled {
		t.Fatal("retention not enabled")
	}
}

func TestDotEnvReachesConfig(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("CHATRELAY_PORT=9999\nCHATRELAY_DB_PATH=/from/dotenv\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	// main loads .env into the process environment before resolving config
	if err := godotenv.Load(envFile); err != nil {
		t.Fatalf("load .env: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("CHATRELAY_PORT")
		os.Unsetenv("CHATRELAY_DB_PATH")
	})

	cfg, err := LoadEffective(Flags{
		Addr:   ":8080",
		DB:     "./.database",
		Config: filepath.Join(t.TempDir(), "absent.yaml"),
		Set:    map[string]bool{},
	})
	if err != nil {
		t.Fatalf("load effective: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("port %d, want 9999 from .env", cfg.Server.Port)
	}
	if cfg.Server.DBPath != "/from/dotenv" {
		t.Fatalf("db path %q, want .env value", cfg.Server.DBPath)
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("CHATRELAY_CONFIG", "/etc/chatrelay/config.yaml")
	if got := ResolveConfigPath("./config.yaml", false); got != "/etc/chatrelay/config.yaml" {
		t.Fatalf("env should win when flag unset, got %q", got)
	}
	if got := ResolveConfigPath("./explicit.yaml", true); got != "./explicit.yaml" {
		t.Fatalf("explicit flag should win, got %q", got)
	}
}

func TestLoadEffectivePrecedence(t *testing.T) {
	p := writeConfig(t, "server:\n  address: \"filehost\"\n  port: 1111\n  db_path: \"/from/file\"\n")
	t.Setenv("CHATRELAY_PORT", "2222")

	flags := Flags{
		Addr:   "flaghost:3333",
		DB:     "./.database",
		Config: p,
		Set:    map[string]bool{"config": true, "addr": true},
	}
	cfg, err := LoadEffective(flags)
	if err != nil {
		t.Fatalf("load effective: %v", err)
	}
	if cfg.Server.Address != "flaghost" || cfg.Server.Port != 3333 {
		t.Fatalf("flags must win: %+v", cfg.Server)
	}
	if cfg.Server.DBPath != "/from/file" {
		t.Fatalf("db path %q, want file value when -db unset", cfg.Server.DBPath)
	}
}

func TestLoadEffectiveMissingFileTolerated(t *testing.T) {
	flags := Flags{
		Addr:   ":8080",
		DB:     "./.database",
		Config: filepath.Join(t.TempDir(), "absent.yaml"),
		Set:    map[string]bool{},
	}
	cfg, err := LoadEffective(flags)
	if err != nil {
		t.Fatalf("default config path may be absent: %v", err)
	}
	if cfg.Server.DBPath != "./.database" {
		t.Fatalf("db fallback %q", cfg.Server.DBPath)
	}

	flags.Set["config"] = true
	if _, err := LoadEffective(flags); err == nil {
		t.Fatal("explicit -config pointing nowhere must fail")
	}
}
