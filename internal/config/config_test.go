package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =====================================================================
// Defaults and validation
// =====================================================================

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty base url", func(c *Config) { c.Server.BaseURL = "" }, "server.base_url"},
		{"bad scheme", func(c *Config) { c.Server.BaseURL = "ftp://host" }, "server.base_url"},
		{"zero timeout", func(c *Config) { c.Server.RequestTimeoutSec = 0 }, "server.request_timeout_sec"},
		{"unknown source", func(c *Config) { c.Capture.Source = "kinect" }, "capture.source"},
		{"script without path", func(c *Config) { c.Capture.Source = "script"; c.Capture.ScriptPath = "" }, "capture.script_path"},
		{"zero buffer", func(c *Config) { c.Telemetry.BufferCapacity = 0 }, "telemetry.buffer_capacity"},
		{"zero poll", func(c *Config) { c.Trust.PollIntervalSec = 0 }, "trust.poll_interval_sec"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"file output no path", func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }, "logging.file_path"},
		{"bad health addr", func(c *Config) { c.Health.ListenAddr = "no-port" }, "health.listen_addr"},
		{"journal no path", func(c *Config) { c.Journal.Path = "" }, "journal.path"},
		{"future version", func(c *Config) { c.Version = Version + 1 }, "version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not mention field %q", err, tt.field)
			}
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.BaseURL = ""
	cfg.Trust.PollIntervalSec = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "server.base_url") || !strings.Contains(msg, "trust.poll_interval_sec") {
		t.Errorf("expected both errors reported, got %q", msg)
	}
}

// =====================================================================
// File formats
// =====================================================================

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
version = 1

[server]
base_url = "https://auth.example.com"
request_timeout_sec = 15

[trust]
poll_interval_sec = 30
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.BaseURL != "https://auth.example.com" {
		t.Errorf("base_url = %q", cfg.Server.BaseURL)
	}
	if cfg.Server.RequestTimeoutSec != 15 {
		t.Errorf("request_timeout_sec = %d", cfg.Server.RequestTimeoutSec)
	}
	if cfg.Trust.PollIntervalSec != 30 {
		t.Errorf("poll_interval_sec = %d", cfg.Trust.PollIntervalSec)
	}
	// Untouched sections keep defaults.
	if cfg.Telemetry.KeystrokeIntervalSec != 3 {
		t.Errorf("keystroke_interval_sec = %d, want default 3", cfg.Telemetry.KeystrokeIntervalSec)
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"server": {"base_url": "http://collector:8420"}, "live": {"enabled": false, "reconnect_delay_sec": 5}}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.BaseURL != "http://collector:8420" {
		t.Errorf("base_url = %q", cfg.Server.BaseURL)
	}
	if cfg.Live.Enabled {
		t.Error("live.enabled should be false")
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "server:\n  base_url: https://auth.example.com\ntelemetry:\n  pointer_interval_sec: 8\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telemetry.PointerIntervalSec != 8 {
		t.Errorf("pointer_interval_sec = %d", cfg.Telemetry.PointerIntervalSec)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trust.PollIntervalSec != 10 {
		t.Errorf("poll_interval_sec = %d, want default 10", cfg.Trust.PollIntervalSec)
	}
}

func TestLoadInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := "[server]\nbase_url = \"\"\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for empty base_url")
	}
}

// =====================================================================
// Environment overrides
// =====================================================================

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_SERVER_URL", "https://env.example.com")
	t.Setenv("SENTINEL_LOG_LEVEL", "debug")
	t.Setenv("SENTINEL_SOCKET_PATH", "/run/test/sentineld.sock")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Server.BaseURL != "https://env.example.com" {
		t.Errorf("base_url = %q", cfg.Server.BaseURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
	if cfg.IPC.SocketPath != "/run/test/sentineld.sock" {
		t.Errorf("socket path = %q", cfg.IPC.SocketPath)
	}
}

func TestSentinelDirEnvOverride(t *testing.T) {
	t.Setenv("SENTINEL_DATA_DIR", "/var/lib/sentinel-test")
	if got := SentinelDir(); got != "/var/lib/sentinel-test" {
		t.Errorf("SentinelDir = %q", got)
	}
}

// =====================================================================
// LoadOrCreate
// =====================================================================

func TestLoadOrCreateWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if !created {
		t.Error("expected created=true for missing file")
	}
	if cfg.Version != Version {
		t.Errorf("version = %d", cfg.Version)
	}

	// Second call loads the written file.
	cfg2, created2, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate (second): %v", err)
	}
	if created2 {
		t.Error("expected created=false for existing file")
	}
	if cfg2.Server.BaseURL != cfg.Server.BaseURL {
		t.Errorf("round trip base_url = %q, want %q", cfg2.Server.BaseURL, cfg.Server.BaseURL)
	}
}

// =====================================================================
// Hot reload
// =====================================================================

func TestLoaderHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(path, []byte("version = 1\n[trust]\npoll_interval_sec = 10\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loader := NewLoader(path)
	defer loader.Close()

	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	reloaded := make(chan *Config, 1)
	loader.OnChange(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("version = 1\n[trust]\npoll_interval_sec = 25\n"), 0600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Trust.PollIntervalSec != 25 {
			t.Errorf("reloaded poll_interval_sec = %d, want 25", cfg.Trust.PollIntervalSec)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if got := loader.Config().Trust.PollIntervalSec; got != 25 {
		t.Errorf("Config() poll_interval_sec = %d, want 25", got)
	}
}

func TestLoaderKeepsConfigOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(path, []byte("version = 1\n[trust]\npoll_interval_sec = 10\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loader := NewLoader(path)
	defer loader.Close()

	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Invalid value: validation must reject it and keep the old config.
	if err := os.WriteFile(path, []byte("version = 1\n[trust]\npoll_interval_sec = 0\n"), 0600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case err := <-loader.Errors():
		if !strings.Contains(err.Error(), "trust.poll_interval_sec") {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}

	if got := loader.Config().Trust.PollIntervalSec; got != 10 {
		t.Errorf("poll_interval_sec = %d, want unchanged 10", got)
	}
}
