// Package config handles configuration loading, validation, and hot
// reload for sentineld.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Server configuration for the remote collector.
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// Capture configuration for the input event source.
	Capture CaptureConfig `toml:"capture" json:"capture" yaml:"capture"`

	// Telemetry configuration for buffering and shipping.
	Telemetry TelemetryConfig `toml:"telemetry" json:"telemetry" yaml:"telemetry"`

	// Trust configuration for score polling.
	Trust TrustConfig `toml:"trust" json:"trust" yaml:"trust"`

	// Live configuration for the push channel.
	Live LiveConfig `toml:"live" json:"live" yaml:"live"`

	// Session configuration for credential handling.
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`

	// Journal configuration for the audit trail.
	Journal JournalConfig `toml:"journal" json:"journal" yaml:"journal"`

	// Dispatch configuration for security actions.
	Dispatch DispatchConfig `toml:"dispatch" json:"dispatch" yaml:"dispatch"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Health configuration for the diagnostics endpoint.
	Health HealthConfig `toml:"health" json:"health" yaml:"health"`

	// IPC configuration for the control socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`
}

// ServerConfig holds remote collector settings.
type ServerConfig struct {
	// BaseURL is the collector endpoint, e.g. https://auth.example.com.
	BaseURL string `toml:"base_url" json:"base_url" yaml:"base_url"`

	// RequestTimeoutSec is the per-request HTTP timeout in seconds.
	RequestTimeoutSec int `toml:"request_timeout_sec" json:"request_timeout_sec" yaml:"request_timeout_sec"`

	// UserAgent overrides the default User-Agent header.
	UserAgent string `toml:"user_agent" json:"user_agent" yaml:"user_agent"`
}

// CaptureConfig holds input source settings.
type CaptureConfig struct {
	// Enabled determines whether collection may start at all.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Source selects the input backend: "evdev" or "script".
	Source string `toml:"source" json:"source" yaml:"source"`

	// ScriptPath is the replay file used when Source is "script".
	ScriptPath string `toml:"script_path" json:"script_path" yaml:"script_path"`

	// AutoStart starts collection as soon as a session is bound.
	AutoStart bool `toml:"auto_start" json:"auto_start" yaml:"auto_start"`
}

// TelemetryConfig holds buffering and flush cadence settings.
type TelemetryConfig struct {
	// BufferCapacity is the per-modality event buffer cap.
	// Oldest events are dropped when the cap is reached.
	BufferCapacity int `toml:"buffer_capacity" json:"buffer_capacity" yaml:"buffer_capacity"`

	// KeystrokeIntervalSec is the keystroke flush interval in seconds.
	KeystrokeIntervalSec int `toml:"keystroke_interval_sec" json:"keystroke_interval_sec" yaml:"keystroke_interval_sec"`

	// PointerIntervalSec is the pointer flush interval in seconds.
	PointerIntervalSec int `toml:"pointer_interval_sec" json:"pointer_interval_sec" yaml:"pointer_interval_sec"`
}

// TrustConfig holds trust poll settings.
type TrustConfig struct {
	// PollIntervalSec is the trust score poll interval in seconds.
	PollIntervalSec int `toml:"poll_interval_sec" json:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// LiveConfig holds push channel settings.
type LiveConfig struct {
	// Enabled determines whether the WebSocket channel is used.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ReconnectDelaySec is the delay before a reconnect attempt.
	ReconnectDelaySec int `toml:"reconnect_delay_sec" json:"reconnect_delay_sec" yaml:"reconnect_delay_sec"`
}

// SessionConfig holds credential cache and keep-alive settings.
type SessionConfig struct {
	// CacheDir is the directory holding the encrypted session token.
	CacheDir string `toml:"cache_dir" json:"cache_dir" yaml:"cache_dir"`

	// Persist enables writing the bound token to the cache.
	Persist bool `toml:"persist" json:"persist" yaml:"persist"`

	// KeepAliveIntervalSec is the activity ping interval in seconds.
	KeepAliveIntervalSec int `toml:"keep_alive_interval_sec" json:"keep_alive_interval_sec" yaml:"keep_alive_interval_sec"`
}

// JournalConfig holds audit trail settings.
type JournalConfig struct {
	// Enabled determines whether actions and transitions are journaled.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// DispatchConfig holds security action settings.
type DispatchConfig struct {
	// Notifications enables desktop notifications for user-facing actions.
	Notifications bool `toml:"notifications" json:"notifications" yaml:"notifications"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the output format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the destination: "stdout", "stderr", or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when Output is "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is how long to keep rotated files.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress gzips rotated files.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// HealthConfig holds the diagnostics listener settings.
type HealthConfig struct {
	// Enabled determines whether the HTTP listener starts.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ListenAddr is the bind address, e.g. 127.0.0.1:9815.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// IPCConfig holds control socket settings.
type IPCConfig struct {
	// Enabled determines whether the control socket starts.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the unix socket path.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// TimeoutSec is the per-request timeout in seconds.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`

	// MaxConnections is the concurrent client cap.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	dir := SentinelDir()

	return &Config{
		Version: Version,
		Server: ServerConfig{
			BaseURL:           "http://127.0.0.1:8420",
			RequestTimeoutSec: 10,
		},
		Capture: CaptureConfig{
			Enabled:   true,
			Source:    "evdev",
			AutoStart: false,
		},
		Telemetry: TelemetryConfig{
			BufferCapacity:       1000,
			KeystrokeIntervalSec: 3,
			PointerIntervalSec:   4,
		},
		Trust: TrustConfig{
			PollIntervalSec: 10,
		},
		Live: LiveConfig{
			Enabled:           true,
			ReconnectDelaySec: 5,
		},
		Session: SessionConfig{
			CacheDir:             filepath.Join(dir, "session"),
			Persist:              true,
			KeepAliveIntervalSec: 300,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "audit.db"),
		},
		Dispatch: DispatchConfig{
			Notifications: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "sentineld.log"),
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Health: HealthConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:9815",
		},
		IPC: IPCConfig{
			Enabled:        true,
			SocketPath:     defaultSocketPath(),
			TimeoutSec:     30,
			MaxConnections: 10,
		},
	}
}

// SentinelDir returns the daemon data directory.
func SentinelDir() string {
	if envDir := os.Getenv("SENTINEL_DATA_DIR"); envDir != "" {
		return envDir
	}
	return platformDataDir()
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(SentinelDir(), "config.toml")
}

// ApplyEnvOverrides applies SENTINEL_* environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("SENTINEL_SERVER_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SENTINEL_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
		c.Logging.Output = "file"
	}
	if v := os.Getenv("SENTINEL_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("SENTINEL_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
	}
	if v := os.Getenv("SENTINEL_SESSION_DIR"); v != "" {
		c.Session.CacheDir = v
	}
	if v := os.Getenv("SENTINEL_HEALTH_ADDR"); v != "" {
		c.Health.ListenAddr = v
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// RequestTimeout returns the HTTP timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSec) * time.Second
}

// KeystrokeInterval returns the keystroke flush cadence as a duration.
func (c *Config) KeystrokeInterval() time.Duration {
	return time.Duration(c.Telemetry.KeystrokeIntervalSec) * time.Second
}

// PointerInterval returns the pointer flush cadence as a duration.
func (c *Config) PointerInterval() time.Duration {
	return time.Duration(c.Telemetry.PointerIntervalSec) * time.Second
}

// PollInterval returns the trust poll cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Trust.PollIntervalSec) * time.Second
}

// ReconnectDelay returns the live channel reconnect delay as a duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Live.ReconnectDelaySec) * time.Second
}

// KeepAliveInterval returns the session ping cadence as a duration.
func (c *Config) KeepAliveInterval() time.Duration {
	return time.Duration(c.Session.KeepAliveIntervalSec) * time.Second
}

func platformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "sentinel")
	case "windows":
		if appData := os.Getenv("LOCALAPPDATA"); appData != "" {
			return filepath.Join(appData, "sentinel")
		}
		return filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local", "sentinel")
	default:
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "sentinel")
		}
		return filepath.Join(os.Getenv("HOME"), ".local", "share", "sentinel")
	}
}

func defaultSocketPath() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "sentinel", "sentineld.sock")
	case "linux":
		if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
			return filepath.Join(xdgRuntime, "sentineld.sock")
		}
		return "/tmp/sentineld.sock"
	case "windows":
		return `\\.\pipe\sentineld`
	default:
		return "/tmp/sentineld.sock"
	}
}
