// Package logging is the daemon's structured logging layer on slog:
// leveled text or JSON output, redaction of credential-bearing fields,
// size-capped file rotation, and crash dumps on panic.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Level aliases slog's level so callers never import both packages.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format selects the wire shape of a log line.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Config holds the logging configuration.
type Config struct {
	Level  Level
	Format Format

	// Output is "stdout", "stderr" or "file".
	Output string

	// FilePath is where lines land when Output is "file".
	FilePath string

	// MaxSize caps the live log file in megabytes before rotation.
	MaxSize int64

	// MaxBackups bounds how many rotated files are kept.
	MaxBackups int

	// MaxAge bounds rotated file age in days.
	MaxAge int

	// Compress gzips rotated files.
	Compress bool

	// Component tags every line from this logger.
	Component string
}

// DefaultConfig returns stderr text logging at info level.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     "stderr",
		FilePath:   defaultLogPath(),
		MaxSize:    100,
		MaxAge:     30,
		MaxBackups: 5,
		Compress:   true,
		Component:  "sentineld",
	}
}

func defaultLogPath() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Logs", "sentineld", "sentineld.log")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "sentineld", "logs", "sentineld.log")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			home, _ := os.UserHomeDir()
			stateHome = filepath.Join(home, ".local", "state")
		}
		return filepath.Join(stateHome, "sentineld", "sentineld.log")
	}
}

// Logger embeds slog.Logger and keeps a handle on the rotator so Close
// can flush the file output.
type Logger struct {
	*slog.Logger
	rotator *rotator
}

var defaultLogger = func() *Logger {
	l, err := New(DefaultConfig())
	if err != nil {
		return &Logger{Logger: slog.Default()}
	}
	return l
}()

// Default returns the process-wide logger.
func Default() *Logger { return defaultLogger }

// SetDefault replaces the process-wide logger and slog's default.
func SetDefault(l *Logger) {
	defaultLogger = l
	slog.SetDefault(l.Logger)
}

// New builds a Logger from cfg. A nil cfg gets DefaultConfig.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{}
	var w io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		w = os.Stdout
	case "file":
		r, err := newRotator(cfg)
		if err != nil {
			return nil, fmt.Errorf("log file: %w", err)
		}
		l.rotator = r
		w = r
	default:
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: cfg.Level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if redactedKey(a.Key) {
				a.Value = slog.StringValue("[REDACTED]")
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	if cfg.Component != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("component", cfg.Component)})
	}

	l.Logger = slog.New(handler)
	return l, nil
}

// redactedKey reports whether an attribute may carry credential
// material. Session tokens and cache keys must never reach a log file.
func redactedKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range []string{
		"token", "credential", "secret", "password",
		"session_key", "api_key", "bearer", "auth",
	} {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// WithComponent returns a child logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger:  l.Logger.With(slog.String("component", name)),
		rotator: l.rotator,
	}
}

// Close flushes and closes the file output, if any.
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// ParseLevel maps a config string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}
