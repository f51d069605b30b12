package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for inconsistent or out-of-range
// values. All problems are reported at once.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateServer(&c.Server)...)
	errs = append(errs, validateCapture(&c.Capture)...)
	errs = append(errs, validateTelemetry(&c.Telemetry)...)
	errs = append(errs, validateTrust(&c.Trust)...)
	errs = append(errs, validateLive(&c.Live)...)
	errs = append(errs, validateSession(&c.Session)...)
	errs = append(errs, validateJournal(&c.Journal)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateHealth(&c.Health)...)
	errs = append(errs, validateIPC(&c.IPC)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServer(s *ServerConfig) ValidationErrors {
	var errs ValidationErrors

	if s.BaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "server.base_url",
			Message: "must not be empty",
		})
	} else {
		u, err := url.Parse(s.BaseURL)
		if err != nil || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "server.base_url",
				Message: fmt.Sprintf("invalid URL %q", s.BaseURL),
			})
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, ValidationError{
				Field:   "server.base_url",
				Message: fmt.Sprintf("unsupported scheme %q (use http or https)", u.Scheme),
			})
		}
	}

	if s.RequestTimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "server.request_timeout_sec",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateCapture(c *CaptureConfig) ValidationErrors {
	var errs ValidationErrors

	switch c.Source {
	case "evdev", "script":
	default:
		errs = append(errs, ValidationError{
			Field:   "capture.source",
			Message: fmt.Sprintf("unknown source %q (use evdev or script)", c.Source),
		})
	}

	if c.Source == "script" && c.ScriptPath == "" {
		errs = append(errs, ValidationError{
			Field:   "capture.script_path",
			Message: "required when source is script",
		})
	}

	return errs
}

func validateTelemetry(t *TelemetryConfig) ValidationErrors {
	var errs ValidationErrors

	if t.BufferCapacity < 1 {
		errs = append(errs, ValidationError{
			Field:   "telemetry.buffer_capacity",
			Message: "must be at least 1",
		})
	}
	if t.KeystrokeIntervalSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "telemetry.keystroke_interval_sec",
			Message: "must be at least 1",
		})
	}
	if t.PointerIntervalSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "telemetry.pointer_interval_sec",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateTrust(t *TrustConfig) ValidationErrors {
	var errs ValidationErrors

	if t.PollIntervalSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "trust.poll_interval_sec",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateLive(l *LiveConfig) ValidationErrors {
	var errs ValidationErrors

	if l.Enabled && l.ReconnectDelaySec < 1 {
		errs = append(errs, ValidationError{
			Field:   "live.reconnect_delay_sec",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateSession(s *SessionConfig) ValidationErrors {
	var errs ValidationErrors

	if s.Persist && s.CacheDir == "" {
		errs = append(errs, ValidationError{
			Field:   "session.cache_dir",
			Message: "required when persist is enabled",
		})
	}
	if s.KeepAliveIntervalSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "session.keep_alive_interval_sec",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateJournal(j *JournalConfig) ValidationErrors {
	var errs ValidationErrors

	if j.Enabled && j.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "journal.path",
			Message: "required when journal is enabled",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr", "file":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("unknown output %q", l.Output),
		})
	}

	if l.Output == "file" && l.FilePath == "" {
		errs = append(errs, ValidationError{
			Field:   "logging.file_path",
			Message: "required when output is file",
		})
	}

	return errs
}

func validateHealth(h *HealthConfig) ValidationErrors {
	var errs ValidationErrors

	if h.Enabled {
		if _, _, err := net.SplitHostPort(h.ListenAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "health.listen_addr",
				Message: fmt.Sprintf("invalid address %q", h.ListenAddr),
			})
		}
	}

	return errs
}

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors

	if i.Enabled && i.SocketPath == "" {
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: "required when ipc is enabled",
		})
	}
	if i.TimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.timeout_sec",
			Message: "must be at least 1",
		})
	}
	if i.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_connections",
			Message: "must be at least 1",
		})
	}

	return errs
}
