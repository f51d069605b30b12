package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// CrashReport is what a panic leaves behind on disk. It carries no
// session material, only what is needed to diagnose the crash.
type CrashReport struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version"`
	GOOS       string    `json:"goos"`
	GOARCH     string    `json:"goarch"`
	Component  string    `json:"component,omitempty"`
	PanicValue string    `json:"panic_value"`
	StackTrace string    `json:"stack_trace"`
}

// CrashHandler writes crash dumps for recovered panics.
type CrashHandler struct {
	mu        sync.Mutex
	crashDir  string
	version   string
	component string
	seq       uint64
}

// CrashHandlerConfig configures a CrashHandler.
type CrashHandlerConfig struct {
	// CrashDir is where dumps land; empty means DefaultCrashDir.
	CrashDir string

	// Version is recorded in every report.
	Version string

	// Component names the crashing process.
	Component string
}

// DefaultCrashDir returns the platform-specific crash dump directory.
func DefaultCrashDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Logs", "DiagnosticReports", "sentineld")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "sentineld", "crashes")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			home, _ := os.UserHomeDir()
			stateHome = filepath.Join(home, ".local", "state")
		}
		return filepath.Join(stateHome, "sentineld", "crashes")
	}
}

var (
	globalCrashHandler *CrashHandler
	crashHandlerOnce   sync.Once
)

// DefaultCrashHandler returns the process-wide crash handler.
func DefaultCrashHandler() *CrashHandler {
	crashHandlerOnce.Do(func() {
		if globalCrashHandler == nil {
			globalCrashHandler = NewCrashHandler(nil)
		}
	})
	return globalCrashHandler
}

// SetDefaultCrashHandler replaces the process-wide crash handler.
func SetDefaultCrashHandler(h *CrashHandler) {
	globalCrashHandler = h
}

// NewCrashHandler creates a CrashHandler, creating the dump directory.
func NewCrashHandler(cfg *CrashHandlerConfig) *CrashHandler {
	if cfg == nil {
		cfg = &CrashHandlerConfig{Component: "sentineld"}
	}
	dir := cfg.CrashDir
	if dir == "" {
		dir = DefaultCrashDir()
	}
	os.MkdirAll(dir, 0750)
	return &CrashHandler{
		crashDir:  dir,
		version:   cfg.Version,
		component: cfg.Component,
	}
}

// HandlePanic records a recovered panic as a dump file and to stderr.
func (h *CrashHandler) HandlePanic(panicValue any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	report := CrashReport{
		Timestamp:  time.Now().UTC(),
		Version:    h.version,
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		Component:  h.component,
		PanicValue: fmt.Sprintf("%v", panicValue),
		StackTrace: string(debug.Stack()),
	}
	h.seq++
	h.writeDump(report, h.seq)

	fmt.Fprintf(os.Stderr, "panic: %s\n%s\ncrash dump written to %s\n",
		report.PanicValue, report.StackTrace, h.crashDir)
}

// writeDump persists a report. The filename carries nanoseconds and a
// per-handler sequence number so back-to-back panics never overwrite
// each other.
func (h *CrashHandler) writeDump(report CrashReport, seq uint64) error {
	name := fmt.Sprintf("crash-%s-%d-%d.json",
		report.Component, report.Timestamp.UnixNano(), seq)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(h.crashDir, name), data, 0640)
}

// Reports loads every dump in the crash directory.
func (h *CrashHandler) Reports() ([]CrashReport, error) {
	files, err := filepath.Glob(filepath.Join(h.crashDir, "crash-*.json"))
	if err != nil {
		return nil, err
	}
	reports := make([]CrashReport, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		var r CrashReport
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// CleanupOld removes dumps older than maxAge.
func (h *CrashHandler) CleanupOld(maxAge time.Duration) error {
	files, err := filepath.Glob(filepath.Join(h.crashDir, "crash-*.json"))
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(f)
		}
	}
	return nil
}

// RecoverPanic records a panic and lets the process die.
// Usage: defer logging.RecoverPanic()
func RecoverPanic() {
	if r := recover(); r != nil {
		DefaultCrashHandler().HandlePanic(r)
		panic(r)
	}
}
