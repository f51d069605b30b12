package session

import (
	"sync"
	"time"

	"sentinel/internal/logging"
)

// Manager holds the currently bound session token. It is the single source
// of truth every other component consults: the capture gate, the API
// client's bearer header, the live channel address. Binding a new token
// atomically replaces the old one; clearing leaves the engine captured but
// mute until a new session is bound.
type Manager struct {
	log   *logging.Logger
	cache *CredentialCache // optional

	mu      sync.Mutex
	token   string
	boundAt time.Time

	onClear []func()
}

// NewManager creates a Manager. cache may be nil to disable persistence;
// log may be nil.
func NewManager(cache *CredentialCache, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default().WithComponent("session")
	}
	return &Manager{log: log, cache: cache}
}

// OnClear registers a callback fired whenever the session is cleared,
// including by a rebind. Register during wiring, before concurrent use.
func (m *Manager) OnClear(fn func()) {
	m.onClear = append(m.onClear, fn)
}

// Bind installs the session token. Rebinding replaces the previous session
// and fires the clear callbacks for it first.
func (m *Manager) Bind(token string) {
	m.mu.Lock()
	replaced := m.token != "" && m.token != token
	m.token = token
	m.boundAt = time.Now()
	m.mu.Unlock()

	if replaced {
		m.fireOnClear()
	}
	if m.cache != nil {
		if err := m.cache.Store(token); err != nil {
			m.log.Warn("credential cache store failed", "error", err)
		}
	}
	m.log.Info("session bound")
}

// Token returns the bound token, ok=false when none is bound.
func (m *Manager) Token() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.token != ""
}

// BoundAt returns when the current session was bound.
func (m *Manager) BoundAt() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.boundAt, m.token != ""
}

// Clear drops the token from memory and the at-rest cache. Idempotent.
func (m *Manager) Clear() {
	m.mu.Lock()
	had := m.token != ""
	m.token = ""
	m.boundAt = time.Time{}
	m.mu.Unlock()

	if !had {
		return
	}
	if m.cache != nil {
		if err := m.cache.Wipe(); err != nil {
			m.log.Warn("credential cache wipe failed", "error", err)
		}
	}
	m.fireOnClear()
	m.log.Info("session cleared")
}

// Restore loads a cached token from a previous run, if any. Returns true
// when a session was restored.
func (m *Manager) Restore() bool {
	if m.cache == nil {
		return false
	}
	token, err := m.cache.Load()
	if err != nil {
		return false
	}
	m.mu.Lock()
	m.token = token
	m.boundAt = time.Now()
	m.mu.Unlock()
	m.log.Info("session restored from cache")
	return true
}

func (m *Manager) fireOnClear() {
	for _, fn := range m.onClear {
		fn()
	}
}
