package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Manager
// =============================================================================

func TestBindTokenClear(t *testing.T) {
	m := NewManager(nil, nil)

	if _, ok := m.Token(); ok {
		t.Error("fresh manager should have no token")
	}

	m.Bind("tok-1")
	token, ok := m.Token()
	if !ok || token != "tok-1" {
		t.Errorf("Token() = %q, %v", token, ok)
	}
	if _, ok := m.BoundAt(); !ok {
		t.Error("BoundAt should report a bound session")
	}

	m.Clear()
	if _, ok := m.Token(); ok {
		t.Error("cleared manager should have no token")
	}
	m.Clear() // idempotent
}

func TestRebindFiresClearCallbacks(t *testing.T) {
	m := NewManager(nil, nil)
	var cleared atomic.Int32
	m.OnClear(func() { cleared.Add(1) })

	m.Bind("tok-1")
	if cleared.Load() != 0 {
		t.Error("first bind must not fire clear callbacks")
	}

	m.Bind("tok-2") // rebind replaces the old session
	if cleared.Load() != 1 {
		t.Errorf("rebind fired %d clear callbacks, want 1", cleared.Load())
	}

	m.Bind("tok-2") // same token, no transition
	if cleared.Load() != 1 {
		t.Error("rebinding the same token must not fire callbacks")
	}

	m.Clear()
	if cleared.Load() != 2 {
		t.Errorf("clear fired %d callbacks total, want 2", cleared.Load())
	}
}

// =============================================================================
// Credential cache
// =============================================================================

func TestCredentialCacheRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "creds")
	cache, err := NewCredentialCache(dir)
	if err != nil {
		t.Fatalf("NewCredentialCache: %v", err)
	}

	if _, err := cache.Load(); err != ErrNoCredential {
		t.Errorf("Load on empty cache = %v, want ErrNoCredential", err)
	}

	if err := cache.Store("tok-secret"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, err := cache.Load()
	if err != nil || got != "tok-secret" {
		t.Fatalf("Load = %q, %v", got, err)
	}

	// Ciphertext on disk must not contain the token.
	raw, err := os.ReadFile(filepath.Join(dir, "session.enc"))
	if err != nil {
		t.Fatalf("read ciphertext: %v", err)
	}
	if bytes.Contains(raw, []byte("tok-secret")) {
		t.Error("token stored in the clear")
	}

	if err := cache.Wipe(); err != nil {
		t.Fatalf("Wipe: %v", err)
	}
	if _, err := cache.Load(); err != ErrNoCredential {
		t.Error("wiped cache should be empty")
	}
}

func TestCredentialCacheCorruptionIsNoCredential(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "creds")
	cache, err := NewCredentialCache(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.Store("tok"); err != nil {
		t.Fatal(err)
	}

	// Flip a ciphertext byte.
	path := filepath.Join(dir, "session.enc")
	raw, _ := os.ReadFile(path)
	raw[len(raw)-1] ^= 0xFF
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := cache.Load(); err != ErrNoCredential {
		t.Errorf("Load of corrupt cache = %v, want ErrNoCredential", err)
	}
}

func TestManagerRestore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "creds")
	cache, err := NewCredentialCache(dir)
	if err != nil {
		t.Fatal(err)
	}

	first := NewManager(cache, nil)
	first.Bind("tok-persisted")

	second := NewManager(cache, nil)
	if !second.Restore() {
		t.Fatal("Restore should find the cached session")
	}
	token, _ := second.Token()
	if token != "tok-persisted" {
		t.Errorf("restored token = %q", token)
	}

	second.Clear()
	third := NewManager(cache, nil)
	if third.Restore() {
		t.Error("Restore after Clear should find nothing")
	}
}

// =============================================================================
// Keep-alive
// =============================================================================

type fakeActivity struct {
	calls atomic.Int32
	err   error
}

func (f *fakeActivity) UpdateActivity(ctx context.Context) error {
	f.calls.Add(1)
	return f.err
}

func TestKeepAliveTicks(t *testing.T) {
	m := NewManager(nil, nil)
	m.Bind("tok")
	client := &fakeActivity{}

	k := NewKeepAlive(m, client, nil)
	k.SetInterval(10 * time.Millisecond)
	k.Start(context.Background())
	defer k.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for client.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if client.calls.Load() < 2 {
		t.Error("keep-alive never ticked")
	}
}

func TestKeepAliveSkipsWithoutSession(t *testing.T) {
	m := NewManager(nil, nil)
	client := &fakeActivity{}

	k := NewKeepAlive(m, client, nil)
	k.SetInterval(10 * time.Millisecond)
	k.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	k.Stop()
	k.Stop() // idempotent

	if client.calls.Load() != 0 {
		t.Errorf("keep-alive sent %d requests without a session", client.calls.Load())
	}
}

func TestKeepAliveSurvivesErrors(t *testing.T) {
	m := NewManager(nil, nil)
	m.Bind("tok")
	client := &fakeActivity{err: errors.New("collector down")}

	k := NewKeepAlive(m, client, nil)
	k.SetInterval(10 * time.Millisecond)
	k.Start(context.Background())
	defer k.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for client.calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if client.calls.Load() < 3 {
		t.Error("keep-alive should keep retrying after failures")
	}
}
