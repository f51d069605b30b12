// Package session owns the binding between the engine and the
// authenticated user session: the in-memory token, its encrypted at-rest
// cache, and the periodic activity keep-alive.
package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"

	"sentinel/internal/security"
)

// ErrNoCredential is returned by Load when no cached token exists.
var ErrNoCredential = errors.New("session: no cached credential")

// CredentialCache stores the session token encrypted at rest so a daemon
// restart can resume the session without a fresh login. The key lives next
// to the ciphertext with 0600 permissions; the cache protects against
// casual file disclosure, not against an attacker with the user's UID.
type CredentialCache struct {
	tokenPath string
	keyPath   string
}

// NewCredentialCache creates a cache rooted at dir, creating dir with
// owner-only permissions if needed.
func NewCredentialCache(dir string) (*CredentialCache, error) {
	if err := security.EnsureSecureDir(dir); err != nil {
		return nil, fmt.Errorf("credential dir: %w", err)
	}
	return &CredentialCache{
		tokenPath: filepath.Join(dir, "session.enc"),
		keyPath:   filepath.Join(dir, "session.key"),
	}, nil
}

// Store encrypts and persists the token, replacing any previous one.
func (c *CredentialCache) Store(token string) error {
	master, err := c.loadOrCreateMaster()
	if err != nil {
		return err
	}
	key, err := c.sealingKey(master)
	security.Wipe(master)
	if err != nil {
		return err
	}
	defer security.Wipe(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(token), nil)
	return security.WriteSecretFile(c.tokenPath, sealed)
}

// Load decrypts the cached token. A missing or corrupt cache returns
// ErrNoCredential: a token we cannot recover is a token we do not have.
func (c *CredentialCache) Load() (string, error) {
	sealed, err := security.ReadSecureFile(c.tokenPath, 4096)
	if err != nil {
		return "", ErrNoCredential
	}
	master, err := security.ReadSecureFile(c.keyPath, 4096)
	if err != nil {
		return "", ErrNoCredential
	}
	key, err := c.sealingKey(master)
	security.Wipe(master)
	if err != nil {
		return "", ErrNoCredential
	}
	defer security.Wipe(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", ErrNoCredential
	}
	if len(sealed) < aead.NonceSize() {
		return "", ErrNoCredential
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	token, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrNoCredential
	}
	return string(token), nil
}

// Wipe removes the cached token and its key.
func (c *CredentialCache) Wipe() error {
	var first error
	for _, path := range []string{c.tokenPath, c.keyPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && first == nil {
			first = err
		}
	}
	return first
}

// sealingKey derives the cache's encryption key from the master, so the
// bytes on disk are never used as a cipher key directly.
func (c *CredentialCache) sealingKey(master []byte) ([]byte, error) {
	return security.DeriveKey(master, "credential-cache", chacha20poly1305.KeySize)
}

func (c *CredentialCache) loadOrCreateMaster() ([]byte, error) {
	if master, err := security.ReadSecureFile(c.keyPath, 4096); err == nil &&
		len(master) == chacha20poly1305.KeySize {
		return master, nil
	}
	master, err := security.GenerateKey(chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	if err := security.WriteSecretFile(c.keyPath, master); err != nil {
		security.Wipe(master)
		return nil, fmt.Errorf("persist key: %w", err)
	}
	return master, nil
}
