// Package security holds the daemon-side hardening primitives: key
// material handling for the credential cache, owner-only file helpers,
// session-token validation for the control socket, a token-bucket rate
// limiter, and process hardening applied at startup.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrKeyTooShort = errors.New("security: key below minimum size")
	ErrEntropy     = errors.New("security: entropy source failed")
)

// MinKeySize is the smallest key the helpers will produce or accept.
const MinKeySize = 16

// GenerateKey returns size cryptographically random bytes. Sizes below
// MinKeySize are refused.
func GenerateKey(size int) ([]byte, error) {
	if size < MinKeySize {
		return nil, fmt.Errorf("%w: %d < %d", ErrKeyTooShort, size, MinKeySize)
	}
	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return key, nil
}

// DeriveKey derives a purpose-bound key from a master secret with
// HKDF-SHA256. The label separates uses of the same master, so the
// credential cache and any future consumer never share a sealing key.
func DeriveKey(master []byte, label string, size int) ([]byte, error) {
	if len(master) < MinKeySize {
		return nil, fmt.Errorf("%w: master is %d bytes", ErrKeyTooShort, len(master))
	}
	if size < MinKeySize {
		return nil, fmt.Errorf("%w: %d < %d", ErrKeyTooShort, size, MinKeySize)
	}
	out := make([]byte, size)
	r := hkdf.New(sha256.New, master, nil, []byte("sentinel/"+label))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("derive %q: %w", label, err)
	}
	return out, nil
}

// Wipe zeroes key material in place. The KeepAlive fence stops the
// compiler from eliding the writes.
func Wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
	runtime.KeepAlive(data)
}
