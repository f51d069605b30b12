package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	permSecretFile os.FileMode = 0600
	permSecretDir  os.FileMode = 0700
)

var (
	ErrInsecurePermissions = errors.New("security: file readable by group or others")
	ErrFileTooLarge        = errors.New("security: file exceeds size limit")
)

// EnsureSecureDir creates dir owner-only, or tightens an existing
// directory that has drifted to wider permissions.
func EnsureSecureDir(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, permSecretDir)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("security: %s is not a directory", dir)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0077 != 0 {
		return os.Chmod(dir, permSecretDir)
	}
	return nil
}

// WriteSecretFile writes data to path atomically with 0600 permissions.
// The content lands in a same-directory temp file first, so a crash
// mid-write never leaves a truncated secret behind.
func WriteSecretFile(path string, data []byte) error {
	if err := EnsureSecureDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp := path + ".tmp." + randomSuffix()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, permSecretFile)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// ReadSecureFile reads a secret file, refusing files that are
// group/other-readable or larger than maxSize. A secret that has leaked
// its permissions is treated as compromised rather than silently used.
func ReadSecureFile(path string, maxSize int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0077 != 0 {
		return nil, fmt.Errorf("%w: %s has mode %04o",
			ErrInsecurePermissions, path, info.Mode().Perm())
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d",
			ErrFileTooLarge, path, info.Size(), maxSize)
	}
	return os.ReadFile(path)
}

func randomSuffix() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
