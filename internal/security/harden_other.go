//go:build !unix

package security

// Umask and rlimits do not exist off Unix; hardening degrades to no-ops.

func setUmask(int) {}

func disableCoreDumps() error { return nil }
