//go:build unix

package security

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func setUmask(mask int) {
	syscall.Umask(mask)
}

func disableCoreDumps() error {
	return unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0})
}
