package security

import "os"

// WarnIfRoot reports whether the daemon runs with effective UID 0.
// Capture works unprivileged when the user is in the input group, so
// root is a misconfiguration worth surfacing.
func WarnIfRoot() bool {
	return os.Geteuid() == 0
}

// SecureEnvironment scrubs loader-injection variables and sets an
// owner-only umask. The credential cache and the control socket inherit
// the umask, so this runs before any file is created.
func SecureEnvironment() error {
	for _, v := range []string{
		"LD_PRELOAD", "LD_LIBRARY_PATH", "LD_AUDIT",
		"DYLD_INSERT_LIBRARIES", "DYLD_LIBRARY_PATH",
	} {
		os.Unsetenv(v)
	}
	setUmask(0077)
	return nil
}

// DisableCoreDumps sets the core size limit to zero so a crashing
// daemon cannot write session tokens into a core file.
func DisableCoreDumps() error {
	return disableCoreDumps()
}
