//go:build linux && seccomp

package hardening

import "golang.org/x/sys/unix"

// Apply sets PR_SET_NO_NEW_PRIVS before exec, preventing the target
// program from regaining privileges doas itself chose not to use. The
// full pledge-equivalent BPF syscall filter this could carry is
// deliberately out of scope (§9): its precise allowed-syscall list is
// kernel-version- and architecture-specific, and no such list is
// specified here.
func Apply() error {
	return unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0)
}
