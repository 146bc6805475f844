//go:build !linux || !seccomp

// Package hardening applies an optional syscall-filtering pass to the
// process before exec (§9 "Seccomp 'pledge' shim"). The default build
// carries a no-op: the filter's precise syscall list is platform- and
// kernel-version-specific and is out of scope for this implementation,
// same as the spec states for the original pledge(2) translation.
package hardening

// Apply installs whatever restriction this build provides. The default,
// tag-free implementation does nothing.
func Apply() error { return nil }
