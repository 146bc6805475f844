package ruleset

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrNotOwnedByRoot and ErrWritableByOthers are the two fatal file-safety
// conditions checked before a normal (non -C) parse. They are distinguished
// so callers can report the precise reason, matching doas.c's two distinct
// errx() messages.
var (
	ErrNotOwnedByRoot  = errors.New("config file is not owned by root")
	ErrWritableByOthers = errors.New("config file is writable by group or other")
)

// CheckFileSafety enforces §4.1's "File safety checks": the file must be
// owned by uid 0 and not writable by group or other. It must be called
// before Parse in normal (non -C) mode; -C mode skips it entirely (§6).
func CheckFileSafety(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("cannot determine owner of %s", path)
	}
	if st.Uid != 0 {
		return ErrNotOwnedByRoot
	}
	if info.Mode().Perm()&0o022 != 0 {
		return ErrWritableByOthers
	}
	return nil
}
