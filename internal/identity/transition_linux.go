//go:build linux

package identity

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// umaskTarget is the umask applied to the target process (§4.5 step 4).
const umaskTarget = 0o022

// ContextSetter applies platform-specific login-context facilities beyond
// the bare uid/gid/groups transition: resource limits, nice value, and the
// umask/user/group-set ordering a login class would otherwise define.
// Linux has no login_cap(3) equivalent, so the default setter below only
// does the POSIX-portable steps; other platforms can provide a richer one.
type ContextSetter interface {
	Apply(target Target) error
}

// defaultContextSetter performs the transition OpenDoas does on systems
// without HAVE_LOGIN_CAP_H: setresgid, initgroups (via Setgroups), then
// setresuid, each with real=effective=saved so no privilege survives.
type defaultContextSetter struct{}

// NewContextSetter returns the context setter to use on this platform.
func NewContextSetter() ContextSetter { return defaultContextSetter{} }

func (defaultContextSetter) Apply(t Target) error {
	if err := unix.Setresgid(int(t.GID), int(t.GID), int(t.GID)); err != nil {
		return fmt.Errorf("setresgid: %w", err)
	}
	groups, err := supplementaryGroups(t.Name, t.GID)
	if err != nil {
		return fmt.Errorf("initgroups: %w", err)
	}
	if err := unix.Setgroups(groups); err != nil {
		return fmt.Errorf("setgroups: %w", err)
	}
	if err := unix.Setresuid(int(t.UID), int(t.UID), int(t.UID)); err != nil {
		return fmt.Errorf("setresuid: %w", err)
	}
	unix.Umask(umaskTarget)
	return nil
}

// Transition performs §4.5 step 4 in full: identity transition to the
// target, then umask. On return, real=effective=saved uid/gid are the
// target's and supplementary groups are exactly the target's.
func Transition(t Target, setter ContextSetter) error {
	if setter == nil {
		setter = NewContextSetter()
	}
	return setter.Apply(t)
}

// DropToSelf transitions real/effective/saved uid to the invoker's own uid
// (supplemented feature 1: -C mode drops privilege before parsing so a
// malformed config can't be leveraged while still root).
func DropToSelf(uid uint32) error {
	if err := unix.Setresuid(int(uid), int(uid), int(uid)); err != nil {
		return fmt.Errorf("setresuid: %w", err)
	}
	return nil
}

func supplementaryGroups(name string, primaryGID uint32) ([]int, error) {
	groups, err := lookupGroupIDs(name)
	if err != nil {
		return nil, err
	}
	have := false
	out := make([]int, 0, len(groups)+1)
	for _, g := range groups {
		out = append(out, int(g))
		if g == primaryGID {
			have = true
		}
	}
	if !have {
		out = append(out, int(primaryGID))
	}
	return out, nil
}
