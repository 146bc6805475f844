// Package identity resolves the invoker and target identities from the
// name service and performs the final privilege transition (§4.5 step 4).
package identity

import (
	"fmt"
	"os/user"
	"strconv"
)

// Invoker is the real user who ran doas, captured once at startup and
// never mutated afterward (§3 "Invoker context").
type Invoker struct {
	UID     uint32
	GID     uint32
	Groups  []uint32 // supplementary groups, with the primary gid appended
	Name    string
	Shell   string
	Home    string
	EntryPath string // $PATH at process entry
}

// Target is the identity the invoker requested, resolved after the
// matcher has returned PERMIT (§3 "Target context").
type Target struct {
	UID   uint32
	GID   uint32
	Name  string
	Shell string
	Home  string
}

// LookupInvoker builds an Invoker context from the real uid of the calling
// process. Any failure to resolve the passwd entry or the group list is
// fatal — the spec treats a missing invoker passwd entry as unrecoverable.
func LookupInvoker(uid uint32, entryPath string) (Invoker, error) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return Invoker{}, fmt.Errorf("no passwd entry for uid %d: %w", uid, err)
	}
	gid, err := parseID(u.Gid)
	if err != nil {
		return Invoker{}, fmt.Errorf("invalid gid for %s: %w", u.Username, err)
	}

	groupIDs, err := u.GroupIds()
	if err != nil {
		return Invoker{}, fmt.Errorf("can't get groups for %s: %w", u.Username, err)
	}
	groups := make([]uint32, 0, len(groupIDs)+1)
	for _, g := range groupIDs {
		gidN, err := parseID(g)
		if err != nil {
			continue
		}
		groups = append(groups, gidN)
	}
	// The kernel's supplementary-group list does not always include the
	// primary gid; doas.c appends getgid() unconditionally and so do we.
	groups = append(groups, gid)

	shell, home := shellAndHome(u)

	return Invoker{
		UID:       uid,
		GID:       gid,
		Groups:    groups,
		Name:      u.Username,
		Shell:     shell,
		Home:      home,
		EntryPath: entryPath,
	}, nil
}

// LookupTarget resolves the target's passwd entry after the matcher has
// granted access for the requested target uid.
func LookupTarget(uid uint32) (Target, error) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return Target{}, fmt.Errorf("no passwd entry for target uid %d: %w", uid, err)
	}
	gid, err := parseID(u.Gid)
	if err != nil {
		return Target{}, fmt.Errorf("invalid gid for %s: %w", u.Username, err)
	}
	shell, home := shellAndHome(u)
	return Target{UID: uid, GID: gid, Name: u.Username, Shell: shell, Home: home}, nil
}

func parseID(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// ResolveUID implements the matcher.UIDResolver signature: a name that
// resolves via the passwd database, or a decimal literal.
func ResolveUID(name string) (uint32, bool) {
	if u, err := user.Lookup(name); err == nil {
		if uid, err := parseID(u.Uid); err == nil {
			return uid, true
		}
	}
	return parseUint32Literal(name)
}

// ResolveGID implements the matcher.GIDResolver signature: a name that
// resolves via the group database, or a decimal literal.
func ResolveGID(name string) (uint32, bool) {
	if g, err := user.LookupGroup(name); err == nil {
		if gid, err := parseID(g.Gid); err == nil {
			return gid, true
		}
	}
	return parseUint32Literal(name)
}

func parseUint32Literal(s string) (uint32, bool) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// ParseTargetSpec resolves the -u flag's argument (§6: "target user; default
// is uid 0"), accepting either a username or a numeric uid.
func ParseTargetSpec(spec string) (uint32, error) {
	if spec == "" {
		return 0, nil
	}
	if uid, ok := ResolveUID(spec); ok {
		return uid, nil
	}
	return 0, fmt.Errorf("unknown user %q", spec)
}
