// Package matcher implements §4.2: resolving an (invoker, target, command,
// arguments) request against an ordered RuleSet with last-match-wins
// semantics.
package matcher

import (
	"math"
	"strconv"

	"github.com/doasgo/doas/internal/ruleset"
)

// uidMax/gidMax are the OpenBSD UID_MAX/GID_MAX sentinels: a resolved id
// equal to this value means "no such user/group" and must never match
// (§8: "Target uid == UID_MAX or group gid == GID_MAX is rejected").
const uidMax = math.MaxUint32
const gidMax = math.MaxUint32

// Request is everything the matcher needs about one invocation.
type Request struct {
	InvokerUID    uint32
	InvokerGroups []uint32 // primary gid plus supplementary groups
	TargetUID     uint32
	Cmd           string   // argv[0] as requested
	Args          []string // argv[1:] as requested
}

// UIDResolver and GIDResolver let the matcher translate the literal text
// of a rule's identity/target field (a name, or a decimal uid/gid) into a
// numeric id, without depending on the name-service package directly.
type UIDResolver func(name string) (uint32, bool)
type GIDResolver func(name string) (uint32, bool)

// Verdict is the matcher's effective decision.
type Verdict int

const (
	Deny Verdict = iota
	Permit
)

// Match walks rules in source order and returns the action of the last
// matching rule, or Deny if none match. The matched rule itself is
// returned so callers can read its options and envlist.
func Match(req Request, rules []ruleset.Rule, resolveUID UIDResolver, resolveGID GIDResolver) (Verdict, *ruleset.Rule) {
	var last *ruleset.Rule
	for i := range rules {
		r := &rules[i]
		if ruleMatches(req, r, resolveUID, resolveGID) {
			last = r
		}
	}
	if last == nil {
		return Deny, nil
	}
	if last.Action == ruleset.ActionPermit {
		return Permit, last
	}
	return Deny, last
}

func ruleMatches(req Request, r *ruleset.Rule, resolveUID UIDResolver, resolveGID GIDResolver) bool {
	if !identityMatches(req, r.Identity, resolveUID, resolveGID) {
		return false
	}
	if r.HasTarget {
		uid, ok := resolveUIDOrNumeric(r.Target, resolveUID)
		if !ok || uid != req.TargetUID {
			return false
		}
	}
	if r.HasCmd {
		if r.Cmd != req.Cmd {
			return false
		}
		if r.HasArgs && !argsEqual(r.Args, req.Args) {
			return false
		}
	}
	return true
}

// identityMatches implements §4.2.1: group-form identities resolve against
// the invoker's group list; everything else resolves to a uid compared
// against the invoker's uid. A literal that fails to resolve is a
// non-match, never an error.
func identityMatches(req Request, id ruleset.Identity, resolveUID UIDResolver, resolveGID GIDResolver) bool {
	if id.Group {
		gid, ok := resolveGIDOrNumeric(id.Name, resolveGID)
		if !ok {
			return false
		}
		for _, g := range req.InvokerGroups {
			if g == gid {
				return true
			}
		}
		return false
	}
	uid, ok := resolveUIDOrNumeric(id.Name, resolveUID)
	if !ok {
		return false
	}
	return uid == req.InvokerUID
}

func resolveUIDOrNumeric(s string, resolveUID UIDResolver) (uint32, bool) {
	var uid uint32
	var ok bool
	if resolveUID != nil {
		uid, ok = resolveUID(s)
	}
	if !ok {
		uid, ok = parseUint32(s)
	}
	if !ok || uid == uidMax {
		return 0, false
	}
	return uid, true
}

func resolveGIDOrNumeric(s string, resolveGID GIDResolver) (uint32, bool) {
	var gid uint32
	var ok bool
	if resolveGID != nil {
		gid, ok = resolveGID(s)
	}
	if !ok {
		gid, ok = parseUint32(s)
	}
	if !ok || gid == gidMax {
		return 0, false
	}
	return gid, true
}

func parseUint32(s string) (uint32, bool) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// argsEqual implements the exact, length-sensitive comparison required when
// cmdargs is present: empty vs empty matches, any length mismatch does not.
func argsEqual(want, got []string) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}
