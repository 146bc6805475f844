// Package doastest provides shared fixtures for the end-to-end scenarios
// in §8: a rule file written to a temp directory, parsed, and matched
// against a request, without requiring the setuid install or root
// privileges those scenarios assume in production.
package doastest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/doasgo/doas/internal/matcher"
	"github.com/doasgo/doas/internal/ruleset"
)

// WriteRules writes contents to a rules file under t.TempDir and returns
// its path.
func WriteRules(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doas.conf")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing rules fixture: %v", err)
	}
	return path
}

// MustParse parses path and fails the test on any syntax error.
func MustParse(t *testing.T, path string) *ruleset.RuleSet {
	t.Helper()
	rules, errs := ruleset.Parse(path)
	if len(errs) > 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	return rules
}

// Identities is a minimal name/uid/gid universe for scenario fixtures, so
// tests don't depend on the host's real passwd/group database.
type Identities struct {
	UIDs  map[string]uint32
	GIDs  map[string]uint32
	Group map[string][]string // group name -> member usernames
}

func (ids Identities) ResolveUID(name string) (uint32, bool) {
	uid, ok := ids.UIDs[name]
	return uid, ok
}

func (ids Identities) ResolveGID(name string) (uint32, bool) {
	gid, ok := ids.GIDs[name]
	return gid, ok
}

// GroupsFor returns the gids of every group the named user belongs to,
// for building a matcher.Request's InvokerGroups.
func (ids Identities) GroupsFor(user string) []uint32 {
	var groups []uint32
	for group, members := range ids.Group {
		for _, m := range members {
			if m == user {
				if gid, ok := ids.GIDs[group]; ok {
					groups = append(groups, gid)
				}
			}
		}
	}
	return groups
}

// Match is a small convenience wrapper tying Identities to matcher.Match.
func Match(ids Identities, rules *ruleset.RuleSet, invoker string, targetUID uint32, cmd string, args []string) (matcher.Verdict, *ruleset.Rule) {
	req := matcher.Request{
		InvokerUID:    ids.UIDs[invoker],
		InvokerGroups: ids.GroupsFor(invoker),
		TargetUID:     targetUID,
		Cmd:           cmd,
		Args:          args,
	}
	return matcher.Match(req, rules.Rules, ids.ResolveUID, ids.ResolveGID)
}
