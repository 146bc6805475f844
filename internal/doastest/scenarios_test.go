package doastest

import (
	"os"
	"testing"

	"github.com/doasgo/doas/internal/matcher"
	"github.com/doasgo/doas/internal/ruleset"
)

func fixtureIdentities() Identities {
	return Identities{
		UIDs: map[string]uint32{
			"root":  0,
			"alice": 1000,
			"bob":   1001,
		},
		GIDs: map[string]uint32{
			"wheel": 10,
		},
		Group: map[string][]string{
			"wheel": {"alice"},
		},
	}
}

// Scenario 1: permit nopass :wheel; invoker in wheel -> permit nopass.
func TestScenarioNopassGroupRule(t *testing.T) {
	ids := fixtureIdentities()
	rules := MustParse(t, WriteRules(t, "permit nopass :wheel\n"))

	verdict, rule := Match(ids, rules, "alice", 0, "id", nil)
	if verdict != matcher.Permit {
		t.Fatalf("expected permit, got deny")
	}
	if !rule.Options.Has(ruleset.OptNoPass) {
		t.Fatalf("expected nopass option on matched rule")
	}
}

// Scenario 2: last-match-wins across two rules, evaluated per target.
func TestScenarioLastMatchWinsPerTarget(t *testing.T) {
	ids := fixtureIdentities()
	rules := MustParse(t, WriteRules(t, "deny alice as root\npermit alice\n"))

	verdict, _ := Match(ids, rules, "alice", ids.UIDs["root"], "id", nil)
	if verdict != matcher.Deny {
		t.Fatalf("expected deny for alice as root, got permit")
	}

	verdict, _ = Match(ids, rules, "alice", ids.UIDs["bob"], "id", nil)
	if verdict != matcher.Permit {
		t.Fatalf("expected permit for alice as bob, got deny")
	}
}

// Scenario 3: keepenv + cmd + args requires an exact argument-tail match.
func TestScenarioExactArgsMatch(t *testing.T) {
	ids := fixtureIdentities()
	rules := MustParse(t, WriteRules(t, `permit keepenv { PATH } alice cmd /bin/ls args -l`+"\n"))

	if v, _ := Match(ids, rules, "alice", 0, "/bin/ls", []string{"-l"}); v != matcher.Permit {
		t.Fatalf("exact args match should permit")
	}
	if v, _ := Match(ids, rules, "alice", 0, "/bin/ls", []string{"-l", "-a"}); v != matcher.Deny {
		t.Fatalf("extra arg should deny")
	}
	if v, _ := Match(ids, rules, "alice", 0, "/bin/ls", nil); v != matcher.Deny {
		t.Fatalf("missing required arg should deny")
	}
}

// Scenario 5: a group-or-other-writable rule file must refuse before any
// match is attempted (exercised against the safety checker directly,
// since WriteRules always creates 0600 files).
func TestScenarioUnsafeConfigFileRefused(t *testing.T) {
	path := WriteRules(t, "permit alice\n")
	// WriteRules uses 0600; widen it to simulate the unsafe scenario.
	if err := os.Chmod(path, 0o664); err != nil {
		t.Fatalf("chmod fixture: %v", err)
	}
	if err := ruleset.CheckFileSafety(path); err == nil {
		t.Fatalf("expected CheckFileSafety to refuse a group-writable file")
	}
}

// Scenario 6: a rule without nopass, combined with non-interactive mode,
// is the authn package's concern (ErrNonInteractive); the matcher layer
// only needs to confirm the rule indeed lacks nopass.
func TestScenarioRuleWithoutNopassRequiresAuth(t *testing.T) {
	ids := fixtureIdentities()
	rules := MustParse(t, WriteRules(t, "permit alice\n"))

	verdict, rule := Match(ids, rules, "alice", 0, "id", nil)
	if verdict != matcher.Permit {
		t.Fatalf("expected permit")
	}
	if rule.Options.Has(ruleset.OptNoPass) {
		t.Fatalf("rule should not carry nopass")
	}
}
