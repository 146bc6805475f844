package execpipe

import (
	"testing"

	"github.com/doasgo/doas/internal/identity"
	"github.com/doasgo/doas/internal/ruleset"
)

func envLookup(env []string, name string) (string, bool) {
	for _, kv := range env {
		if n, v, ok := splitEnv(kv); ok && n == name {
			return v, true
		}
	}
	return "", false
}

func TestBuildEnvironNonKeepEnvDropsUnlistedVars(t *testing.T) {
	plan := Plan{
		Rule:   &ruleset.Rule{},
		Target: identity.Target{Name: "root", Home: "/root", Shell: "/bin/sh"},
	}
	invokerEnv := []string{"HOME=/home/alice", "SECRET_TOKEN=abc123", "TERM=xterm"}

	env := BuildEnviron(plan, invokerEnv)

	if _, ok := envLookup(env, "SECRET_TOKEN"); ok {
		t.Fatalf("SECRET_TOKEN should have been dropped, env: %v", env)
	}
	if v, ok := envLookup(env, "HOME"); !ok || v != "/root" {
		t.Fatalf("HOME should be overwritten to target's home, got %q, ok=%v", v, ok)
	}
	if v, ok := envLookup(env, "TERM"); !ok || v != "xterm" {
		t.Fatalf("TERM should survive from the always-kept base, got %q, ok=%v", v, ok)
	}
}

func TestBuildEnvironKeepEnvPreservesInvokerEnvironment(t *testing.T) {
	plan := Plan{
		Rule:   &ruleset.Rule{Options: ruleset.OptKeepEnv},
		Target: identity.Target{Name: "root", Home: "/root"},
	}
	invokerEnv := []string{"HOME=/home/alice", "MY_CUSTOM_VAR=keepme"}

	env := BuildEnviron(plan, invokerEnv)

	if v, ok := envLookup(env, "MY_CUSTOM_VAR"); !ok || v != "keepme" {
		t.Fatalf("KEEPENV should preserve arbitrary invoker vars, got %q, ok=%v", v, ok)
	}
	if v, ok := envLookup(env, "HOME"); !ok || v != "/root" {
		t.Fatalf("HOME should still be overwritten to target's home even under KEEPENV, got %q", v)
	}
}

func TestBuildEnvironEnvlistSetAndDrop(t *testing.T) {
	plan := Plan{
		Rule: &ruleset.Rule{
			Env: []ruleset.EnvDirective{
				{Op: ruleset.EnvSet, Name: "FOO", Value: "bar"},
				{Op: ruleset.EnvDrop, Name: "TERM"},
			},
		},
		Target: identity.Target{Name: "root", Home: "/root"},
	}
	invokerEnv := []string{"TERM=xterm"}

	env := BuildEnviron(plan, invokerEnv)

	if v, ok := envLookup(env, "FOO"); !ok || v != "bar" {
		t.Fatalf("FOO=bar should be set literally, got %q, ok=%v", v, ok)
	}
	if _, ok := envLookup(env, "TERM"); ok {
		t.Fatalf("-TERM should drop TERM even though it's in the base list")
	}
}

func TestBuildEnvironCmdRulePATHPolicyOverridesSetenv(t *testing.T) {
	plan := Plan{
		Rule: &ruleset.Rule{
			HasCmd: true,
			Cmd:    "/bin/ls",
			Env: []ruleset.EnvDirective{
				{Op: ruleset.EnvSet, Name: "PATH", Value: "/attacker/bin"},
			},
		},
		Target: identity.Target{Name: "root", Home: "/root"},
	}

	env := BuildEnviron(plan, nil)

	if v, _ := envLookup(env, "PATH"); v == "/attacker/bin" {
		t.Fatalf("safe-PATH must override an envlist PATH when cmd is set, got %q", v)
	}
}

func TestBuildEnvironNoCmdKeepsFormerPath(t *testing.T) {
	plan := Plan{
		Rule:       &ruleset.Rule{},
		Target:     identity.Target{Name: "root", Home: "/root"},
		FormerPath: "/home/alice/bin:/usr/bin",
	}

	env := BuildEnviron(plan, nil)

	if v, ok := envLookup(env, "PATH"); !ok || v != "/home/alice/bin:/usr/bin" {
		t.Fatalf("PATH should be the invoker's former PATH when no cmd is set, got %q, ok=%v", v, ok)
	}
}
