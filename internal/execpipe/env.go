// Package execpipe builds the target environment and argv, then replaces
// the current process image with the requested program, mirroring
// doas.c's final stretch from PATH policy through execvp (§4.5).
package execpipe

import (
	"strings"

	"github.com/doasgo/doas/internal/config"
	"github.com/doasgo/doas/internal/identity"
	"github.com/doasgo/doas/internal/ruleset"
)

// Plan is everything the exec pipeline needs once a rule has matched and
// authentication has succeeded.
type Plan struct {
	Rule       *ruleset.Rule
	Invoker    identity.Invoker
	Target     identity.Target
	LoginShell bool
	FormerPath string // invoker's PATH at entry, "" if unset
}

// BuildEnviron computes the outgoing environment for execve, applying
// §4.5 step 3 in order: base selection, envlist directives, PATH policy.
func BuildEnviron(plan Plan, invokerEnv []string) []string {
	env := newEnvMap()

	if plan.Rule.Options.Has(ruleset.OptKeepEnv) {
		env.setAll(invokerEnv)
	} else {
		env.copyBase(invokerEnv)
	}

	env.set("HOME", plan.Target.Home)
	env.set("LOGNAME", plan.Target.Name)
	env.set("USER", plan.Target.Name)
	env.set("USERNAME", plan.Target.Name)
	if plan.LoginShell {
		env.set("SHELL", plan.Target.Shell)
	}

	applyEnvlist(env, plan.Rule.Env, invokerEnv)

	if plan.Rule.HasCmd {
		env.set("PATH", config.SafePath)
	} else if plan.FormerPath != "" {
		env.set("PATH", plan.FormerPath)
	}

	return env.list()
}

// applyEnvlist applies a rule's envlist directives in source order:
// NAME preserves the invoker's value if set, NAME=value sets a literal,
// -NAME explicitly drops.
func applyEnvlist(env *envMap, directives []ruleset.EnvDirective, invokerEnv []string) {
	invoker := newEnvMap()
	invoker.setAll(invokerEnv)

	for _, d := range directives {
		switch d.Op {
		case ruleset.EnvPreserve:
			if v, ok := invoker.get(d.Name); ok {
				env.set(d.Name, v)
			}
		case ruleset.EnvSet:
			env.set(d.Name, d.Value)
		case ruleset.EnvDrop:
			env.unset(d.Name)
		}
	}
}

type envMap struct {
	order []string
	vals  map[string]string
}

func newEnvMap() *envMap {
	return &envMap{vals: make(map[string]string)}
}

func (m *envMap) set(name, value string) {
	if _, exists := m.vals[name]; !exists {
		m.order = append(m.order, name)
	}
	m.vals[name] = value
}

func (m *envMap) unset(name string) {
	if _, exists := m.vals[name]; !exists {
		return
	}
	delete(m.vals, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *envMap) get(name string) (string, bool) {
	v, ok := m.vals[name]
	return v, ok
}

func (m *envMap) setAll(environ []string) {
	for _, kv := range environ {
		name, value, ok := splitEnv(kv)
		if ok {
			m.set(name, value)
		}
	}
}

// copyBase seeds the non-KEEPENV base: the literal BaseEnv names plus
// anything matching an LC_* prefix, each taken from the invoker's
// environment only if actually set there.
func (m *envMap) copyBase(invokerEnv []string) {
	invoker := newEnvMap()
	invoker.setAll(invokerEnv)

	for _, name := range config.BaseEnv {
		if v, ok := invoker.get(name); ok {
			m.set(name, v)
		}
	}
	for _, kv := range invokerEnv {
		name, value, ok := splitEnv(kv)
		if !ok {
			continue
		}
		for _, prefix := range config.BaseEnvPrefixes {
			if strings.HasPrefix(name, prefix) {
				m.set(name, value)
				break
			}
		}
	}
}

func (m *envMap) list() []string {
	out := make([]string, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, name+"="+m.vals[name])
	}
	return out
}

func splitEnv(kv string) (name, value string, ok bool) {
	idx := strings.IndexByte(kv, '=')
	if idx < 0 {
		return "", "", false
	}
	return kv[:idx], kv[idx+1:], true
}
