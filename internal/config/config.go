// Package config holds doas's compile-time defaults: where the rule
// file lives, and what PATH gets installed when the matched rule names a
// cmd (§4.1, §6).
package config

const (
	// DefaultRulesPath is the rule file doas reads unless -C overrides
	// it (§6).
	DefaultRulesPath = "/etc/doas.conf"

	// SafePath replaces the invoker's PATH whenever the matched rule
	// names a cmd, applied after envlist processing so a rule's own
	// `setenv { PATH=... }` has no effect in that case (§4.5 step 2,
	// §9 open question three).
	SafePath = "/bin:/sbin:/usr/bin:/usr/sbin:/usr/local/bin:/usr/local/sbin"
)

// BaseEnv is what survives into the target environment when the matched
// rule does NOT carry KEEPENV (§4.5 step 3). HOME, LOGNAME, USER, and
// USERNAME are overwritten with the target's values after this base is
// assembled; SHELL is overwritten only for a login shell invocation.
// LC_* is a prefix, handled separately from this literal list.
var BaseEnv = []string{
	"DISPLAY",
	"HOME",
	"LOGNAME",
	"MAIL",
	"PATH",
	"PS1",
	"SHELL",
	"TERM",
	"USER",
	"USERNAME",
	"COLORTERM",
	"LANG",
}

// BaseEnvPrefixes lists prefix-matched variable families kept in the
// non-KEEPENV base alongside BaseEnv's literal names.
var BaseEnvPrefixes = []string{"LC_"}
