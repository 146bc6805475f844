// Command doas is a setuid privilege-transition helper: it checks a
// single request against a site rule file and, if permitted, executes
// the requested program as the target user (§1, §6).
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/doasgo/doas/internal/auditlog"
	"github.com/doasgo/doas/internal/authn"
	"github.com/doasgo/doas/internal/config"
	"github.com/doasgo/doas/internal/execpipe"
	"github.com/doasgo/doas/internal/hardening"
	"github.com/doasgo/doas/internal/identity"
	"github.com/doasgo/doas/internal/matcher"
	"github.com/doasgo/doas/internal/persist"
	"github.com/doasgo/doas/internal/ruleset"
)

const usage = "usage: doas [-Lns] [-C config] [-u target] command [args...]\n"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	fs := pflag.NewFlagSet("doas", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(os.Stderr)

	configPath := fs.StringP("config", "C", "", "parse config, print permit/deny, and exit")
	clear := fs.BoolP("logout", "L", false, "clear the invoker's persistence tokens and exit")
	nonInteractive := fs.BoolP("non-interactive", "n", false, "fail rather than prompt for a password")
	shell := fs.BoolP("shell", "s", false, "run the invoker's shell")
	target := fs.StringP("user", "u", "", "target user; default is root")

	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprint(os.Stderr, usage)
		return 1
	}
	rest := fs.Args()

	if *shell && (len(rest) > 0 || *configPath != "") {
		fmt.Fprint(os.Stderr, usage)
		return 1
	}
	if !*shell && *configPath == "" && !*clear && len(rest) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 1
	}

	invokerUID := uint32(os.Getuid())
	entryPath := os.Getenv("PATH")

	targetUID, err := identity.ParseTargetSpec(*target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "doas: %v\n", err)
		return 1
	}

	switch {
	case *configPath != "":
		return runConfigTest(*configPath, invokerUID, targetUID, rest)
	case *clear:
		return runClear(invokerUID)
	default:
		return runExec(invokerUID, entryPath, targetUID, *shell, *nonInteractive, rest)
	}
}

// runConfigTest implements -C: drop to the invoker's own uid before
// parsing (supplemented feature: a malformed rule file must never be
// leveraged while still root), then print the verdict (§6).
func runConfigTest(path string, invokerUID, targetUID uint32, rest []string) int {
	if err := identity.DropToSelf(invokerUID); err != nil {
		fmt.Fprintf(os.Stderr, "doas: %v\n", err)
		return 1
	}

	rules, errs := ruleset.Parse(path)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e)
		}
		return 1
	}

	invoker, err := identity.LookupInvoker(invokerUID, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "doas: %v\n", err)
		return 1
	}

	cmd, args := "", []string(nil)
	if len(rest) > 0 {
		cmd, args = rest[0], rest[1:]
	}

	verdict, rule := matcher.Match(matcher.Request{
		InvokerUID:    invoker.UID,
		InvokerGroups: invoker.Groups,
		TargetUID:     targetUID,
		Cmd:           cmd,
		Args:          args,
	}, rules.Rules, identity.ResolveUID, identity.ResolveGID)

	if verdict == matcher.Deny {
		fmt.Println("deny")
		return 1
	}
	if rule.Options.Has(ruleset.OptNoPass) {
		fmt.Println("permit nopass")
	} else {
		fmt.Println("permit")
	}
	return 0
}

// runClear implements -L (§6, §8 "with no token present exits 0").
func runClear(invokerUID uint32) int {
	key, err := persist.DeriveSessionKey(invokerUID, uint32(os.Getgid()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "doas: %v\n", err)
		return 1
	}
	store, err := persist.Open(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "doas: %v\n", err)
		return 1
	}
	defer store.Close()

	if err := store.Clear(); err != nil {
		fmt.Fprintf(os.Stderr, "doas: %v\n", err)
		return 1
	}
	return 0
}

func runExec(invokerUID uint32, entryPath string, targetUID uint32, loginShell, nonInteractive bool, rest []string) int {
	if err := execpipe.CheckInstalled(); err != nil {
		fmt.Fprintf(os.Stderr, "doas: %v\n", err)
		return 1
	}

	if err := ruleset.CheckFileSafety(config.DefaultRulesPath); err != nil {
		fmt.Fprintf(os.Stderr, "doas: %v\n", err)
		return 1
	}
	rules, errs := ruleset.Parse(config.DefaultRulesPath)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e)
		}
		return 1
	}

	invoker, err := identity.LookupInvoker(invokerUID, entryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "doas: %v\n", err)
		return 1
	}

	audit, _ := auditlog.New()
	defer audit.Close()

	argv := rest
	if loginShell {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = invoker.Shell
		}
		argv = []string{shell}
	}
	if len(argv) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 1
	}

	verdict, rule := matcher.Match(matcher.Request{
		InvokerUID:    invoker.UID,
		InvokerGroups: invoker.Groups,
		TargetUID:     targetUID,
		Cmd:           argv[0],
		Args:          argv[1:],
	}, rules.Rules, identity.ResolveUID, identity.ResolveGID)

	if verdict == matcher.Deny {
		audit.Deny(auditlog.Event{InvokerName: invoker.Name, Command: execpipe.JoinCmdline(argv)})
		fmt.Fprintln(os.Stderr, "doas: command not permitted")
		return 1
	}

	if !rule.Options.Has(ruleset.OptNoPass) {
		key, err := persist.DeriveSessionKey(invoker.UID, invoker.GID)
		var store *persist.Store
		if err == nil {
			store, _ = persist.Open(key)
		}
		if store != nil {
			defer store.Close()
		}

		authenticator := authn.NewDefault(store)
		authErr := authenticator.Authenticate(authn.Request{
			InvokerName: invoker.Name,
			Interactive: !nonInteractive,
			NoPass:      false,
			Persist:     rule.Options.Has(ruleset.OptPersist),
		})
		if authErr != nil {
			audit.AuthFail(invoker.Name)
			fmt.Fprintf(os.Stderr, "doas: %v\n", authErr)
			return 1
		}
	}

	target, err := identity.LookupTarget(targetUID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "doas: %v\n", err)
		return 1
	}

	if err := hardening.Apply(); err != nil {
		fmt.Fprintf(os.Stderr, "doas: %v\n", err)
		return 1
	}

	plan := execpipe.Plan{
		Rule:       rule,
		Invoker:    invoker,
		Target:     target,
		LoginShell: loginShell,
		FormerPath: entryPath,
	}

	err = execpipe.Run(plan, argv, os.Environ(), audit, identity.NewContextSetter())
	fmt.Fprintf(os.Stderr, "doas: %v\n", err)
	return 1
}
