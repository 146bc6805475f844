package execpipe

import (
	"errors"
	"fmt"
	"os"

	"github.com/doasgo/doas/internal/auditlog"
	"github.com/doasgo/doas/internal/identity"
)

// ErrNotInstalledSetuid is the fatal precondition failure described in
// §4.5: "program was invoked with effective uid 0 (else fatal: not
// installed setuid)".
var ErrNotInstalledSetuid = errors.New("not installed setuid")

// CheckInstalled verifies the running binary actually has effective uid
// 0, the precondition every later step of the pipeline assumes.
func CheckInstalled() error {
	if os.Geteuid() != 0 {
		return ErrNotInstalledSetuid
	}
	return nil
}

// Run executes §4.5 steps 4 through 6: transition identity to the target,
// emit the audit record, and exec. It does not return on success.
func Run(plan Plan, argv []string, invokerEnv []string, audit *auditlog.Logger, setter identity.ContextSetter) error {
	// §4.5 step 1: capture cwd for the audit record before anything else
	// changes — the identity transition never chdirs, but logging the
	// directory doas itself was invoked from matches the source's intent.
	cwd, _ := os.Getwd()

	env := BuildEnviron(plan, invokerEnv)

	if err := identity.Transition(plan.Target, setter); err != nil {
		return fmt.Errorf("identity transition: %w", err)
	}

	audit.Permit(auditlog.Event{
		InvokerName: plan.Invoker.Name,
		TargetName:  plan.Target.Name,
		Command:     argv[0],
		Args:        argv[1:],
		Cwd:         cwd,
	})

	return Exec(argv[0], argv, env)
}
