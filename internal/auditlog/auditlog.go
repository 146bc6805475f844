// Package auditlog records every privilege-transition decision doas
// makes, mirroring doas.c's use of syslog(3) under LOG_AUTHPRIV so
// permits, denials, and authentication failures land wherever the host's
// syslog daemon already routes security-relevant events.
package auditlog

import (
	"fmt"
	"log/syslog"
	"strings"
)

// Event is one decision worth recording: who ran what, as whom, and how
// it was resolved.
type Event struct {
	InvokerName string
	TargetName  string
	Command     string
	Args        []string
	Cwd         string // invoker's working directory, captured before the identity transition
	Rule        string // "" when no rule matched
	PersistHit  bool
}

// Logger writes Events to syslog's AUTHPRIV facility, matching doas.c's
// `syslog(LOG_AUTHPRIV|LOG_INFO, ...)` / `LOG_NOTICE` split between
// successes and failures.
type Logger struct {
	w *syslog.Writer
}

// New dials the local syslog daemon. A failure here is never fatal to the
// caller's control flow — doas.c falls back to stderr when syslog is
// unreachable — so New returns a *Logger that is safe to use even when w
// is nil.
func New() (*Logger, error) {
	w, err := syslog.New(syslog.LOG_AUTHPRIV|syslog.LOG_INFO, "doas")
	if err != nil {
		return &Logger{}, err
	}
	return &Logger{w: w}, nil
}

func (e Event) String() string {
	cmdline := e.Command
	if len(e.Args) > 0 {
		cmdline = cmdline + " " + strings.Join(e.Args, " ")
	}
	via := ""
	if e.PersistHit {
		via = " (persisted)"
	}
	return fmt.Sprintf("%s ran command %s as %s from %s%s", e.InvokerName, cmdline, e.TargetName, e.Cwd, via)
}

// Permit logs a successful, authorized command execution at INFO level.
func (l *Logger) Permit(e Event) {
	if l.w == nil {
		return
	}
	l.w.Info(e.String())
}

// Deny logs a rule-based refusal at NOTICE level: no rule permitted the
// request.
func (l *Logger) Deny(e Event) {
	if l.w == nil {
		return
	}
	l.w.Notice(fmt.Sprintf("command not permitted for %s: %s", e.InvokerName, e.String()))
}

// AuthFail logs a failed authentication attempt at NOTICE level.
func (l *Logger) AuthFail(invokerName string) {
	if l.w == nil {
		return
	}
	l.w.Notice(fmt.Sprintf("authentication failed for %s", invokerName))
}

func (l *Logger) Close() error {
	if l.w == nil {
		return nil
	}
	return l.w.Close()
}
