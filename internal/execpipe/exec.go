package execpipe

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrCommandNotFound reports an ENOENT from the final exec (§4.5 step 6,
// §7 "Exec").
var ErrCommandNotFound = errors.New("command not found")

// JoinCmdline renders argv for an audit log line, mirroring doas.c's
// simple space-joined cmdline reconstruction.
func JoinCmdline(argv []string) string {
	return strings.Join(argv, " ")
}

// Exec replaces the current process image with name, searching $PATH from
// env the way execvp(3) does. On success it never returns. ENOENT is
// reported as ErrCommandNotFound; any other errno is wrapped as-is.
func Exec(name string, argv []string, env []string) error {
	path, err := lookPath(name, env)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return fmt.Errorf("%s: %w", name, ErrCommandNotFound)
		}
		return err
	}

	err = unix.Exec(path, argv, env)
	if errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("%s: %w", name, ErrCommandNotFound)
	}
	return fmt.Errorf("exec %s: %w", name, err)
}

// lookPath finds name on the outgoing env's PATH, the way execvp resolves
// a bare command name. An absolute or relative path containing a slash is
// used as-is, matching execvp's own special case.
func lookPath(name string, env []string) (string, error) {
	if strings.ContainsRune(name, '/') {
		return name, nil
	}

	pathVar := ""
	for _, kv := range env {
		if n, v, ok := splitEnv(kv); ok && n == "PATH" {
			pathVar = v
			break
		}
	}

	for _, dir := range strings.Split(pathVar, ":") {
		if dir == "" {
			dir = "."
		}
		candidate := dir + "/" + name
		if err := unix.Access(candidate, unix.X_OK); err == nil {
			return candidate, nil
		}
	}
	return "", unix.ENOENT
}
