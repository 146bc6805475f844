// Package persist implements §4.4: a persistence store that caches a
// recent successful authentication for a short interval, resisting tty
// reuse, clock rollback, and symlink attacks.
package persist

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Dir is the persistence directory (§6: "/run/doas"), overridable in
// tests.
var Dir = "/run/doas"

// DefaultLifetime is how long a successful authentication remains valid
// (§3 "Persistence token" — 5 minutes).
const DefaultLifetime = 5 * time.Minute

// ErrCorrupt is returned when an existing token file fails any of the
// file-metadata checks in §4.4 — a condition the spec treats as fatal,
// never merely "invalid".
var ErrCorrupt = errors.New("persistence token is corrupt")

// ErrFutureSkew is returned when a stored timestamp is further in the
// future than the lifetime allows — a fatal clock-rollback indicator,
// never just an invalidation.
var ErrFutureSkew = errors.New("persistence token timestamp too far in the future")

const tokenSize = 32 // two (int64 sec, int64 nsec) pairs

// Store is one directory-fd-bound handle to the persistence directory. All
// opens and unlinks happen relative to that single fd so no path-based
// operation ever races against a symlink swapped in after a permission
// check (§4.4 "Race discipline").
type Store struct {
	dirFd int
	key   SessionKey
}

// Open ensures the persistence directory exists with the required
// ownership and mode, and binds a Store to it for the given session.
func Open(key SessionKey) (*Store, error) {
	fd, err := ensureDir(Dir)
	if err != nil {
		return nil, err
	}
	return &Store{dirFd: fd, key: key}, nil
}

func (s *Store) Close() error {
	return unix.Close(s.dirFd)
}

// ensureDir creates Dir (owned by uid 0, mode 0700) if absent, or verifies
// an existing one matches, then returns an open directory file descriptor
// for reuse across every subsequent *at(2) call.
func ensureDir(path string) (int, error) {
	st, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.Mkdir(path, 0o700); err != nil {
			return -1, fmt.Errorf("creating %s: %w", path, err)
		}
		st, err = os.Lstat(path)
		if err != nil {
			return -1, err
		}
	} else if err != nil {
		return -1, err
	}

	if !st.IsDir() {
		return -1, fmt.Errorf("%s is not a directory", path)
	}
	if st.Mode().Perm() != 0o700 {
		return -1, fmt.Errorf("%s has mode %o, want 0700", path, st.Mode().Perm())
	}
	if uid, err := dirUID(st); err == nil && uid != uint32(os.Geteuid()) {
		return -1, fmt.Errorf("%s is not owned by the running effective uid", path)
	}

	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_NOFOLLOW, 0)
	if err != nil {
		return -1, fmt.Errorf("opening %s: %w", path, err)
	}
	return fd, nil
}

// OpenToken is §4.4's open(lifetime): create the token file if absent
// (freshly created tokens are always invalid), or open the existing one
// and run the validity check.
func (s *Store) OpenToken(lifetime time.Duration) (fd int, valid bool, err error) {
	name := s.key.TokenName()

	fd, err = unix.Openat(s.dirFd, name, unix.O_RDWR|unix.O_NOFOLLOW, 0)
	switch {
	case err == nil:
		// fall through to checks below
	case errors.Is(err, unix.ENOENT):
		fd, err = s.create(name)
		if err != nil {
			return -1, false, err
		}
		return fd, false, nil
	default:
		return -1, false, fmt.Errorf("opening token %s: %w", name, err)
	}

	if err := s.checkTokenFile(fd); err != nil {
		unix.Close(fd)
		return -1, false, err
	}

	valid, err = s.checkValidity(fd, lifetime)
	if err != nil {
		unix.Close(fd)
		return -1, false, err
	}
	return fd, valid, nil
}

// create implements the temp-file-then-rename dance in timestamp.c's
// timestamp_open(): a mode-0000 file is created with O_EXCL|O_NOFOLLOW
// under a private temp name, then renamed into place, so there is never a
// window where the final path exists with attacker-influenced content.
func (s *Store) create(name string) (int, error) {
	tmp := fmt.Sprintf(".tmp-%d", os.Getpid())
	fd, err := unix.Openat(s.dirFd, tmp, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_NOFOLLOW, 0o000)
	if err != nil {
		return -1, fmt.Errorf("creating token: %w", err)
	}
	if err := unix.Renameat(s.dirFd, tmp, s.dirFd, name); err != nil {
		unix.Close(fd)
		unix.Unlinkat(s.dirFd, tmp, 0)
		return -1, fmt.Errorf("placing token: %w", err)
	}
	// §4.4 file checks require mode 0600: the OpenDoas original leaves
	// freshly created tokens at mode 0000 (readable to no one) until
	// Set() writes real content; match that exactly, checkTokenFile
	// special-cases an empty, mode-0000 file as acceptable.
	return fd, nil
}

// SetToken implements §4.4's set(fd, lifetime): truncate and write two
// expiry timestamps, one per clock source, and fix the mode to 0600 (the
// only mode either a freshly-created 0000 file or an already-0600 file
// should have afterward).
func (s *Store) SetToken(fd int, lifetime time.Duration) error {
	mono, real, err := expiryTimestamps(lifetime)
	if err != nil {
		return err
	}
	if _, err := unix.Seek(fd, 0, 0); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	if err := unix.Ftruncate(fd, 0); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	buf := make([]byte, tokenSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(mono.Sec))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(mono.Nsec))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(real.Sec))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(real.Nsec))
	if _, err := unix.Write(fd, buf); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	if err := unix.Fchmod(fd, 0o600); err != nil {
		return fmt.Errorf("chmod token: %w", err)
	}
	return nil
}

// Clear implements §4.4's clear(): unlink every token sharing the current
// session's prefix, so -L really clears logout-wide, not just one
// lifetime's worth of tokens.
func (s *Store) Clear() error {
	entries, err := os.ReadDir(Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	prefix := s.key.Prefix()
	var firstErr error
	for _, e := range entries {
		if len(e.Name()) < len(prefix) || e.Name()[:len(prefix)] != prefix {
			continue
		}
		if err := unix.Unlinkat(s.dirFd, e.Name(), 0); err != nil && !errors.Is(err, unix.ENOENT) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func expiryTimestamps(lifetime time.Duration) (mono, real unix.Timespec, err error) {
	var ts unix.Timespec
	if err = unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		return mono, real, fmt.Errorf("clock_gettime(BOOTTIME): %w", err)
	}
	mono = addDuration(ts, lifetime)

	if err = unix.ClockGettime(unix.CLOCK_REALTIME, &ts); err != nil {
		return mono, real, fmt.Errorf("clock_gettime(REALTIME): %w", err)
	}
	real = addDuration(ts, lifetime)
	return mono, real, nil
}

func addDuration(ts unix.Timespec, d time.Duration) unix.Timespec {
	total := ts.Nano() + int64(d)
	return unix.NsecToTimespec(total)
}

func dirUID(st os.FileInfo) (uint32, error) {
	sys, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("unsupported stat type")
	}
	return sys.Uid, nil
}
