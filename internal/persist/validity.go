package persist

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// checkTokenFile runs the §4.4 file-metadata checks on an opened token: it
// must be a regular file, owned by root, with the invoker's own gid (so
// only a cooperating setgid helper or root itself can ever read it back),
// mode 0600 (or the transient mode 0000 of a just-created, still-empty
// file), and either empty or exactly tokenSize bytes. Any other shape is
// ErrCorrupt, not merely "invalid" — a forged or tampered token must never
// be silently treated as expired.
func (s *Store) checkTokenFile(fd int) error {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return fmt.Errorf("fstat token: %w", err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		return fmt.Errorf("%w: not a regular file", ErrCorrupt)
	}
	if st.Uid != uint32(os.Geteuid()) {
		return fmt.Errorf("%w: owned by uid %d, want %d", ErrCorrupt, st.Uid, os.Geteuid())
	}
	if st.Gid != s.key.InvokerGID {
		return fmt.Errorf("%w: owned by gid %d, want %d", ErrCorrupt, st.Gid, s.key.InvokerGID)
	}
	mode := st.Mode & 0o777
	if mode != 0o600 && !(mode == 0o000 && st.Size == 0) {
		return fmt.Errorf("%w: mode %o, want 0600", ErrCorrupt, mode)
	}
	if st.Size != 0 && st.Size != tokenSize {
		return fmt.Errorf("%w: size %d, want 0 or %d", ErrCorrupt, st.Size, tokenSize)
	}
	return nil
}

// checkValidity implements timestamp.c's timestamp_check(): read both
// stored expiry timestamps and compare each against its own clock
// source. A timestamp more than one lifetime beyond "now" indicates the
// wall clock was wound backward after the token was written (or forward
// then back) — §4.4 treats that as a fatal integrity failure, not an
// ordinary expiry.
func (s *Store) checkValidity(fd int, lifetime time.Duration) (bool, error) {
	buf := make([]byte, tokenSize)
	n, err := unix.Pread(fd, buf, 0)
	if err != nil {
		return false, fmt.Errorf("reading token: %w", err)
	}
	if n == 0 {
		return false, nil // freshly created, never set
	}
	if n != tokenSize {
		return false, fmt.Errorf("%w: short read (%d bytes)", ErrCorrupt, n)
	}

	monoExpiry := unix.Timespec{
		Sec:  int64(binary.LittleEndian.Uint64(buf[0:8])),
		Nsec: int64(binary.LittleEndian.Uint64(buf[8:16])),
	}
	realExpiry := unix.Timespec{
		Sec:  int64(binary.LittleEndian.Uint64(buf[16:24])),
		Nsec: int64(binary.LittleEndian.Uint64(buf[24:32])),
	}

	var nowMono, nowReal unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &nowMono); err != nil {
		return false, fmt.Errorf("clock_gettime(BOOTTIME): %w", err)
	}
	if err := unix.ClockGettime(unix.CLOCK_REALTIME, &nowReal); err != nil {
		return false, fmt.Errorf("clock_gettime(REALTIME): %w", err)
	}

	if err := rejectFutureSkew(nowMono, monoExpiry, lifetime); err != nil {
		return false, err
	}
	if err := rejectFutureSkew(nowReal, realExpiry, lifetime); err != nil {
		return false, err
	}

	valid := nowMono.Nano() < monoExpiry.Nano() && nowReal.Nano() < realExpiry.Nano()
	return valid, nil
}

// rejectFutureSkew is fatal if expiry sits more than one extra lifetime
// beyond now — a token legitimately expires at most `lifetime` past its
// creation, so seeing it dated further out than that means a clock moved,
// not that authentication is still fresh.
func rejectFutureSkew(now, expiry unix.Timespec, lifetime time.Duration) error {
	if expiry.Nano()-now.Nano() > int64(lifetime) {
		return fmt.Errorf("%w: expiry %d ns ahead of now, lifetime is %d ns", ErrFutureSkew, expiry.Nano()-now.Nano(), int64(lifetime))
	}
	return nil
}
