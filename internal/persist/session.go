package persist

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SessionKey is the tuple that namespaces one persistence token (§3
// "Session prefix" and §4.4 "Token name"): the session leader's pid and
// start time, the controlling tty's device number, the parent pid, the
// session id, and the invoker's uid.
type SessionKey struct {
	SessionLeaderPID   int
	SessionLeaderStart uint64
	TTYNr              int64
	ParentPID          int
	SessionID          int
	InvokerUID         uint32
	InvokerGID         uint32
}

// DeriveSessionKey computes the SessionKey the way timestamp.c's
// timestamp_path() does: the session leader pid comes from
// ioctl(TIOCGSID) on the controlling tty (never from ttyname of stdin/
// stdout/stderr, which the invoker can freely redirect), and the leader's
// start time and tty device number both come from that leader's own
// /proc/<pid>/stat record.
func DeriveSessionKey(invokerUID, invokerGID uint32) (SessionKey, error) {
	ctty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return SessionKey{}, fmt.Errorf("no controlling tty: %w", err)
	}
	defer ctty.Close()

	sid, err := unix.IoctlGetInt(int(ctty.Fd()), unix.TIOCGSID)
	if err != nil {
		return SessionKey{}, fmt.Errorf("TIOCGSID: %w", err)
	}

	leader, err := readProcStat(sid)
	if err != nil {
		return SessionKey{}, fmt.Errorf("reading session leader state: %w", err)
	}

	return SessionKey{
		SessionLeaderPID:   sid,
		SessionLeaderStart: leader.startTime,
		TTYNr:              leader.ttyNr,
		ParentPID:          os.Getppid(),
		SessionID:          sid,
		InvokerUID:         invokerUID,
		InvokerGID:         invokerGID,
	}, nil
}

// TokenName is the deterministic file name derived from the SessionKey.
func (k SessionKey) TokenName() string {
	return fmt.Sprintf("%d-%d-%d-%d-%d-%d",
		k.ParentPID, k.SessionID, k.TTYNr, k.SessionLeaderStart, k.SessionLeaderPID, k.InvokerUID)
}

// Prefix is the shared portion of every token name for this session,
// used by Clear to unlink every token belonging to the current session
// (logout really clears, even if the lifetime/invoker-uid portion were to
// ever vary).
func (k SessionKey) Prefix() string {
	return fmt.Sprintf("%d-%d-%d-%d-%d-", k.ParentPID, k.SessionID, k.TTYNr, k.SessionLeaderStart, k.SessionLeaderPID)
}
