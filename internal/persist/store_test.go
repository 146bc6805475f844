package persist

import (
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func withTempDir(t *testing.T) {
	t.Helper()
	old := Dir
	Dir = t.TempDir()
	t.Cleanup(func() { Dir = old })
}

func testKey() SessionKey {
	return SessionKey{
		ParentPID:          1234,
		SessionID:          5678,
		TTYNr:              9,
		SessionLeaderStart: 42,
		SessionLeaderPID:   5678,
		InvokerUID:         1000,
		InvokerGID:         uint32(os.Getegid()),
	}
}

func TestOpenCreatesEmptyInvalidToken(t *testing.T) {
	withTempDir(t)

	s, err := Open(testKey())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	fd, valid, err := s.OpenToken(5 * time.Minute)
	if err != nil {
		t.Fatalf("OpenToken: %v", err)
	}
	defer unix.Close(fd)
	if valid {
		t.Fatalf("freshly created token should never be valid")
	}
}

func TestSetThenOpenIsValid(t *testing.T) {
	withTempDir(t)

	s, err := Open(testKey())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	fd, _, err := s.OpenToken(5 * time.Minute)
	if err != nil {
		t.Fatalf("OpenToken: %v", err)
	}
	if err := s.SetToken(fd, 5*time.Minute); err != nil {
		unix.Close(fd)
		t.Fatalf("SetToken: %v", err)
	}
	unix.Close(fd)

	fd2, valid, err := s.OpenToken(5 * time.Minute)
	if err != nil {
		t.Fatalf("reopening token: %v", err)
	}
	defer unix.Close(fd2)
	if !valid {
		t.Fatalf("token set 0s ago with a 5m lifetime should be valid")
	}
}

func TestClearRemovesSessionTokens(t *testing.T) {
	withTempDir(t)

	key := testKey()
	s, err := Open(key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	fd, _, err := s.OpenToken(5 * time.Minute)
	if err != nil {
		t.Fatalf("OpenToken: %v", err)
	}
	if err := s.SetToken(fd, 5*time.Minute); err != nil {
		unix.Close(fd)
		t.Fatalf("SetToken: %v", err)
	}
	unix.Close(fd)

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	entries, err := os.ReadDir(Dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if len(e.Name()) >= len(key.Prefix()) && e.Name()[:len(key.Prefix())] == key.Prefix() {
			t.Fatalf("Clear left token %q behind", e.Name())
		}
	}
}

func TestClearWithNoTokensSucceeds(t *testing.T) {
	withTempDir(t)

	s, err := Open(testKey())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear on empty store should succeed, got: %v", err)
	}
}

func TestCheckValidityRejectsFutureSkew(t *testing.T) {
	withTempDir(t)

	s, err := Open(testKey())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	fd, _, err := s.OpenToken(5 * time.Minute)
	if err != nil {
		t.Fatalf("OpenToken: %v", err)
	}
	defer unix.Close(fd)

	// Simulate a clock moved far into the future at the moment the token
	// was written, by writing expiry timestamps 50 lifetimes out, far
	// beyond what SetToken would ever produce for a 5 minute lifetime.
	lifetime := 5 * time.Minute
	if err := s.SetToken(fd, 50*lifetime); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	if _, err := s.checkValidity(fd, lifetime); err == nil {
		t.Fatalf("expected future-skew rejection")
	}
}

func TestCheckTokenFileRejectsWrongGID(t *testing.T) {
	withTempDir(t)

	key := testKey()
	key.InvokerGID = key.InvokerGID + 1 // guaranteed mismatch against the file's real gid
	s, err := Open(key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	fd, _, err := s.OpenToken(5 * time.Minute)
	if err != nil {
		t.Fatalf("OpenToken: %v", err)
	}
	defer unix.Close(fd)
	if err := s.SetToken(fd, 5*time.Minute); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	if err := s.checkTokenFile(fd); err == nil {
		t.Fatalf("expected gid-mismatch rejection")
	}
}

func TestParseProcStatSkipsParenthesizedComm(t *testing.T) {
	line := "123 (my process) S 1 1 1 34816 -1 4194560 0 0 0 0 0 0 0 0 20 0 1 0 99999 0 0 18446744073709551615 0 0 0 0 0 0 0 0 0 0 0 0 17 3 0 0 0 0 0 0 0 0 0 0 0 0 0\n"
	st, err := parseProcStat(line)
	if err != nil {
		t.Fatalf("parseProcStat: %v", err)
	}
	if st.ttyNr != 34816 {
		t.Fatalf("ttyNr = %d, want 34816", st.ttyNr)
	}
	if st.startTime != 99999 {
		t.Fatalf("startTime = %d, want 99999", st.startTime)
	}
}

func TestSessionKeyTokenNameAndPrefix(t *testing.T) {
	k := SessionKey{ParentPID: 1, SessionID: 2, TTYNr: 3, SessionLeaderStart: 4, SessionLeaderPID: 5, InvokerUID: 6}
	if got, want := k.TokenName(), "1-2-3-4-5-6"; got != want {
		t.Fatalf("TokenName() = %q, want %q", got, want)
	}
	if got, want := k.Prefix(), "1-2-3-4-5-"; got != want {
		t.Fatalf("Prefix() = %q, want %q", got, want)
	}
}
