package persist

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// procStat is the subset of /proc/<pid>/stat this package needs: the
// controlling tty device number (field 7) and the process start time
// (field 22, in clock ticks since boot). Both are read from the kernel's
// own record of the session leader, never from ttyname() of a
// user-controllable stdin/stdout/stderr (§4.4, CVE class: tty ticket
// reuse — see sudo's tty_tickets advisory referenced in timestamp.c).
type procStat struct {
	ttyNr     int64
	startTime uint64
}

func readProcStat(pid int) (procStat, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return procStat{}, err
	}
	return parseProcStat(string(data))
}

// parseProcStat mirrors timestamp.c's proc_info(): the 2nd field `comm` can
// itself contain spaces and closing parens, so fields are counted from the
// last ')' rather than by naive whitespace splitting.
func parseProcStat(s string) (procStat, error) {
	s = strings.TrimRight(s, "\n")
	idx := strings.LastIndexByte(s, ')')
	if idx < 0 || idx+1 >= len(s) {
		return procStat{}, fmt.Errorf("malformed /proc stat record")
	}
	rest := strings.Fields(s[idx+1:])
	// rest[0] is field 3 (state); field 7 is tty_nr -> rest[7-3] = rest[4].
	// field 22 is starttime -> rest[22-3] = rest[19].
	const ttyField = 7 - 3
	const startField = 22 - 3
	if len(rest) <= startField {
		return procStat{}, fmt.Errorf("short /proc stat record: %d fields", len(rest))
	}
	ttyNr, err := strconv.ParseInt(rest[ttyField], 10, 64)
	if err != nil {
		return procStat{}, fmt.Errorf("parsing tty_nr: %w", err)
	}
	startTime, err := strconv.ParseUint(rest[startField], 10, 64)
	if err != nil {
		return procStat{}, fmt.Errorf("parsing starttime: %w", err)
	}
	return procStat{ttyNr: ttyNr, startTime: startTime}, nil
}
