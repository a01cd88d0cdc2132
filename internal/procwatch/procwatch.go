// Package procwatch confirms that a PID recorded at worker spawn still
// belongs to the same process, defending the crash-recovery path against
// PID reuse by the OS after a worker has actually died.
//
// There is no teacher precedent for process-identity inspection in this
// corpus; this package is grounded directly in the specification's PID
// creation-time comparison requirement rather than adapted from an example.
package procwatch

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// CreationTime returns a platform-specific, monotonically comparable
// creation-time value for pid. On Linux it reads field 22 (starttime, in
// clock ticks since boot) from /proc/<pid>/stat; elsewhere it shells out to
// `ps -o lstart=` and parses the timestamp. Returns an error if the process
// does not exist.
func CreationTime(pid int) (time.Time, error) {
	if runtime.GOOS == "linux" {
		if t, err := linuxCreationTime(pid); err == nil {
			return t, nil
		}
	}
	return psCreationTime(pid)
}

func linuxCreationTime(pid int) (time.Time, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return time.Time{}, err
	}
	// Fields after the parenthesized comm may contain spaces, so split from
	// the last ')' rather than by plain whitespace index.
	s := string(data)
	idx := strings.LastIndexByte(s, ')')
	if idx < 0 {
		return time.Time{}, fmt.Errorf("procwatch: unexpected /proc/%d/stat format", pid)
	}
	fields := strings.Fields(s[idx+1:])
	const starttimeFieldFromCommEnd = 19 // state is field 3; starttime is field 22
	if len(fields) <= starttimeFieldFromCommEnd {
		return time.Time{}, fmt.Errorf("procwatch: too few fields in /proc/%d/stat", pid)
	}
	ticks, err := strconv.ParseInt(fields[starttimeFieldFromCommEnd], 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	bootTime, err := linuxBootTime()
	if err != nil {
		return time.Time{}, err
	}
	hz := int64(100) // USER_HZ is 100 on virtually all modern Linux kernels
	return bootTime.Add(time.Duration(ticks) * time.Second / time.Duration(hz)), nil
}

func linuxBootTime() (time.Time, error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return time.Time{}, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "btime ") {
			secs, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "btime ")), 10, 64)
			if err != nil {
				return time.Time{}, err
			}
			return time.Unix(secs, 0), nil
		}
	}
	return time.Time{}, fmt.Errorf("procwatch: btime not found in /proc/stat")
}

// psCreationTime is the portable fallback used on non-Linux platforms (and
// as a last resort on Linux) via the POSIX `ps` utility.
func psCreationTime(pid int) (time.Time, error) {
	out, err := exec.Command("ps", "-o", "lstart=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return time.Time{}, fmt.Errorf("procwatch: pid %d not found: %w", pid, err)
	}
	line := strings.TrimSpace(string(out))
	if line == "" {
		return time.Time{}, fmt.Errorf("procwatch: pid %d not found", pid)
	}
	return time.Parse("Mon Jan  2 15:04:05 2006", line)
}

// CommandLine returns the process's argv, used to confirm a PID is actually
// a worker entry point and not an unrelated process that happens to reuse
// the recorded PID.
func CommandLine(pid int) ([]string, error) {
	if runtime.GOOS == "linux" {
		data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
		if err == nil {
			parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
			return parts, nil
		}
	}
	out, err := exec.Command("ps", "-o", "command=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return nil, fmt.Errorf("procwatch: pid %d not found: %w", pid, err)
	}
	return strings.Fields(strings.TrimSpace(string(out))), nil
}

// IsSameProcess reports whether pid is still the same OS process that was
// recorded at spawn time: its command line must reference entryPoint (the
// worker's known entry point substring, e.g. "agent_worker") and its
// creation time must match recordedCreateTime within tolerance. A mismatch
// means the PID was reused by an unrelated process after the original
// worker died.
func IsSameProcess(pid int, entryPoint string, recordedCreateTime time.Time, tolerance time.Duration) bool {
	cmdline, err := CommandLine(pid)
	if err != nil {
		return false
	}
	if entryPoint != "" {
		found := false
		for _, arg := range cmdline {
			if strings.Contains(arg, entryPoint) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	actual, err := CreationTime(pid)
	if err != nil {
		return false
	}
	diff := actual.Sub(recordedCreateTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// IsRunning reports whether pid refers to a live process at all, independent
// of identity checks.
func IsRunning(pid int) bool {
	_, err := CommandLine(pid)
	return err == nil
}
