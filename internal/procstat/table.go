package procstat

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/procfs"
)

// Table is the OS process table as seen by the supervisor.
type Table interface {
	// Pids lists every pid currently present in the process table.
	Pids() (map[int]struct{}, error)

	// Sample returns the ps record for pid, or "" when pid is not running.
	Sample(pid int) (string, error)

	// Alive reports whether pid is currently running.
	Alive(pid int) bool

	// Signal sends sig to pid.
	Signal(pid int, sig syscall.Signal) error
}

// OSTable reads the live process table of the host.
type OSTable struct{}

// NewOSTable creates a Table backed by /proc and ps.
func NewOSTable() *OSTable {
	return &OSTable{}
}

// Pids lists running pids from /proc, falling back to ps when /proc is unavailable.
func (t *OSTable) Pids() (map[int]struct{}, error) {
	if fs, err := procfs.NewDefaultFS(); err == nil {
		if procs, listErr := fs.AllProcs(); listErr == nil {
			pids := make(map[int]struct{}, len(procs))
			for _, p := range procs {
				pids[p.PID] = struct{}{}
			}
			return pids, nil
		}
	}

	out, err := exec.Command("ps", "-A", "-o", "pid=").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	return parsePidList(out), nil
}

// Sample runs ps for a single pid.
func (t *OSTable) Sample(pid int) (string, error) {
	out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", PsFormat).Output()
	if err != nil {
		// ps exits non-zero when the pid does not exist
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", nil
		}
		return "", fmt.Errorf("failed to run ps: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(lines) < 2 {
		return "", nil
	}
	return lines[1], nil
}

// Alive probes pid with signal 0.
func (t *OSTable) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Signal sends sig to pid.
func (t *OSTable) Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return syscall.ESRCH
	}
	return syscall.Kill(pid, sig)
}

func parsePidList(out []byte) map[int]struct{} {
	pids := make(map[int]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err != nil {
			continue
		}
		pids[pid] = struct{}{}
	}
	return pids
}
