// Package proctest provides an in-memory procstat.Table for tests.
package proctest

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"
)

// Process is a fake process table entry.
type Process struct {
	Line       string // ps record returned by Sample; generated when empty
	IgnoreTerm bool   // survive SIGTERM
}

// Table is a thread-safe fake process table.
type Table struct {
	mu      sync.Mutex
	procs   map[int]*Process
	nextPID int
	signals []Signal
	listErr error
}

// Signal records one signal delivery.
type Signal struct {
	PID    int
	Signal syscall.Signal
	At     time.Time
}

// New creates an empty fake table. Spawned pids start at 1000.
func New() *Table {
	return &Table{
		procs:   make(map[int]*Process),
		nextPID: 1000,
	}
}

// Spawn adds a live process and returns its pid.
func (t *Table) Spawn(p Process) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextPID++
	t.procs[t.nextPID] = &p
	return t.nextPID
}

// Add inserts a live process under a fixed pid.
func (t *Table) Add(pid int, p Process) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.procs[pid] = &p
}

// Kill removes a process as if it died outside the supervisor.
func (t *Table) Kill(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, pid)
}

// SetRecord replaces the ps record of a live process.
func (t *Table) SetRecord(pid int, line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.procs[pid]; ok {
		p.Line = line
	}
}

// FailListing makes Pids return err until cleared with nil.
func (t *Table) FailListing(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listErr = err
}

// Signals returns every signal delivered so far.
func (t *Table) Signals() []Signal {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Signal, len(t.signals))
	copy(out, t.signals)
	return out
}

// Len returns the number of live processes.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}

// Pids implements procstat.Table.
func (t *Table) Pids() (map[int]struct{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listErr != nil {
		return nil, t.listErr
	}
	pids := make(map[int]struct{}, len(t.procs))
	for pid := range t.procs {
		pids[pid] = struct{}{}
	}
	return pids, nil
}

// Sample implements procstat.Table.
func (t *Table) Sample(pid int) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[pid]
	if !ok {
		return "", nil
	}
	if p.Line != "" {
		return p.Line, nil
	}
	return Record(pid, 1024, "worker"), nil
}

// Alive implements procstat.Table.
func (t *Table) Alive(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.procs[pid]
	return ok
}

// Signal implements procstat.Table. SIGKILL always kills, SIGTERM kills
// unless the process ignores it.
func (t *Table) Signal(pid int, sig syscall.Signal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.signals = append(t.signals, Signal{PID: pid, Signal: sig, At: time.Now()})

	p, ok := t.procs[pid]
	if !ok {
		return syscall.ESRCH
	}
	switch sig {
	case syscall.SIGKILL:
		delete(t.procs, pid)
	case syscall.SIGTERM:
		if !p.IgnoreTerm {
			delete(t.procs, pid)
		}
	default:
		return errors.New("unsupported signal")
	}
	return nil
}

// Record formats a ps record for pid with the given resident size in KB.
func Record(pid int, rssKB int64, command string) string {
	return fmt.Sprintf("%5d  0.5  1.2 %6d %8d Mon Jan  5 14:28:01 2026     0     0 %s",
		pid, rssKB, rssKB*4, command)
}
