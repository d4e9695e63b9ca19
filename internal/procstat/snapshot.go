package procstat

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotAlive is returned when metrics are requested from a snapshot
// of a process that was not running when sampled.
var ErrNotAlive = errors.New("process is not running")

// Snapshot is an immutable point-in-time view of one process.
type Snapshot struct {
	pid       int
	table     Table
	alive     bool
	metrics   Metrics
	sampledAt time.Time
}

// Sample takes a fresh ps record for pid and derives its metrics.
func Sample(table Table, pid int) (Snapshot, error) {
	line, err := table.Sample(pid)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to sample process %d: %w", pid, err)
	}
	return FromRecord(table, pid, line, time.Now())
}

// FromRecord builds a snapshot from an already captured ps record.
// An empty line yields a snapshot that is not alive.
func FromRecord(table Table, pid int, line string, sampledAt time.Time) (Snapshot, error) {
	s := Snapshot{pid: pid, table: table, sampledAt: sampledAt}
	if line == "" {
		return s, nil
	}

	m, err := ParseRecord(line, sampledAt)
	if err != nil {
		return Snapshot{}, err
	}
	s.alive = true
	s.metrics = m
	return s, nil
}

// Synthesize returns a snapshot for a bare pid without sampling it.
// It is not alive until reloaded.
func Synthesize(table Table, pid int) Snapshot {
	return Snapshot{pid: pid, table: table}
}

// PID returns the OS pid of the snapshot.
func (s Snapshot) PID() int {
	return s.pid
}

// Alive reports whether the process was running when sampled.
func (s Snapshot) Alive() bool {
	return s.alive
}

// SampledAt returns when the record was taken.
func (s Snapshot) SampledAt() time.Time {
	return s.sampledAt
}

// Metrics returns the derived metrics, or ErrNotAlive.
func (s Snapshot) Metrics() (Metrics, error) {
	if !s.alive {
		return Metrics{}, ErrNotAlive
	}
	return s.metrics, nil
}

// Reload samples the same pid again.
func (s Snapshot) Reload() (Snapshot, error) {
	return Sample(s.table, s.pid)
}
