package procstat

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/smazurov/spagmon/internal/logging"
)

// DefaultKillTimeout is the grace period used when no mode is configured.
const DefaultKillTimeout = 20 * time.Second

// pollInterval is how often liveness is checked while waiting for death.
var pollInterval = 200 * time.Millisecond

type modeKind int

const (
	modeImmediate modeKind = iota + 1
	modeGraceful
	modeDeadline
)

// TerminationMode selects how a process is terminated.
// The zero value behaves like DefaultMode.
type TerminationMode struct {
	kind     modeKind
	deadline time.Duration
}

// Immediate sends SIGKILL only.
func Immediate() TerminationMode {
	return TerminationMode{kind: modeImmediate}
}

// Graceful sends SIGTERM only and waits however long the process takes.
func Graceful() TerminationMode {
	return TerminationMode{kind: modeGraceful}
}

// GracefulWithDeadline sends SIGTERM, then SIGKILL once d has elapsed.
func GracefulWithDeadline(d time.Duration) TerminationMode {
	return TerminationMode{kind: modeDeadline, deadline: d}
}

// DefaultMode is GracefulWithDeadline(DefaultKillTimeout).
func DefaultMode() TerminationMode {
	return GracefulWithDeadline(DefaultKillTimeout)
}

// Deadline returns the grace period and whether the mode escalates.
func (m TerminationMode) Deadline() (time.Duration, bool) {
	m = m.normalize()
	return m.deadline, m.kind == modeDeadline
}

// IsImmediate reports whether the mode skips the graceful signal.
func (m TerminationMode) IsImmediate() bool {
	return m.kind == modeImmediate
}

func (m TerminationMode) String() string {
	switch m.normalize().kind {
	case modeImmediate:
		return "immediate"
	case modeGraceful:
		return "graceful"
	default:
		return fmt.Sprintf("graceful(%s)", m.normalize().deadline)
	}
}

func (m TerminationMode) normalize() TerminationMode {
	if m.kind == 0 {
		return DefaultMode()
	}
	return m
}

// Termination reports how a process ended.
type Termination struct {
	PID       int
	Signal    syscall.Signal // last signal sent, 0 if the process was already gone
	Escalated bool           // SIGKILL followed an expired deadline
	Duration  time.Duration
	Err       error // signal delivery failed for a reason other than ESRCH
}

// Terminate stops the process and blocks until it is confirmed dead.
// It only signals and polls the process table, so it is safe to run on a
// background goroutine.
func (s Snapshot) Terminate(mode TerminationMode, logger logging.Logger) Termination {
	return terminate(s.table, s.pid, mode.normalize(), logger)
}

func terminate(table Table, pid int, mode TerminationMode, logger logging.Logger) Termination {
	start := time.Now()
	result := Termination{PID: pid}

	if !table.Alive(pid) {
		return result
	}

	send := func(sig syscall.Signal) bool {
		logger.Info("Sending signal to process", "pid", pid, "signal", sig.String())
		result.Signal = sig
		if err := table.Signal(pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
			logger.Error("Failed to signal process", "pid", pid, "signal", sig.String(), "error", err)
			result.Err = err
			return false
		}
		return true
	}

	switch mode.kind {
	case modeImmediate:
		if !send(syscall.SIGKILL) {
			return finish(result, start)
		}
	case modeGraceful:
		if !send(syscall.SIGTERM) {
			return finish(result, start)
		}
	case modeDeadline:
		logger.Info("Waiting for process to terminate gracefully", "pid", pid, "timeout", mode.deadline)
		if !send(syscall.SIGTERM) {
			return finish(result, start)
		}
		deadline := start.Add(mode.deadline)
		for table.Alive(pid) {
			if !time.Now().Before(deadline) {
				logger.Warn("Graceful termination deadline expired", "pid", pid, "timeout", mode.deadline)
				result.Escalated = true
				if !send(syscall.SIGKILL) {
					return finish(result, start)
				}
				break
			}
			time.Sleep(pollInterval)
		}
	}

	for table.Alive(pid) {
		time.Sleep(pollInterval)
	}

	result = finish(result, start)
	logger.Info("Process terminated", "pid", pid, "signal", result.Signal.String(), "duration", result.Duration)
	return result
}

func finish(result Termination, start time.Time) Termination {
	result.Duration = time.Since(start)
	return result
}
