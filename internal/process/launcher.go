package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/google/uuid"

	"github.com/smazurov/spagmon/internal/logging"
)

// Spec describes how to start a job's workers.
type Spec struct {
	JobID       string
	Command     string
	Directory   string
	Environment []string // KEY=VALUE pairs added to the daemon's environment
}

// ExitFunc is called from the reaping goroutine when a worker exits.
type ExitFunc func(jobID, slot string, pid, exitCode int)

// Launcher starts workers for one job.
type Launcher struct {
	spec   Spec
	args   []string
	logger logging.Logger
	output *slog.Logger
	onExit ExitFunc
}

// NewLauncher validates the command and returns a launcher for it.
func NewLauncher(spec Spec, logger logging.Logger) (*Launcher, error) {
	args, err := parseCommand(spec.Command)
	if err != nil {
		return nil, fmt.Errorf("invalid command for job %s: %w", spec.JobID, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command for job %s", spec.JobID)
	}
	return &Launcher{
		spec:   spec,
		args:   args,
		logger: logger,
		output: logging.GetLogger("workers").With("job", spec.JobID),
	}, nil
}

// OnExit registers a callback for worker exits. It runs off the supervisor loop.
func (l *Launcher) OnExit(fn ExitFunc) {
	l.onExit = fn
}

// Command returns the parsed argument list.
func (l *Launcher) Command() []string {
	out := make([]string, len(l.args))
	copy(out, l.args)
	return out
}

// Launch starts one worker and returns its slot id and pid.
func (l *Launcher) Launch() (string, int, error) {
	slot := uuid.NewString()

	cmd := exec.Command(l.args[0], l.args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Dir = l.spec.Directory
	if len(l.spec.Environment) > 0 {
		cmd.Env = append(os.Environ(), l.spec.Environment...)
	}

	// Plain os pipes let Wait reap the worker even while a grandchild
	// still holds the write ends open.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return "", 0, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		stdout.Close()
		stdoutW.Close()
		return "", 0, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdout.Close()
		stderr.Close()
		return "", 0, fmt.Errorf("failed to start %q: %w", l.spec.Command, err)
	}
	pid := cmd.Process.Pid
	l.logger.Debug("Worker started", "slot", slot, "pid", pid, "command", l.spec.Command)

	output := l.output.With("slot", slot, "pid", pid)
	go func() {
		defer stdout.Close()
		streamOutput(stdout, "stdout", output)
	}()
	go func() {
		defer stderr.Close()
		streamOutput(stderr, "stderr", output)
	}()

	go func() {
		code := exitCodeFromError(cmd.Wait())
		l.logger.Debug("Worker exited", "slot", slot, "pid", pid, "exit_code", code)
		if l.onExit != nil {
			l.onExit(l.spec.JobID, slot, pid, code)
		}
	}()

	return slot, pid, nil
}

// streamOutput logs each line the worker writes. stderr lines log at warn.
func streamOutput(reader io.Reader, source string, logger logging.Logger) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		if source == "stderr" {
			logger.Warn(scanner.Text(), "source", source)
		} else {
			logger.Info(scanner.Text(), "source", source)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		logger.Debug("Error reading worker output", "source", source, "error", err)
	}
}

// exitCodeFromError extracts the exit code from a Wait error.
// Workers killed by a signal report 128+signal.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}
