package process

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type exit struct {
	slot string
	pid  int
	code int
}

// launch starts a worker and returns a channel receiving its exit.
func launch(t *testing.T, spec Spec) (string, int, <-chan exit) {
	t.Helper()
	l, err := NewLauncher(spec, testLogger())
	if err != nil {
		t.Fatalf("NewLauncher() error = %v", err)
	}
	exits := make(chan exit, 1)
	l.OnExit(func(_, slot string, pid, code int) {
		exits <- exit{slot, pid, code}
	})

	slot, pid, err := l.Launch()
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	return slot, pid, exits
}

func waitExit(t *testing.T, exits <-chan exit) exit {
	t.Helper()
	select {
	case e := <-exits:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for worker to exit")
		return exit{}
	}
}

func TestLaunchReapsWorker(t *testing.T) {
	slot, pid, exits := launch(t, Spec{JobID: "test", Command: `sh -c "exit 3"`})

	if slot == "" || pid <= 0 {
		t.Fatalf("Launch() = (%q, %d)", slot, pid)
	}

	e := waitExit(t, exits)
	if e.code != 3 || e.pid != pid || e.slot != slot {
		t.Errorf("exit = %+v, want code 3 for pid %d slot %s", e, pid, slot)
	}

	// reaped: signal 0 must report the pid as gone
	if err := syscall.Kill(pid, 0); err == nil {
		t.Errorf("pid %d still exists after exit", pid)
	}
}

func TestLaunchAssignsUniqueSlots(t *testing.T) {
	l, err := NewLauncher(Spec{JobID: "test", Command: "true"}, testLogger())
	if err != nil {
		t.Fatalf("NewLauncher() error = %v", err)
	}

	seen := make(map[string]bool)
	for range 3 {
		slot, _, err := l.Launch()
		if err != nil {
			t.Fatalf("Launch() error = %v", err)
		}
		if seen[slot] {
			t.Errorf("slot %s reused", slot)
		}
		seen[slot] = true
	}
}

func TestLaunchUsesDirectoryAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")

	_, _, exits := launch(t, Spec{
		JobID:       "test",
		Command:     `sh -c 'echo "$SPAGMON_TEST_VALUE $(pwd)" > out'`,
		Directory:   dir,
		Environment: []string{"SPAGMON_TEST_VALUE=hello"},
	})
	if e := waitExit(t, exits); e.code != 0 {
		t.Fatalf("worker exited with %d", e.code)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	got := strings.Fields(string(data))
	resolved, _ := filepath.EvalSymlinks(dir)
	if len(got) != 2 || got[0] != "hello" || (got[1] != dir && got[1] != resolved) {
		t.Errorf("worker output = %q, want hello and %s", data, dir)
	}
}

func TestLaunchRunsInOwnProcessGroup(t *testing.T) {
	_, pid, exits := launch(t, Spec{JobID: "test", Command: "sleep 5"})
	defer func() {
		_ = syscall.Kill(pid, syscall.SIGKILL)
		waitExit(t, exits)
	}()

	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		t.Fatalf("Getpgid() error = %v", err)
	}
	if pgid != pid {
		t.Errorf("pgid = %d, want %d", pgid, pid)
	}
}

func TestLaunchReportsSignalExit(t *testing.T) {
	_, pid, exits := launch(t, Spec{JobID: "test", Command: "sleep 5"})
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	if e := waitExit(t, exits); e.code != 128+int(syscall.SIGTERM) {
		t.Errorf("exit code = %d, want %d", e.code, 128+int(syscall.SIGTERM))
	}
}

func TestLaunchMissingBinary(t *testing.T) {
	l, err := NewLauncher(Spec{JobID: "test", Command: "/nonexistent/worker"}, testLogger())
	if err != nil {
		t.Fatalf("NewLauncher() error = %v", err)
	}
	if _, _, err := l.Launch(); err == nil {
		t.Error("expected error launching a missing binary")
	}
}

func TestNewLauncherRejectsBadCommands(t *testing.T) {
	for _, command := range []string{"", "   ", `sh -c "unterminated`} {
		if _, err := NewLauncher(Spec{JobID: "test", Command: command}, testLogger()); err == nil {
			t.Errorf("NewLauncher(%q) expected error", command)
		}
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		command string
		want    []string
	}{
		{"sleep 10", []string{"sleep", "10"}},
		{"  python3\tworker.py  ", []string{"python3", "worker.py"}},
		{`sh -c "echo hello world"`, []string{"sh", "-c", "echo hello world"}},
		{`sh -c 'echo "quoted"'`, []string{"sh", "-c", `echo "quoted"`}},
		{`echo a\ b`, []string{"echo", "a b"}},
		{`echo ""`, []string{"echo", ""}},
		{`echo 'a\b'`, []string{"echo", `a\b`}},
	}

	for _, tt := range tests {
		got, err := parseCommand(tt.command)
		if err != nil {
			t.Errorf("parseCommand(%q) error = %v", tt.command, err)
			continue
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("parseCommand(%q) = %q, want %q", tt.command, got, tt.want)
		}
	}
}
