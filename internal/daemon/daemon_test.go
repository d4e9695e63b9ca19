package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/spagmon/internal/control"
	"github.com/smazurov/spagmon/internal/events"
	"github.com/smazurov/spagmon/internal/procstat/proctest"
	"github.com/smazurov/spagmon/internal/state"
	"github.com/smazurov/spagmon/internal/supervisor"
)

func describe(table *proctest.Table, id string, initial int) supervisor.Description {
	var n atomic.Int32
	return supervisor.Description{
		ID:           id,
		Name:         id,
		Allowed:      supervisor.Range{Min: 0, Max: 10},
		InitialCount: initial,
		Launcher: supervisor.LauncherFunc(func() (string, int, error) {
			pid := table.Spawn(proctest.Process{})
			return fmt.Sprintf("%s-%d", id, n.Add(1)), pid, nil
		}),
	}
}

type fixture struct {
	daemon *Daemon
	table  *proctest.Table
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, opts Options) *fixture {
	t.Helper()
	if opts.Table == nil {
		opts.Table = proctest.New()
	}
	if opts.BeatInterval == 0 {
		opts.BeatInterval = 20 * time.Millisecond
	}
	d, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	f := &fixture{daemon: d, table: opts.Table.(*proctest.Table), cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func eventually(t *testing.T, msg string, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !check() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (f *fixture) job(t *testing.T, id string) JobInfo {
	t.Helper()
	info, err := f.daemon.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob(%s) error = %v", id, err)
	}
	return info
}

func TestRunStartsJobs(t *testing.T) {
	table := proctest.New()
	f := start(t, Options{Table: table, Jobs: []supervisor.Description{
		describe(table, "web", 2),
		describe(table, "mailer", 1),
	}})

	eventually(t, "processes to start", func() bool {
		return f.job(t, "web").Running == 2 && f.job(t, "mailer").Running == 1
	})

	jobs, err := f.daemon.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "mailer" || jobs[1].ID != "web" {
		t.Errorf("ListJobs() = %+v, want mailer and web sorted", jobs)
	}
}

func TestNewRejectsDuplicateIDs(t *testing.T) {
	table := proctest.New()
	_, err := New(Options{Table: table, Jobs: []supervisor.Description{
		describe(table, "web", 1),
		describe(table, "web", 1),
	}})
	if err == nil {
		t.Error("expected error for duplicate job ids")
	}
}

func TestInstruct(t *testing.T) {
	table := proctest.New()
	f := start(t, Options{Table: table, Jobs: []supervisor.Description{describe(table, "web", 1)}})
	ctx := context.Background()

	msg, err := f.daemon.Instruct(ctx, "web", "3 more")
	if err != nil {
		t.Fatalf("Instruct() error = %v", err)
	}
	if msg != "Increasing 'web' processes by 3 (from 1 to 4)" {
		t.Errorf("Instruct() = %q", msg)
	}
	if info := f.job(t, "web"); info.Running != 4 || info.Desired != 4 {
		t.Errorf("running=%d desired=%d, want 4 and 4", info.Running, info.Desired)
	}

	if _, err := f.daemon.Instruct(ctx, "nope", "1"); !supervisor.IsFatal(err, supervisor.ErrCodeUnknownJob) {
		t.Errorf("unknown job error = %v", err)
	}
	if _, err := f.daemon.Instruct(ctx, "web", "11"); !control.HasCode(err, control.ErrCodeInvalidInstruction) {
		t.Errorf("out of range error = %v", err)
	}
	if _, err := f.daemon.Instruct(ctx, "web", "pause"); !control.HasCode(err, control.ErrCodeNotSupported) {
		t.Errorf("pause error = %v", err)
	}
}

func TestProcesses(t *testing.T) {
	table := proctest.New()
	f := start(t, Options{Table: table, Jobs: []supervisor.Description{describe(table, "web", 2)}})

	eventually(t, "processes to start", func() bool { return f.job(t, "web").Running == 2 })

	procs, err := f.daemon.Processes(context.Background(), "web")
	if err != nil {
		t.Fatalf("Processes() error = %v", err)
	}
	if len(procs) != 2 {
		t.Fatalf("Processes() returned %d, want 2", len(procs))
	}
	if procs[0].Metrics.PID != procs[0].PID || procs[0].Metrics.ResidentBytes == 0 {
		t.Errorf("metrics not sampled: %+v", procs[0])
	}
}

func TestRestartProcess(t *testing.T) {
	table := proctest.New()
	f := start(t, Options{Table: table, Jobs: []supervisor.Description{describe(table, "web", 2)}})
	ctx := context.Background()

	eventually(t, "processes to start", func() bool { return f.job(t, "web").Running == 2 })
	victim := f.job(t, "web").Tracked[0].PID

	if err := f.daemon.RestartProcess(ctx, 424242); !supervisor.IsFatal(err, supervisor.ErrCodeUnmanagedProcess) {
		t.Errorf("unmanaged restart error = %v", err)
	}

	if err := f.daemon.RestartProcess(ctx, victim); err != nil {
		t.Fatalf("RestartProcess() error = %v", err)
	}
	eventually(t, "replacement", func() bool {
		info := f.job(t, "web")
		if info.Running != 2 || info.Terminating != 0 {
			return false
		}
		for _, s := range info.Tracked {
			if s.PID == victim {
				return false
			}
		}
		return true
	})
}

func TestRecoversLostProcesses(t *testing.T) {
	table := proctest.New()
	bus := events.New()
	lost := make(chan events.ProcessLostEvent, 1)
	unsub := bus.Subscribe(func(e events.ProcessLostEvent) { lost <- e })
	defer unsub()

	f := start(t, Options{Table: table, Events: bus, Jobs: []supervisor.Description{describe(table, "web", 1)}})
	eventually(t, "process to start", func() bool { return f.job(t, "web").Running == 1 })
	pid := f.job(t, "web").Tracked[0].PID

	table.Kill(pid)

	select {
	case e := <-lost:
		if e.PID != pid {
			t.Errorf("lost pid = %d, want %d", e.PID, pid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no loss event")
	}
	eventually(t, "replacement", func() bool {
		info := f.job(t, "web")
		return info.Running == 1 && info.Tracked[0].PID != pid
	})
}

func TestApply(t *testing.T) {
	table := proctest.New()
	f := start(t, Options{Table: table, Jobs: []supervisor.Description{
		describe(table, "web", 2),
		describe(table, "old", 2),
	}})
	ctx := context.Background()
	eventually(t, "processes to start", func() bool { return table.Len() == 4 })

	narrowed := describe(table, "web", 0)
	narrowed.Allowed = supervisor.Range{Min: 0, Max: 1}
	if err := f.daemon.Apply(ctx, []supervisor.Description{narrowed, describe(table, "new", 1)}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	eventually(t, "reload to converge", func() bool {
		jobs, err := f.daemon.ListJobs(ctx)
		if err != nil || len(jobs) != 2 {
			return false
		}
		return jobs[0].ID == "new" && jobs[0].Running == 1 &&
			jobs[1].ID == "web" && jobs[1].Desired == 1 && jobs[1].Running == 1 &&
			table.Len() == 2
	})

	if _, err := f.daemon.GetJob(ctx, "old"); !supervisor.IsFatal(err, supervisor.ErrCodeUnknownJob) {
		t.Errorf("GetJob(old) error = %v", err)
	}
}

func TestShutdownStopsProcessesAndPersists(t *testing.T) {
	table := proctest.New()
	store := state.NewStore(filepath.Join(t.TempDir(), "state.toml"))
	f := start(t, Options{Table: table, Store: store, Jobs: []supervisor.Description{describe(table, "web", 3)}})
	eventually(t, "processes to start", func() bool { return table.Len() == 3 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.daemon.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if table.Len() != 0 {
		t.Errorf("%d processes still alive", table.Len())
	}
	if err := f.daemon.Do(context.Background(), func() error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("Do() after shutdown error = %v, want ErrStopped", err)
	}

	reloaded := state.NewStore(store.Path())
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	st, ok := reloaded.Get("web")
	if !ok {
		t.Fatal("web state not saved")
	}
	if st.DesiredCount != 3 || len(st.Tracked) != 0 || len(st.Terminating) != 0 {
		t.Errorf("saved state = %+v, want desired 3 and no processes", st)
	}
}

func TestPersistSkipsUnchangedRemovedJobs(t *testing.T) {
	table := proctest.New()
	path := filepath.Join(t.TempDir(), "state.toml")
	d, err := New(Options{Table: table, Store: state.NewStore(path), Jobs: []supervisor.Description{describe(table, "old", 2)}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	d.beat()

	if err := d.apply(nil); err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	if err := d.persist(); err != nil {
		t.Fatalf("persist() error = %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	// Terminations are still waiting on the loop, so the state is unchanged.
	if err := d.persist(); err != nil {
		t.Fatalf("persist() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("state file rewritten for an unchanged draining job, stat error = %v", err)
	}

	eventually(t, "terminations to finish", func() bool { return len(d.completions) == 2 })
	for len(d.completions) > 0 {
		(<-d.completions)()
	}
	d.beat()

	reloaded := state.NewStore(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := reloaded.Get("old"); ok {
		t.Error("drained job still in saved state")
	}
	if table.Len() != 0 {
		t.Errorf("%d processes still alive", table.Len())
	}
}

func TestRestoresFromStore(t *testing.T) {
	table := proctest.New()
	table.Add(700, proctest.Process{})
	table.Add(701, proctest.Process{})

	store := state.NewStore(filepath.Join(t.TempDir(), "state.toml"))
	store.Put("web", supervisor.State{
		DesiredCount: 2,
		Tracked:      []supervisor.Slot{{ID: "a", PID: 700}, {ID: "b", PID: 701}},
	})
	if err := store.Save(); err != nil {
		t.Fatal(err)
	}

	launches := 0
	desc := describe(table, "web", 0)
	inner := desc.Launcher
	desc.Launcher = supervisor.LauncherFunc(func() (string, int, error) {
		launches++
		return inner.Launch()
	})

	f := start(t, Options{Table: table, Store: state.NewStore(store.Path()), Jobs: []supervisor.Description{desc}})

	info := f.job(t, "web")
	if info.Desired != 2 || info.Running != 2 {
		t.Errorf("desired=%d running=%d, want 2 and 2", info.Desired, info.Running)
	}
	time.Sleep(60 * time.Millisecond)
	var got int
	_ = f.daemon.Do(context.Background(), func() error { got = launches; return nil })
	if got != 0 {
		t.Errorf("launches = %d, want 0 after restore", got)
	}
}

func TestDoHonoursContext(t *testing.T) {
	table := proctest.New()
	d, err := New(Options{Table: table})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Do(ctx, func() error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() without a running loop error = %v", err)
	}
}
