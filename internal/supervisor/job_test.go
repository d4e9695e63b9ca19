package supervisor

import (
	"errors"
	"slices"
	"syscall"
	"testing"

	"github.com/smazurov/spagmon/internal/events"
	"github.com/smazurov/spagmon/internal/procstat/proctest"
)

func TestSyncStartsUpToDesired(t *testing.T) {
	h := newHarness(&queueExecutor{})
	job := h.newJob(t, 3)

	job.Sync()

	if got := job.RunningCount(); got != 3 {
		t.Fatalf("RunningCount() = %d, want 3", got)
	}
	if got := h.registry.Len(); got != 3 {
		t.Errorf("registry has %d pids, want 3", got)
	}
	if got := h.events.count(events.TypeProcessStarted); got != 3 {
		t.Errorf("started events = %d, want 3", got)
	}
	checkInvariants(t, job, h.registry)
}

func TestSyncIsIdempotent(t *testing.T) {
	h := newHarness(&queueExecutor{})
	job := h.newJob(t, 2)

	job.Sync()
	launches := h.launcher.launches
	signals := len(h.table.Signals())

	job.Sync()

	if h.launcher.launches != launches {
		t.Errorf("second Sync launched %d processes", h.launcher.launches-launches)
	}
	if got := len(h.table.Signals()); got != signals {
		t.Errorf("second Sync sent %d signals", got-signals)
	}
}

func TestSyncStopsOldestFirst(t *testing.T) {
	exec := &queueExecutor{}
	h := newHarness(exec)
	job := h.newJob(t, 3)
	job.Sync()
	slots := job.TrackedSlots()

	job.SetDesired(1)
	job.Sync()

	if got := job.RunningCount(); got != 1 {
		t.Fatalf("RunningCount() = %d, want 1", got)
	}
	if got := job.TerminatingCount(); got != 2 {
		t.Fatalf("TerminatingCount() = %d, want 2", got)
	}
	if got := job.TrackedSlots()[0]; got != slots[2] {
		t.Errorf("kept slot %v, want newest %v", got, slots[2])
	}
	checkInvariants(t, job, h.registry)

	// a second pass while terminations are in flight changes nothing
	job.Sync()
	if exec.Len() != 2 {
		t.Errorf("pending terminations = %d, want 2", exec.Len())
	}

	exec.Drain()

	if got := job.TerminatingCount(); got != 0 {
		t.Errorf("TerminatingCount() after drain = %d, want 0", got)
	}
	if got := h.registry.Len(); got != 1 {
		t.Errorf("registry has %d pids, want 1", got)
	}
	var signaled []int
	for _, s := range h.table.Signals() {
		signaled = append(signaled, s.PID)
	}
	if !slices.Equal(signaled, []int{slots[0].PID, slots[1].PID}) {
		t.Errorf("signaled pids = %v, want %v", signaled, []int{slots[0].PID, slots[1].PID})
	}
	if got := h.events.count(events.TypeProcessStopped); got != 2 {
		t.Errorf("stopped events = %d, want 2", got)
	}
}

func TestSyncReplacesLostProcesses(t *testing.T) {
	h := newHarness(&queueExecutor{})
	job := h.newJob(t, 2)
	job.Sync()
	lost := job.TrackedSlots()[0]

	h.table.Kill(lost.PID)
	job.Sync()

	if got := job.RunningCount(); got != 2 {
		t.Fatalf("RunningCount() = %d, want 2", got)
	}
	if job.Tracks(lost.PID) {
		t.Errorf("job still tracks lost pid %d", lost.PID)
	}
	if _, ok := h.registry.Lookup(lost.PID); ok {
		t.Errorf("lost pid %d is still registered", lost.PID)
	}
	if got := h.events.count(events.TypeProcessLost); got != 1 {
		t.Errorf("lost events = %d, want 1", got)
	}
	checkInvariants(t, job, h.registry)
}

func TestSyncSkipsLossDetectionWhenListingFails(t *testing.T) {
	h := newHarness(&queueExecutor{})
	job := h.newJob(t, 2)
	job.Sync()

	h.table.Kill(job.TrackedSlots()[0].PID)
	h.table.FailListing(errors.New("ps unavailable"))
	job.Sync()

	if got := job.RunningCount(); got != 2 {
		t.Errorf("RunningCount() = %d, want 2", got)
	}
	if got := h.launcher.launches; got != 2 {
		t.Errorf("launches = %d, want 2", got)
	}

	h.table.FailListing(nil)
	job.Sync()
	if got := h.launcher.launches; got != 3 {
		t.Errorf("launches after listing recovered = %d, want 3", got)
	}
}

func TestSyncStopsFillingOnLaunchError(t *testing.T) {
	h := newHarness(&queueExecutor{})
	h.launcher.failAt = 2
	job := h.newJob(t, 3)

	job.Sync()
	if got := job.RunningCount(); got != 1 {
		t.Fatalf("RunningCount() = %d, want 1", got)
	}

	job.Sync()
	if got := job.RunningCount(); got != 3 {
		t.Errorf("RunningCount() after retry = %d, want 3", got)
	}
}

func TestSyncTerminatesDuplicateSlot(t *testing.T) {
	h := newHarness(inlineExecutor{})
	h.launcher.slot = "fixed"
	job := h.newJob(t, 2)

	job.Sync()

	if got := job.RunningCount(); got != 1 {
		t.Errorf("RunningCount() = %d, want 1", got)
	}
	if got := h.launcher.launches; got != 2 {
		t.Fatalf("launches = %d, want 2", got)
	}
	if got := h.table.Len(); got != 1 {
		t.Errorf("%d processes alive, want 1", got)
	}
	first := job.TrackedSlots()[0]
	if !h.table.Alive(first.PID) {
		t.Errorf("tracked pid %d was killed", first.PID)
	}
	if got := h.registry.Len(); got != 1 {
		t.Errorf("registry has %d pids, want 1", got)
	}
	checkInvariants(t, job, h.registry)
}

func TestSyncCollectsDeadTerminatingEntries(t *testing.T) {
	exec := &queueExecutor{}
	h := newHarness(exec)
	h.table.Add(500, proctest.Process{})
	h.table.Add(501, proctest.Process{})

	state := &State{
		DesiredCount: 1,
		Tracked:      []Slot{{ID: "a", PID: 500}},
		Terminating:  []Slot{{ID: "b", PID: 501}, {ID: "c", PID: 502}},
	}
	job, err := Restore(h.description(0), state, h.deps())
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	job.Sync()

	got := job.TerminatingSlots()
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("terminating = %v, want only slot b", got)
	}
	if _, ok := h.registry.Lookup(502); ok {
		t.Error("dead terminating pid 502 is still registered")
	}
	if got := h.launcher.launches; got != 0 {
		t.Errorf("launches = %d, want 0", got)
	}
	if got := exec.Len(); got != 1 {
		t.Fatalf("pending terminations = %d, want 1", got)
	}

	exec.Drain()

	signals := h.table.Signals()
	if len(signals) != 1 || signals[0].PID != 501 || signals[0].Signal != syscall.SIGTERM {
		t.Errorf("signals = %v, want one SIGTERM to 501", signals)
	}
	if got := job.TerminatingCount(); got != 0 {
		t.Errorf("TerminatingCount() = %d, want 0", got)
	}
}

func TestSyncDoesNotReissueInflightTerminations(t *testing.T) {
	exec := &queueExecutor{}
	h := newHarness(exec)
	h.table.Add(501, proctest.Process{IgnoreTerm: true})

	job, err := Restore(h.description(0), &State{Terminating: []Slot{{ID: "b", PID: 501}}}, h.deps())
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	job.Sync()
	job.Sync()
	if exec.Len() != 1 {
		t.Errorf("pending terminations = %d, want 1", exec.Len())
	}
}

func TestStateRoundTrip(t *testing.T) {
	exec := &queueExecutor{}
	h := newHarness(exec)
	job := h.newJob(t, 4)
	job.Sync()
	job.SetDesired(2)
	job.Sync()

	state := job.State()

	restored, err := Restore(h.description(0), &state, Deps{
		Registry: NewRegistry(),
		Table:    h.table,
		Executor: exec,
	})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if got := restored.Desired(); got != 2 {
		t.Errorf("Desired() = %d, want 2", got)
	}
	if !slices.Equal(restored.TrackedSlots(), state.Tracked) {
		t.Errorf("tracked = %v, want %v", restored.TrackedSlots(), state.Tracked)
	}
	if !slices.Equal(restored.TerminatingSlots(), state.Terminating) {
		t.Errorf("terminating = %v, want %v", restored.TerminatingSlots(), state.Terminating)
	}
	if got := restored.registry.Len(); got != 4 {
		t.Errorf("registry has %d pids, want 4", got)
	}
}

func TestRestoreKeepsOverlappingSlotTerminating(t *testing.T) {
	h := newHarness(&queueExecutor{})
	state := &State{
		DesiredCount: 1,
		Tracked:      []Slot{{ID: "a", PID: 10}, {ID: "b", PID: 11}},
		Terminating:  []Slot{{ID: "a", PID: 10}},
	}

	job, err := Restore(h.description(0), state, h.deps())
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if job.RunningCount() != 1 || job.TerminatingCount() != 1 {
		t.Errorf("running=%d terminating=%d, want 1 and 1", job.RunningCount(), job.TerminatingCount())
	}
	checkInvariants(t, job, h.registry)
}

func TestRestoreRejectsMissingLauncher(t *testing.T) {
	h := newHarness(&queueExecutor{})
	desc := h.description(1)
	desc.Launcher = nil

	if _, err := NewJob(desc, h.deps()); err == nil {
		t.Error("expected error for description without launcher")
	}
}

func TestShutdown(t *testing.T) {
	t.Run("nothing running completes synchronously", func(t *testing.T) {
		h := newHarness(&queueExecutor{})
		job := h.newJob(t, 0)

		calls := 0
		job.Shutdown(func() { calls++ })
		if calls != 1 {
			t.Errorf("onDone called %d times, want 1", calls)
		}
	})

	t.Run("completes after last termination", func(t *testing.T) {
		exec := &queueExecutor{}
		h := newHarness(exec)
		job := h.newJob(t, 3)
		job.Sync()

		calls := 0
		job.Shutdown(func() { calls++ })

		if got := exec.Len(); got != 3 {
			t.Fatalf("pending terminations = %d, want 3", got)
		}
		if calls != 0 {
			t.Fatal("onDone ran before terminations completed")
		}

		exec.Drain()
		if calls != 1 {
			t.Errorf("onDone called %d times, want 1", calls)
		}
		if job.RunningCount() != 0 || job.TerminatingCount() != 0 {
			t.Errorf("running=%d terminating=%d, want 0", job.RunningCount(), job.TerminatingCount())
		}
		if got := job.Desired(); got != 3 {
			t.Errorf("Desired() = %d, want unchanged 3", got)
		}
	})
}

func TestTerminateDrains(t *testing.T) {
	h := newHarness(inlineExecutor{})
	job := h.newJob(t, 2)
	job.Sync()

	job.Terminate()

	if job.Desired() != 0 || job.RunningCount() != 0 || job.TerminatingCount() != 0 {
		t.Errorf("desired=%d running=%d terminating=%d, want all 0",
			job.Desired(), job.RunningCount(), job.TerminatingCount())
	}
	if h.table.Len() != 0 {
		t.Errorf("%d processes still alive", h.table.Len())
	}
}

func TestRestart(t *testing.T) {
	t.Run("waits for terminations before refilling", func(t *testing.T) {
		exec := &queueExecutor{}
		h := newHarness(exec)
		job := h.newJob(t, 2)
		job.Sync()
		old := job.TrackedSlots()

		calls := 0
		job.Restart(func() { calls++ })

		if job.RunningCount() != 0 || calls != 0 {
			t.Fatalf("running=%d calls=%d before drain, want 0 and 0", job.RunningCount(), calls)
		}

		exec.Drain()

		if calls != 1 {
			t.Errorf("onDone called %d times, want 1", calls)
		}
		if got := job.RunningCount(); got != 2 {
			t.Fatalf("RunningCount() = %d, want 2", got)
		}
		for _, s := range old {
			if job.Tracks(s.PID) {
				t.Errorf("old pid %d survived restart", s.PID)
			}
		}
		if got := job.Desired(); got != 2 {
			t.Errorf("Desired() = %d, want 2", got)
		}
	})

	t.Run("inline executor", func(t *testing.T) {
		h := newHarness(inlineExecutor{})
		job := h.newJob(t, 3)
		job.Sync()

		calls := 0
		job.Restart(func() { calls++ })

		if calls != 1 || job.RunningCount() != 3 {
			t.Errorf("calls=%d running=%d, want 1 and 3", calls, job.RunningCount())
		}
		if got := h.launcher.launches; got != 6 {
			t.Errorf("launches = %d, want 6", got)
		}
	})

	t.Run("desired zero", func(t *testing.T) {
		h := newHarness(&queueExecutor{})
		job := h.newJob(t, 0)

		calls := 0
		job.Restart(func() { calls++ })
		if calls != 1 {
			t.Errorf("onDone called %d times, want 1", calls)
		}
	})

	t.Run("state keeps desired count while draining", func(t *testing.T) {
		exec := &queueExecutor{}
		h := newHarness(exec)
		job := h.newJob(t, 3)
		job.Sync()

		job.Restart(nil)
		job.Sync()

		state := job.State()
		if state.DesiredCount != 3 {
			t.Errorf("State().DesiredCount = %d, want 3", state.DesiredCount)
		}
		if len(state.Tracked) != 0 || len(state.Terminating) != 3 {
			t.Errorf("tracked=%d terminating=%d, want 0 and 3", len(state.Tracked), len(state.Terminating))
		}
		if job.RunningCount() != 0 {
			t.Errorf("RunningCount() = %d during drain, want 0", job.RunningCount())
		}
	})

	t.Run("restored mid-restart refills", func(t *testing.T) {
		h := newHarness(&queueExecutor{})
		job := h.newJob(t, 3)
		job.Sync()
		job.Restart(nil)
		state := job.State()

		exec := &queueExecutor{}
		registry := NewRegistry()
		restored, err := Restore(h.description(0), &state, Deps{
			Registry: registry,
			Table:    h.table,
			Executor: exec,
		})
		if err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
		restored.Sync()

		if got := restored.RunningCount(); got != 3 {
			t.Errorf("RunningCount() = %d, want 3", got)
		}
		if got := exec.Len(); got != 3 {
			t.Errorf("resumed terminations = %d, want 3", got)
		}

		exec.Drain()

		if restored.Desired() != 3 || restored.RunningCount() != 3 || restored.TerminatingCount() != 0 {
			t.Errorf("desired=%d running=%d terminating=%d, want 3, 3 and 0",
				restored.Desired(), restored.RunningCount(), restored.TerminatingCount())
		}
		checkInvariants(t, restored, registry)
	})

	t.Run("set desired while draining sets refill size", func(t *testing.T) {
		exec := &queueExecutor{}
		h := newHarness(exec)
		job := h.newJob(t, 3)
		job.Sync()

		calls := 0
		job.Restart(func() { calls++ })
		job.SetDesired(1)
		job.Sync()

		if job.RunningCount() != 0 {
			t.Fatalf("RunningCount() = %d before drain, want 0", job.RunningCount())
		}
		if got := job.State().DesiredCount; got != 1 {
			t.Errorf("State().DesiredCount = %d, want 1", got)
		}

		exec.Drain()

		if calls != 1 {
			t.Errorf("onDone called %d times, want 1", calls)
		}
		if job.Desired() != 1 || job.RunningCount() != 1 {
			t.Errorf("desired=%d running=%d, want 1 and 1", job.Desired(), job.RunningCount())
		}
		checkInvariants(t, job, h.registry)
	})
}

func TestReplace(t *testing.T) {
	exec := &queueExecutor{}
	h := newHarness(exec)
	job := h.newJob(t, 2)
	job.Sync()
	victim := job.TrackedSlots()[1]

	tracked := job.TrackedSlots()
	terminating := job.TerminatingSlots()

	err := job.Replace(99999, nil)
	if !IsFatal(err, ErrCodeUntrackedProcess) {
		t.Fatalf("Replace(untracked) error = %v, want %s", err, ErrCodeUntrackedProcess)
	}
	if !slices.Equal(job.TrackedSlots(), tracked) {
		t.Errorf("tracked = %v after failed replace, want %v", job.TrackedSlots(), tracked)
	}
	if !slices.Equal(job.TerminatingSlots(), terminating) {
		t.Errorf("terminating = %v after failed replace, want %v", job.TerminatingSlots(), terminating)
	}
	if got := job.Desired(); got != 2 {
		t.Errorf("Desired() = %d after failed replace, want 2", got)
	}
	if got := h.registry.Len(); got != 2 {
		t.Errorf("registry has %d pids after failed replace, want 2", got)
	}
	if got := exec.Len(); got != 0 {
		t.Errorf("%d terminations queued after failed replace, want 0", got)
	}

	calls := 0
	if err := job.Replace(victim.PID, func() { calls++ }); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if job.RunningCount() != 1 || job.TerminatingCount() != 1 {
		t.Fatalf("running=%d terminating=%d, want 1 and 1", job.RunningCount(), job.TerminatingCount())
	}

	exec.Drain()

	if calls != 1 {
		t.Errorf("onDone called %d times, want 1", calls)
	}
	if got := job.RunningCount(); got != 2 {
		t.Errorf("RunningCount() = %d, want 2", got)
	}
	if job.Tracks(victim.PID) {
		t.Errorf("replaced pid %d still tracked", victim.PID)
	}
	checkInvariants(t, job, h.registry)
}

func TestSetDesiredClampsNegative(t *testing.T) {
	h := newHarness(&queueExecutor{})
	job := h.newJob(t, 2)

	job.SetDesired(-3)
	if got := job.Desired(); got != 0 {
		t.Errorf("Desired() = %d, want 0", got)
	}
	if got := h.events.count(events.TypeDesiredCountChanged); got != 1 {
		t.Errorf("desired events = %d, want 1", got)
	}
}

func TestUpdateDescriptionClampsDesired(t *testing.T) {
	h := newHarness(&queueExecutor{})
	job := h.newJob(t, 8)

	desc := h.description(0)
	desc.Allowed = Range{Min: 1, Max: 4}
	if err := job.UpdateDescription(desc); err != nil {
		t.Fatalf("UpdateDescription() error = %v", err)
	}
	if got := job.Desired(); got != 4 {
		t.Errorf("Desired() = %d, want 4", got)
	}

	desc.ID = "other"
	if err := job.UpdateDescription(desc); err == nil {
		t.Error("expected error when changing job id")
	}
}

func TestRunningProcesses(t *testing.T) {
	h := newHarness(&queueExecutor{})
	job := h.newJob(t, 3)
	job.Sync()
	slots := job.TrackedSlots()
	h.table.FailListing(errors.New("listing down"))
	h.table.Kill(slots[1].PID)

	procs := job.RunningProcesses()

	if len(procs) != 2 {
		t.Fatalf("RunningProcesses() returned %d, want 2", len(procs))
	}
	if procs[0].PID() != slots[0].PID || procs[1].PID() != slots[2].PID {
		t.Errorf("pids = [%d %d], want [%d %d]", procs[0].PID(), procs[1].PID(), slots[0].PID, slots[2].PID)
	}
	if procs[0].Slot != slots[0].ID {
		t.Errorf("slot = %s, want %s", procs[0].Slot, slots[0].ID)
	}
	owner, ok := procs[0].OwningJob()
	if !ok || owner != job {
		t.Error("OwningJob() did not resolve to the job")
	}
}

func TestConvergesFromArbitraryCounts(t *testing.T) {
	for _, tc := range []struct{ from, to int }{{0, 5}, {5, 0}, {3, 3}, {1, 4}, {6, 2}} {
		h := newHarness(inlineExecutor{})
		job := h.newJob(t, tc.from)
		job.Sync()

		job.SetDesired(tc.to)
		before := h.launcher.launches
		job.Sync()

		if got := job.RunningCount(); got != tc.to {
			t.Errorf("%d -> %d: RunningCount() = %d", tc.from, tc.to, got)
		}
		ops := h.launcher.launches - before + len(h.table.Signals())
		want := tc.to - tc.from
		if want < 0 {
			want = -want
		}
		if ops != want {
			t.Errorf("%d -> %d: performed %d operations, want %d", tc.from, tc.to, ops, want)
		}
		checkInvariants(t, job, h.registry)
	}
}
