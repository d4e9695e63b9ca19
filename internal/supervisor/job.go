package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/spagmon/internal/events"
	"github.com/smazurov/spagmon/internal/logging"
	"github.com/smazurov/spagmon/internal/procstat"
)

// State is the persisted form of a job.
type State struct {
	DesiredCount int    `toml:"desired_count" json:"desired_count"`
	Tracked      []Slot `toml:"tracked" json:"tracked"`
	Terminating  []Slot `toml:"terminating" json:"terminating"`
}

// Job keeps the number of live processes of one description equal to a
// desired count.
//
// A Job is not safe for concurrent use. Every method, and every completion
// handed to the Executor, must run on the same supervisor loop.
type Job struct {
	desc        Description
	desired     int
	tracked     *slotMap
	terminating *slotMap
	inflight    map[string]bool // slots with a termination running in this process
	restarts    int             // restarts waiting on their drain; nothing starts while > 0
	triggers    []Trigger
	breached    []map[int]struct{} // per trigger, pids already fired for

	registry *Registry
	table    procstat.Table
	executor Executor
	events   Publisher
	logger   *slog.Logger
}

// NewJob creates a job with the description's initial count.
func NewJob(desc Description, deps Deps) (*Job, error) {
	return Restore(desc, nil, deps)
}

// Restore creates a job from persisted state. A nil state starts fresh.
// Restored pids are registered in the registry.
func Restore(desc Description, state *State, deps Deps) (*Job, error) {
	if desc.Launcher == nil {
		return nil, fmt.Errorf("job %s has no launcher", desc.ID)
	}
	if deps.Registry == nil || deps.Table == nil || deps.Executor == nil {
		return nil, errors.New("registry, table and executor are required")
	}

	j := &Job{
		registry: deps.Registry,
		table:    deps.Table,
		executor: deps.Executor,
		events:   deps.Events,
		inflight: make(map[string]bool),
	}
	if j.events == nil {
		j.events = noopPublisher{}
	}
	if err := j.setDescription(desc); err != nil {
		return nil, err
	}

	j.desired = max(desc.InitialCount, 0)
	j.tracked = newSlotMap(nil)
	j.terminating = newSlotMap(nil)
	if state != nil {
		j.desired = max(state.DesiredCount, 0)
		j.terminating = newSlotMap(state.Terminating)
		for _, s := range state.Tracked {
			if j.terminating.has(s.ID) {
				j.logger.Warn("Slot is both tracked and terminating, keeping it terminating", "slot", s.ID, "pid", s.PID)
				continue
			}
			j.tracked.set(s.ID, s.PID)
		}
	}

	for _, s := range j.tracked.slots() {
		j.registry.Register(s.PID, j)
	}
	for _, s := range j.terminating.slots() {
		j.registry.Register(s.PID, j)
	}
	return j, nil
}

// UpdateDescription swaps in a reloaded description. The desired count is
// kept, clamped into the new allowed range.
func (j *Job) UpdateDescription(desc Description) error {
	if desc.ID != j.desc.ID {
		return fmt.Errorf("cannot change job id from %s to %s", j.desc.ID, desc.ID)
	}
	if desc.Launcher == nil {
		return fmt.Errorf("job %s has no launcher", desc.ID)
	}
	if err := j.setDescription(desc); err != nil {
		return err
	}
	j.SetDesired(desc.Allowed.Clamp(j.desired))
	return nil
}

func (j *Job) setDescription(desc Description) error {
	triggers := make([]Trigger, 0, len(desc.Triggers))
	for _, cfg := range desc.Triggers {
		t, err := NewTrigger(cfg)
		if err != nil {
			return fmt.Errorf("job %s: %w", desc.ID, err)
		}
		triggers = append(triggers, t)
	}

	j.desc = desc
	j.triggers = triggers
	j.breached = make([]map[int]struct{}, len(triggers))
	for i := range j.breached {
		j.breached[i] = make(map[int]struct{})
	}
	j.logger = logging.GetLogger("jobs").With("job", desc.ID)
	return nil
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.desc.ID }

// Name returns the human readable job name.
func (j *Job) Name() string { return j.desc.Name }

// Allowed returns the allowed process count range.
func (j *Job) Allowed() Range { return j.desc.Allowed }

// Description returns the job description.
func (j *Job) Description() Description { return j.desc }

// Desired returns the desired process count.
func (j *Job) Desired() int { return j.desired }

// SetDesired changes the desired count. Negative values become 0.
// Call Sync to act on the change.
func (j *Job) SetDesired(n int) {
	n = max(n, 0)
	if n == j.desired {
		return
	}
	from := j.desired
	j.desired = n
	j.logger.Info("Desired process count changed", "from", from, "to", n)
	j.events.Publish(events.DesiredCountChangedEvent{
		JobID:     j.ID(),
		From:      from,
		To:        n,
		Timestamp: now(),
	})
}

// RunningCount is the number of tracked processes.
func (j *Job) RunningCount() int { return j.tracked.len() }

// TerminatingCount is the number of processes being shut down.
func (j *Job) TerminatingCount() int { return j.terminating.len() }

// Tracks reports whether pid is a running process of this job.
func (j *Job) Tracks(pid int) bool {
	_, ok := j.tracked.slotOf(pid)
	return ok
}

// TrackedSlots returns the running slots, oldest first.
func (j *Job) TrackedSlots() []Slot { return j.tracked.slots() }

// TerminatingSlots returns the slots being shut down.
func (j *Job) TerminatingSlots() []Slot { return j.terminating.slots() }

// State returns the persisted form of the job.
func (j *Job) State() State {
	return State{
		DesiredCount: j.desired,
		Tracked:      j.tracked.slots(),
		Terminating:  j.terminating.slots(),
	}
}

// Sync reconciles running processes with the desired count.
//
// It drops processes that disappeared, collects dead terminating entries,
// then starts or stops processes until the running count matches. Stops
// complete later through the executor.
func (j *Job) Sync() {
	j.sync(nil)
}

// sync runs one reconciliation pass. track, when set, is called once per
// stop issued and returns that stop's completion callback.
func (j *Job) sync(track func() func()) {
	if pids, err := j.table.Pids(); err != nil {
		j.logger.Warn("Failed to list processes, skipping loss detection", "error", err)
	} else {
		j.dropLost(pids)
		j.collectTerminating(pids)
	}

	j.fill()

	for j.RunningCount() > j.target() {
		oldest, _ := j.tracked.oldest()
		var onDone func()
		if track != nil {
			onDone = track()
		}
		j.stopOne(oldest.ID, onDone)
	}
}

func (j *Job) dropLost(pids map[int]struct{}) {
	for _, s := range j.tracked.slots() {
		if _, alive := pids[s.PID]; alive {
			continue
		}
		j.tracked.delete(s.ID)
		j.registry.release(s.PID, j)
		j.logger.Warn("Lost process", "slot", s.ID, "pid", s.PID)
		j.events.Publish(events.ProcessLostEvent{
			JobID:     j.ID(),
			Slot:      s.ID,
			PID:       s.PID,
			Timestamp: now(),
		})
	}
}

// collectTerminating removes dead terminating entries without running their
// callbacks, and resumes terminations that were interrupted by a supervisor
// restart.
func (j *Job) collectTerminating(pids map[int]struct{}) {
	for _, s := range j.terminating.slots() {
		if _, alive := pids[s.PID]; !alive {
			j.terminating.delete(s.ID)
			j.registry.release(s.PID, j)
			j.logger.Debug("Collected dead terminating process", "slot", s.ID, "pid", s.PID)
			continue
		}
		if !j.inflight[s.ID] {
			j.logger.Info("Resuming interrupted termination", "slot", s.ID, "pid", s.PID)
			j.terminate(s.ID, s.PID, nil)
		}
	}
}

// target is the running count sync converges on. It is 0 while a restart
// drains, without touching the desired count that State persists.
func (j *Job) target() int {
	if j.restarts > 0 {
		return 0
	}
	return j.desired
}

// fill starts processes until the running count reaches the target.
func (j *Job) fill() {
	for j.RunningCount() < j.target() {
		if err := j.startOne(); err != nil {
			j.logger.Error("Failed to start process", "error", err)
			return
		}
	}
}

func (j *Job) startOne() error {
	slot, pid, err := j.desc.Launcher.Launch()
	if err != nil {
		return fmt.Errorf("failed to launch process: %w", err)
	}
	if j.tracked.has(slot) || j.terminating.has(slot) {
		j.discard(slot, pid)
		return fmt.Errorf("launcher returned slot %s which is already in use", slot)
	}

	j.tracked.set(slot, pid)
	if owner, ok := j.registry.Lookup(pid); ok && owner != j {
		j.logger.Warn("Pid was registered to another job", "pid", pid, "other_job", owner.ID())
	}
	j.registry.Register(pid, j)

	j.logger.Info("Started process", "slot", slot, "pid", pid)
	j.events.Publish(events.ProcessStartedEvent{
		JobID:     j.ID(),
		Slot:      slot,
		PID:       pid,
		Timestamp: now(),
	})
	return nil
}

// discard terminates a process the job could not track. It is never
// persisted, so nothing resumes it after a supervisor restart.
func (j *Job) discard(slot string, pid int) {
	mode := j.desc.KillMode
	snap := procstat.Synthesize(j.table, pid)
	logger := j.logger.With("slot", slot)

	j.logger.Warn("Terminating untracked process", "slot", slot, "pid", pid, "mode", mode.String())
	j.executor.Defer(
		func() { snap.Terminate(mode, logger) },
		func() {},
	)
}

// stopOne moves slot from tracked to terminating and terminates it.
func (j *Job) stopOne(slot string, onDone func()) {
	pid, ok := j.tracked.pid(slot)
	if !ok {
		return
	}
	j.tracked.delete(slot)
	j.terminating.set(slot, pid)
	j.terminate(slot, pid, onDone)
}

func (j *Job) terminate(slot string, pid int, onDone func()) {
	j.inflight[slot] = true

	mode := j.desc.KillMode
	snap := procstat.Synthesize(j.table, pid)
	logger := j.logger.With("slot", slot)

	j.logger.Info("Stopping process", "slot", slot, "pid", pid, "mode", mode.String())
	j.events.Publish(events.ProcessStoppingEvent{
		JobID:     j.ID(),
		Slot:      slot,
		PID:       pid,
		Mode:      mode.String(),
		Timestamp: now(),
	})

	var result procstat.Termination
	j.executor.Defer(
		func() { result = snap.Terminate(mode, logger) },
		func() { j.finishStop(slot, pid, result, onDone) },
	)
}

func (j *Job) finishStop(slot string, pid int, result procstat.Termination, onDone func()) {
	delete(j.inflight, slot)
	if p, ok := j.terminating.pid(slot); ok && p == pid {
		j.terminating.delete(slot)
	}
	j.registry.release(pid, j)

	signal := ""
	if result.Signal != 0 {
		signal = result.Signal.String()
	}
	j.events.Publish(events.ProcessStoppedEvent{
		JobID:     j.ID(),
		Slot:      slot,
		PID:       pid,
		Signal:    signal,
		Escalated: result.Escalated,
		Duration:  result.Duration.Seconds(),
		Timestamp: now(),
	})

	if onDone != nil {
		onDone()
	}
}

// Shutdown stops every running process at once. onDone runs once after the
// last termination completes, or immediately when nothing is running.
// The desired count is left unchanged.
func (j *Job) Shutdown(onDone func()) {
	slots := j.tracked.slots()
	if len(slots) == 0 {
		if onDone != nil {
			onDone()
		}
		return
	}

	remaining := len(slots)
	for _, s := range slots {
		j.stopOne(s.ID, func() {
			remaining--
			if remaining == 0 && onDone != nil {
				onDone()
			}
		})
	}
}

// Terminate drains the job: desired count 0, then Sync.
func (j *Job) Terminate() {
	j.SetDesired(0)
	j.Sync()
}

// Restart drains every process, waits for the terminations to complete,
// then syncs back up to the desired count. The desired count is not
// touched, so SetDesired during the drain picks the refill size and State
// keeps reporting it.
func (j *Job) Restart(onDone func()) {
	if j.desired == 0 {
		if onDone != nil {
			onDone()
		}
		return
	}

	j.logger.Info("Restarting processes", "count", j.desired)

	pending := 1
	release := func() {
		pending--
		if pending > 0 {
			return
		}
		j.restarts--
		j.Sync()
		if onDone != nil {
			onDone()
		}
	}

	j.restarts++
	j.sync(func() func() {
		pending++
		return release
	})
	release()
}

// Replace stops the process with the given pid and starts a new one once it
// is gone. It fails with UntrackedProcess if the job does not run pid.
func (j *Job) Replace(pid int, onDone func()) error {
	slot, ok := j.tracked.slotOf(pid)
	if !ok {
		return NewFatalError(ErrCodeUntrackedProcess,
			fmt.Sprintf("process %d isn't managed by job %s", pid, j.ID()), nil)
	}

	j.logger.Info("Replacing process", "slot", slot, "pid", pid)
	j.stopOne(slot, func() {
		j.fill()
		if onDone != nil {
			onDone()
		}
	})
	return nil
}

// RunningProcesses samples every tracked process and returns those alive,
// oldest first.
func (j *Job) RunningProcesses() []Process {
	slots := j.tracked.slots()
	procs := make([]Process, 0, len(slots))
	for _, s := range slots {
		snap, err := procstat.Sample(j.table, s.PID)
		if err != nil {
			j.logger.Debug("Failed to sample process", "slot", s.ID, "pid", s.PID, "error", err)
			continue
		}
		if !snap.Alive() {
			continue
		}
		procs = append(procs, NewProcess(snap, s.ID, j.registry))
	}
	return procs
}

// EvaluateTriggers tests every trigger against every running process.
// A trigger fires once per breach and re-arms after its condition clears.
func (j *Job) EvaluateTriggers() {
	if len(j.triggers) == 0 {
		return
	}

	procs := j.RunningProcesses()
	alive := make(map[int]struct{}, len(procs))
	for _, p := range procs {
		alive[p.PID()] = struct{}{}
	}

	for i, t := range j.triggers {
		breached := j.breached[i]
		for pid := range breached {
			if _, ok := alive[pid]; !ok {
				delete(breached, pid)
			}
		}

		for _, p := range procs {
			if !j.Tracks(p.PID()) {
				continue
			}
			if !t.Test(p) {
				delete(breached, p.PID())
				continue
			}
			if _, fired := breached[p.PID()]; fired {
				continue
			}
			breached[p.PID()] = struct{}{}

			j.logger.Warn(t.Describe(), "slot", p.Slot, "pid", p.PID())
			j.events.Publish(events.TriggerFiredEvent{
				JobID:     j.ID(),
				PID:       p.PID(),
				Trigger:   t.Describe(),
				Timestamp: now(),
			})
			if err := t.Fire(j, p); err != nil {
				j.logger.Error("Trigger action failed", "pid", p.PID(), "error", err)
			}
		}
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
