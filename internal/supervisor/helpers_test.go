package supervisor

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/smazurov/spagmon/internal/events"
	"github.com/smazurov/spagmon/internal/procstat"
	"github.com/smazurov/spagmon/internal/procstat/proctest"
)

// queueExecutor holds deferred terminations until Drain is called.
type queueExecutor struct {
	pending []func()
}

func (q *queueExecutor) Defer(work func(), done func()) {
	q.pending = append(q.pending, func() {
		work()
		done()
	})
}

// Drain runs every pending termination, including ones queued while draining.
func (q *queueExecutor) Drain() {
	for len(q.pending) > 0 {
		next := q.pending[0]
		q.pending = q.pending[1:]
		next()
	}
}

func (q *queueExecutor) Len() int { return len(q.pending) }

type inlineExecutor struct{}

func (inlineExecutor) Defer(work func(), done func()) {
	work()
	done()
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(typ uint32) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type() == typ {
			n++
		}
	}
	return n
}

// fakeLauncher spawns processes in a fake table.
type fakeLauncher struct {
	table    *proctest.Table
	launches int
	failAt   int // fail the nth launch (1-based); 0 never fails
	proc     proctest.Process
	slot     string // returned for every launch when set
}

func (l *fakeLauncher) Launch() (string, int, error) {
	l.launches++
	if l.failAt != 0 && l.launches == l.failAt {
		return "", 0, errors.New("exec failed")
	}
	pid := l.table.Spawn(l.proc)
	if l.slot != "" {
		return l.slot, pid, nil
	}
	return fmt.Sprintf("slot-%d", l.launches), pid, nil
}

type harness struct {
	table    *proctest.Table
	launcher *fakeLauncher
	registry *Registry
	exec     Executor
	events   *recorder
}

func newHarness(exec Executor) *harness {
	table := proctest.New()
	return &harness{
		table:    table,
		launcher: &fakeLauncher{table: table},
		registry: NewRegistry(),
		exec:     exec,
		events:   &recorder{},
	}
}

func (h *harness) deps() Deps {
	return Deps{Registry: h.registry, Table: h.table, Executor: h.exec, Events: h.events}
}

func (h *harness) description(initial int) Description {
	return Description{
		ID:           "web",
		Name:         "Web workers",
		Allowed:      Range{Min: 0, Max: 10},
		KillMode:     procstat.DefaultMode(),
		InitialCount: initial,
		Launcher:     h.launcher,
	}
}

func (h *harness) newJob(t *testing.T, initial int) *Job {
	t.Helper()
	job, err := NewJob(h.description(initial), h.deps())
	if err != nil {
		t.Fatalf("NewJob() error = %v", err)
	}
	return job
}

// checkInvariants verifies slot disjointness and registry ownership.
func checkInvariants(t *testing.T, job *Job, registry *Registry) {
	t.Helper()
	for _, s := range job.TrackedSlots() {
		if job.terminating.has(s.ID) {
			t.Errorf("slot %s is both tracked and terminating", s.ID)
		}
		owner, ok := registry.Lookup(s.PID)
		if !ok || owner != job {
			t.Errorf("pid %d of slot %s is not registered to job %s", s.PID, s.ID, job.ID())
		}
	}
	if job.Desired() < 0 {
		t.Errorf("desired count = %d, want >= 0", job.Desired())
	}
}
