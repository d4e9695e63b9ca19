package supervisor

import (
	"fmt"

	"github.com/smazurov/spagmon/internal/procstat"
)

// Process is a sampled worker process that knows how to find its job.
type Process struct {
	procstat.Snapshot
	Slot string

	registry *Registry
}

// NewProcess binds a snapshot to a slot and the registry used for reverse lookup.
func NewProcess(snap procstat.Snapshot, slot string, registry *Registry) Process {
	return Process{Snapshot: snap, Slot: slot, registry: registry}
}

// OwningJob returns the job that owns the process, if any.
func (p Process) OwningJob() (*Job, bool) {
	return p.registry.Lookup(p.PID())
}

// Restart asks the owning job to replace this process.
func (p Process) Restart(onDone func()) error {
	job, ok := p.OwningJob()
	if !ok {
		return NewFatalError(ErrCodeUnmanagedProcess,
			fmt.Sprintf("process %d isn't managed by any job", p.PID()), nil)
	}
	return job.Replace(p.PID(), onDone)
}
