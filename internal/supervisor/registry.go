package supervisor

// Registry maps OS pids to the Job that owns them.
//
// One Registry lives as long as the supervisor and is shared by reference
// between every Job and Process. It is not safe for concurrent use: all
// reads and writes happen on the supervisor loop.
type Registry struct {
	owners map[int]*Job
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{owners: make(map[int]*Job)}
}

// Register records job as the owner of pid.
func (r *Registry) Register(pid int, job *Job) {
	r.owners[pid] = job
}

// Deregister forgets pid.
func (r *Registry) Deregister(pid int) {
	delete(r.owners, pid)
}

// Lookup returns the job that owns pid.
func (r *Registry) Lookup(pid int) (*Job, bool) {
	if r == nil {
		return nil, false
	}
	job, ok := r.owners[pid]
	return job, ok
}

// Len returns the number of registered pids.
func (r *Registry) Len() int {
	return len(r.owners)
}

// release drops pid only if job still owns it.
func (r *Registry) release(pid int, job *Job) {
	if owner, ok := r.owners[pid]; ok && owner == job {
		delete(r.owners, pid)
	}
}
