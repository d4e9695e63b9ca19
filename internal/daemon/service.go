package daemon

import (
	"context"
	"fmt"

	"github.com/smazurov/spagmon/internal/control"
	"github.com/smazurov/spagmon/internal/procstat"
	"github.com/smazurov/spagmon/internal/supervisor"
)

// JobInfo is a point-in-time view of a job.
type JobInfo struct {
	ID          string
	Name        string
	Allowed     supervisor.Range
	Desired     int
	Running     int
	Terminating int
	KillMode    string
	Triggers    []supervisor.TriggerConfig
	Tracked     []supervisor.Slot
	Draining    bool // removed from the jobs file, waiting for its processes to exit
}

// ProcessInfo is a sampled process of a job.
type ProcessInfo struct {
	Slot    string
	PID     int
	Metrics procstat.Metrics
}

func jobInfo(job *supervisor.Job, draining bool) JobInfo {
	desc := job.Description()
	return JobInfo{
		ID:          job.ID(),
		Name:        job.Name(),
		Allowed:     job.Allowed(),
		Desired:     job.Desired(),
		Running:     job.RunningCount(),
		Terminating: job.TerminatingCount(),
		KillMode:    desc.KillMode.String(),
		Triggers:    desc.Triggers,
		Tracked:     job.TrackedSlots(),
		Draining:    draining,
	}
}

func (d *Daemon) lookup(id string) (*supervisor.Job, error) {
	job, ok := d.jobs[id]
	if !ok {
		return nil, supervisor.NewFatalError(supervisor.ErrCodeUnknownJob,
			fmt.Sprintf("unknown job id %q", id), nil)
	}
	return job, nil
}

// ListJobs returns every configured job sorted by id.
func (d *Daemon) ListJobs(ctx context.Context) ([]JobInfo, error) {
	var out []JobInfo
	err := d.Do(ctx, func() error {
		for _, id := range d.jobIDs() {
			out = append(out, jobInfo(d.jobs[id], false))
		}
		for _, job := range d.removing {
			out = append(out, jobInfo(job, true))
		}
		return nil
	})
	return out, err
}

// GetJob returns one job.
func (d *Daemon) GetJob(ctx context.Context, id string) (JobInfo, error) {
	var out JobInfo
	err := d.Do(ctx, func() error {
		job, err := d.lookup(id)
		if err != nil {
			return err
		}
		out = jobInfo(job, false)
		return nil
	})
	return out, err
}

// Processes samples the running processes of a job.
func (d *Daemon) Processes(ctx context.Context, id string) ([]ProcessInfo, error) {
	var out []ProcessInfo
	err := d.Do(ctx, func() error {
		job, err := d.lookup(id)
		if err != nil {
			return err
		}
		for _, p := range job.RunningProcesses() {
			m, err := p.Metrics()
			if err != nil {
				continue
			}
			out = append(out, ProcessInfo{Slot: p.Slot, PID: p.PID(), Metrics: m})
		}
		return nil
	})
	return out, err
}

// Instruct applies a control instruction to a job and returns the operator
// message. Jobs are reconciled first so the response reflects live counts.
func (d *Daemon) Instruct(ctx context.Context, id, instruction string) (string, error) {
	var msg string
	err := d.Do(ctx, func() error {
		d.beat()
		job, err := d.lookup(id)
		if err != nil {
			return err
		}
		msg, err = control.Respond(job, instruction)
		if err != nil {
			return err
		}
		d.logger.Info("Instruction applied", "job", id, "instruction", instruction, "result", msg)
		return d.persist()
	})
	return msg, err
}

// RestartProcess replaces a single process with a fresh one of the same job.
func (d *Daemon) RestartProcess(ctx context.Context, pid int) error {
	return d.Do(ctx, func() error {
		proc := supervisor.NewProcess(procstat.Synthesize(d.table, pid), "", d.registry)
		if err := proc.Restart(nil); err != nil {
			return err
		}
		d.logger.Info("Process restart requested", "pid", pid)
		return nil
	})
}
