// Package daemon runs the supervisor loop.
//
// Every Job and the pid Registry are owned by a single goroutine, the loop
// started by Run. Other goroutines reach them only through Do, and
// background terminations hand their completions back through a channel, so
// supervisor state is never touched concurrently.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/smazurov/spagmon/internal/events"
	"github.com/smazurov/spagmon/internal/logging"
	"github.com/smazurov/spagmon/internal/metrics"
	"github.com/smazurov/spagmon/internal/procstat"
	"github.com/smazurov/spagmon/internal/state"
	"github.com/smazurov/spagmon/internal/supervisor"
)

// DefaultBeatInterval is how often jobs are reconciled when not configured.
const DefaultBeatInterval = 5 * time.Second

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("supervisor loop is not running")

// Options configures a Daemon.
type Options struct {
	Table        procstat.Table // defaults to the OS process table
	Events       *events.Bus    // optional
	Store        *state.Store   // optional; state is not persisted without it
	BeatInterval time.Duration
	Jobs         []supervisor.Description
}

type request struct {
	fn    func() error
	reply chan error
}

// Daemon supervises a set of jobs.
type Daemon struct {
	registry *supervisor.Registry
	table    procstat.Table
	bus      *events.Bus
	store    *state.Store
	interval time.Duration
	logger   *slog.Logger

	jobs     map[string]*supervisor.Job
	removing map[string]*supervisor.Job // dropped from the jobs file, still draining
	saved    map[string]supervisor.State
	stopping bool

	completions chan func()
	requests    chan request
	quit        chan struct{}
	quitOnce    sync.Once
	done        chan struct{}
}

// New creates a daemon and loads the initial jobs. Persisted state from the
// store is restored for jobs that appear in it.
func New(opts Options) (*Daemon, error) {
	d := &Daemon{
		registry:    supervisor.NewRegistry(),
		table:       opts.Table,
		bus:         opts.Events,
		store:       opts.Store,
		interval:    opts.BeatInterval,
		logger:      logging.GetLogger("daemon"),
		jobs:        make(map[string]*supervisor.Job),
		removing:    make(map[string]*supervisor.Job),
		saved:       make(map[string]supervisor.State),
		completions: make(chan func(), 64),
		requests:    make(chan request),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if d.table == nil {
		d.table = procstat.NewOSTable()
	}
	if d.interval <= 0 {
		d.interval = DefaultBeatInterval
	}

	if d.store != nil {
		if err := d.store.Load(); err != nil {
			return nil, fmt.Errorf("failed to load state: %w", err)
		}
	}
	if err := d.apply(opts.Jobs); err != nil {
		return nil, err
	}
	return d, nil
}

// Defer runs work on a new goroutine and queues done for the loop.
// It is the executor every job uses for terminations.
func (d *Daemon) Defer(work func(), done func()) {
	go func() {
		work()
		select {
		case d.completions <- done:
		case <-d.quit:
		}
	}()
}

// Publish forwards job events to the bus.
func (d *Daemon) Publish(ev events.Event) {
	if d.bus != nil {
		d.bus.Publish(ev)
	}
}

// Run beats until ctx is cancelled or Shutdown completes.
func (d *Daemon) Run(ctx context.Context) error {
	defer close(d.done)
	defer d.stop()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("Supervisor started", "jobs", len(d.jobs), "interval", d.interval)
	d.beat()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Supervisor loop stopped")
			return ctx.Err()
		case <-d.quit:
			return nil
		case <-ticker.C:
			d.beat()
		case done := <-d.completions:
			done()
		case req := <-d.requests:
			req.reply <- req.fn()
		}
	}
}

// Do runs fn on the loop and returns its error.
func (d *Daemon) Do(ctx context.Context, fn func() error) error {
	req := request{fn: fn, reply: make(chan error, 1)}
	select {
	case d.requests <- req:
	case <-d.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every process of every job, waits until they are gone or
// ctx expires, saves state and stops the loop. Desired counts are kept so
// the next start brings the same processes back.
func (d *Daemon) Shutdown(ctx context.Context) error {
	drained := make(chan struct{})
	err := d.Do(ctx, func() error {
		d.stopping = true
		pending := 1
		release := func() {
			pending--
			if pending == 0 {
				close(drained)
			}
		}
		for _, job := range d.allJobs() {
			pending++
			job.Shutdown(release)
		}
		d.logger.Info("Stopping all processes", "jobs", len(d.jobs))
		release()
		return nil
	})
	if err != nil {
		d.stop()
		return err
	}

	var waitErr error
	select {
	case <-drained:
		d.logger.Info("All processes stopped")
	case <-ctx.Done():
		waitErr = fmt.Errorf("processes still terminating: %w", ctx.Err())
		d.logger.Warn("Shutdown deadline reached before all processes stopped")
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	saveErr := d.Do(saveCtx, func() error { return d.persist() })

	d.stop()
	select {
	case <-d.done:
	case <-saveCtx.Done():
	}
	return errors.Join(waitErr, saveErr)
}

func (d *Daemon) stop() {
	d.quitOnce.Do(func() { close(d.quit) })
}

// Apply replaces the job set with descs.
func (d *Daemon) Apply(ctx context.Context, descs []supervisor.Description) error {
	return d.Do(ctx, func() error {
		if err := d.apply(descs); err != nil {
			return err
		}
		d.beat()
		return nil
	})
}

func (d *Daemon) apply(descs []supervisor.Description) error {
	deps := supervisor.Deps{
		Registry: d.registry,
		Table:    d.table,
		Executor: d,
		Events:   d,
	}

	seen := make(map[string]bool, len(descs))
	for _, desc := range descs {
		if seen[desc.ID] {
			return fmt.Errorf("duplicate job id %s", desc.ID)
		}
		seen[desc.ID] = true
	}

	var added, removed, updated []string
	var errs []error
	for _, desc := range descs {
		if job, ok := d.jobs[desc.ID]; ok {
			if err := job.UpdateDescription(desc); err != nil {
				errs = append(errs, err)
				continue
			}
			updated = append(updated, desc.ID)
			continue
		}

		var saved *supervisor.State
		if d.store != nil {
			if st, ok := d.store.Get(desc.ID); ok {
				saved = &st
				d.saved[desc.ID] = st
			}
		}
		job, err := supervisor.Restore(desc, saved, deps)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if saved != nil {
			job.SetDesired(desc.Allowed.Clamp(job.Desired()))
		}
		d.jobs[desc.ID] = job
		added = append(added, desc.ID)
	}

	for id, job := range d.jobs {
		if seen[id] {
			continue
		}
		d.logger.Info("Job removed, draining processes", "job", id)
		job.Terminate()
		delete(d.jobs, id)
		d.removing[id] = job
		removed = append(removed, id)
	}

	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(updated)
	if len(added)+len(removed) > 0 || len(updated) > 0 {
		d.logger.Info("Jobs applied", "added", added, "removed", removed, "updated", updated)
		d.Publish(events.JobsReloadedEvent{
			Added:     added,
			Removed:   removed,
			Updated:   updated,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
	return errors.Join(errs...)
}

// beat reconciles every job, evaluates triggers and saves state.
func (d *Daemon) beat() {
	if d.stopping {
		return
	}
	for _, id := range d.jobIDs() {
		job := d.jobs[id]
		job.Sync()
		job.EvaluateTriggers()
		metrics.SetJobCounts(id, job.Desired(), job.RunningCount(), job.TerminatingCount())
	}

	for id, job := range d.removing {
		job.Sync()
		if job.RunningCount() == 0 && job.TerminatingCount() == 0 {
			delete(d.removing, id)
			metrics.DeleteJob(id)
			delete(d.saved, id)
			d.logger.Info("Removed job drained", "job", id)
		}
	}

	if err := d.persist(); err != nil {
		d.logger.Error("Failed to save state", "error", err)
	}
}

// persist saves job state when it changed since the last save.
func (d *Daemon) persist() error {
	if d.store == nil {
		return nil
	}

	dirty := false
	for id, job := range d.jobs {
		dirty = d.stage(id, job.State()) || dirty
	}
	for id, job := range d.removing {
		dirty = d.stage(id, job.State()) || dirty
	}
	for _, id := range d.store.IDs() {
		if _, ok := d.jobs[id]; ok {
			continue
		}
		if _, ok := d.removing[id]; ok {
			continue
		}
		d.store.Delete(id)
		dirty = true
	}
	if !dirty {
		return nil
	}
	if err := d.store.Save(); err != nil {
		return err
	}
	d.logger.Debug("State saved", "path", d.store.Path())
	return nil
}

// stage puts st in the store unless it matches the last saved state.
func (d *Daemon) stage(id string, st supervisor.State) bool {
	if prev, ok := d.saved[id]; ok && sameState(prev, st) {
		return false
	}
	d.store.Put(id, st)
	d.saved[id] = st
	return true
}

func sameState(a, b supervisor.State) bool {
	return a.DesiredCount == b.DesiredCount &&
		slices.Equal(a.Tracked, b.Tracked) &&
		slices.Equal(a.Terminating, b.Terminating)
}

func (d *Daemon) jobIDs() []string {
	ids := make([]string, 0, len(d.jobs))
	for id := range d.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Daemon) allJobs() []*supervisor.Job {
	jobs := make([]*supervisor.Job, 0, len(d.jobs)+len(d.removing))
	for _, id := range d.jobIDs() {
		jobs = append(jobs, d.jobs[id])
	}
	for _, job := range d.removing {
		jobs = append(jobs, job)
	}
	return jobs
}
