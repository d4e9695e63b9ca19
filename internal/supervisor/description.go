package supervisor

import (
	"github.com/smazurov/spagmon/internal/events"
	"github.com/smazurov/spagmon/internal/procstat"
)

// Launcher starts one worker process and returns its slot id and pid.
type Launcher interface {
	Launch() (slot string, pid int, err error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func() (string, int, error)

// Launch calls f.
func (f LauncherFunc) Launch() (string, int, error) {
	return f()
}

// Range is an inclusive process count range.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether n lies within the range.
func (r Range) Contains(n int) bool {
	return n >= r.Min && n <= r.Max
}

// Clamp limits n to the range.
func (r Range) Clamp(n int) int {
	return max(r.Min, min(n, r.Max))
}

// Description is the immutable definition of a job.
type Description struct {
	ID           string
	Name         string
	Allowed      Range
	Triggers     []TriggerConfig
	KillMode     procstat.TerminationMode
	InitialCount int
	Launcher     Launcher
}

// Executor runs blocking work off the supervisor loop and hands done back to it.
// work must not touch job state; done always runs on the supervisor loop.
type Executor interface {
	Defer(work func(), done func())
}

// Publisher receives job events.
type Publisher interface {
	Publish(ev events.Event)
}

// Deps are the collaborators shared by every job of a supervisor.
type Deps struct {
	Registry *Registry
	Table    procstat.Table
	Executor Executor
	Events   Publisher // optional
}

type noopPublisher struct{}

func (noopPublisher) Publish(events.Event) {}
