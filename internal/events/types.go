package events

// Event type constants for kelindar/event.
const (
	TypeProcessStarted uint32 = iota + 1
	TypeProcessLost
	TypeProcessStopping
	TypeProcessStopped
	TypeTriggerFired
	TypeDesiredCountChanged
	TypeJobsReloaded
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// ProcessStartedEvent is published after a job launches a process.
type ProcessStartedEvent struct {
	JobID     string `json:"job_id" example:"web" doc:"Job identifier"`
	Slot      string `json:"slot" example:"6f1c2a4e-8b1d-4c3e-9a57-0d2f3b4c5d6e" doc:"Process slot id"`
	PID       int    `json:"pid" example:"4820" doc:"OS process id"`
	Timestamp string `json:"timestamp" example:"2026-10-19T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ProcessStartedEvent.
func (e ProcessStartedEvent) Type() uint32 { return TypeProcessStarted }

// ProcessLostEvent is published when a tracked process vanished outside the supervisor.
type ProcessLostEvent struct {
	JobID     string `json:"job_id" example:"web" doc:"Job identifier"`
	Slot      string `json:"slot" doc:"Process slot id"`
	PID       int    `json:"pid" example:"4820" doc:"OS process id"`
	Timestamp string `json:"timestamp" example:"2026-10-19T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ProcessLostEvent.
func (e ProcessLostEvent) Type() uint32 { return TypeProcessLost }

// ProcessStoppingEvent is published when a process moves to terminating.
type ProcessStoppingEvent struct {
	JobID     string `json:"job_id" example:"web" doc:"Job identifier"`
	Slot      string `json:"slot" doc:"Process slot id"`
	PID       int    `json:"pid" example:"4820" doc:"OS process id"`
	Mode      string `json:"mode" example:"graceful(20s)" doc:"Termination mode"`
	Timestamp string `json:"timestamp" example:"2026-10-19T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ProcessStoppingEvent.
func (e ProcessStoppingEvent) Type() uint32 { return TypeProcessStopping }

// ProcessStoppedEvent is published once a terminating process is confirmed dead.
type ProcessStoppedEvent struct {
	JobID     string  `json:"job_id" example:"web" doc:"Job identifier"`
	Slot      string  `json:"slot" doc:"Process slot id"`
	PID       int     `json:"pid" example:"4820" doc:"OS process id"`
	Signal    string  `json:"signal" example:"terminated" doc:"Last signal sent"`
	Escalated bool    `json:"escalated" doc:"Whether SIGKILL followed an expired grace period"`
	Duration  float64 `json:"duration_seconds" example:"0.4" doc:"Time from first signal to confirmed death"`
	Timestamp string  `json:"timestamp" example:"2026-10-19T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ProcessStoppedEvent.
func (e ProcessStoppedEvent) Type() uint32 { return TypeProcessStopped }

// TriggerFiredEvent is published when a trigger condition is met for a process.
type TriggerFiredEvent struct {
	JobID     string `json:"job_id" example:"web" doc:"Job identifier"`
	PID       int    `json:"pid" example:"4820" doc:"OS process id"`
	Trigger   string `json:"trigger" example:"Physical memory exceeded 512MiB" doc:"Trigger description"`
	Timestamp string `json:"timestamp" example:"2026-10-19T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for TriggerFiredEvent.
func (e TriggerFiredEvent) Type() uint32 { return TypeTriggerFired }

// DesiredCountChangedEvent is published when a job's desired count changes.
type DesiredCountChangedEvent struct {
	JobID     string `json:"job_id" example:"web" doc:"Job identifier"`
	From      int    `json:"from" example:"2" doc:"Previous desired count"`
	To        int    `json:"to" example:"4" doc:"New desired count"`
	Timestamp string `json:"timestamp" example:"2026-10-19T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DesiredCountChangedEvent.
func (e DesiredCountChangedEvent) Type() uint32 { return TypeDesiredCountChanged }

// JobsReloadedEvent is published after the jobs file was applied.
type JobsReloadedEvent struct {
	Added     []string `json:"added" doc:"Job ids created by the reload"`
	Removed   []string `json:"removed" doc:"Job ids being drained"`
	Updated   []string `json:"updated" doc:"Job ids with a new description"`
	Timestamp string   `json:"timestamp" example:"2026-10-19T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for JobsReloadedEvent.
func (e JobsReloadedEvent) Type() uint32 { return TypeJobsReloaded }

// LogEntryEvent carries one supervisor log line to log stream subscribers.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"1042" doc:"Buffer sequence number"`
	Timestamp  string         `json:"timestamp" example:"2026-10-19T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"jobs" doc:"Logging module"`
	Message    string         `json:"message" example:"Process started" doc:"Log message"`
	JobID      string         `json:"job_id,omitempty" example:"web" doc:"Job the line belongs to"`
	Slot       string         `json:"slot,omitempty" example:"3f2a9c" doc:"Slot of the process involved"`
	PID        int            `json:"pid,omitempty" example:"4820" doc:"Process involved"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Remaining structured attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
