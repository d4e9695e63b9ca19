// Package models defines the request and response bodies of the HTTP API.
package models

import "time"

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.2.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"a1b2c3d" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2026-10-01T12:00:00Z" doc:"Build timestamp"`
	Modified  bool   `json:"modified" doc:"Whether the build had uncommitted changes"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go toolchain version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"OS and architecture"`
}

type VersionResponse struct {
	Body VersionData
}

// Job models
type RangeData struct {
	Min int `json:"min" example:"1" doc:"Minimum process count"`
	Max int `json:"max" example:"10" doc:"Maximum process count"`
}

type TriggerData struct {
	Type   string `json:"type" example:"memory" doc:"Metric the trigger watches"`
	Op     string `json:"op" example:">" doc:"Comparison operator"`
	Value  string `json:"value" example:"512MiB" doc:"Threshold"`
	Action string `json:"action" example:"restart" doc:"Action taken when the threshold is crossed"`
}

type SlotData struct {
	Slot string `json:"slot" example:"6f1c2a4e-8b1d-4c3e-9a57-0d2f3b4c5d6e" doc:"Process slot id"`
	PID  int    `json:"pid" example:"4820" doc:"OS process id"`
}

type JobData struct {
	ID          string        `json:"id" example:"web" doc:"Job identifier"`
	Name        string        `json:"name" example:"Web workers" doc:"Display name"`
	Allowed     RangeData     `json:"allowed" doc:"Allowed process count range"`
	Desired     int           `json:"desired" example:"2" doc:"Desired process count"`
	Running     int           `json:"running" example:"2" doc:"Tracked running processes"`
	Terminating int           `json:"terminating" example:"0" doc:"Processes being stopped"`
	KillMode    string        `json:"kill_mode" example:"graceful(20s)" doc:"How processes are stopped"`
	Draining    bool          `json:"draining" example:"false" doc:"Removed from the jobs file, waiting for processes to exit"`
	Triggers    []TriggerData `json:"triggers" doc:"Configured triggers"`
	Processes   []SlotData    `json:"processes" doc:"Running processes, oldest first"`
}

type JobListData struct {
	Jobs  []JobData `json:"jobs" doc:"Configured jobs"`
	Count int       `json:"count" example:"2" doc:"Number of jobs"`
}

type JobListResponse struct {
	Body JobListData
}

type JobRequest struct {
	ID string `path:"id" example:"web" doc:"Job identifier"`
}

type JobResponse struct {
	Body JobData
}

// Process models
type ProcessData struct {
	Slot          string    `json:"slot" doc:"Process slot id"`
	PID           int       `json:"pid" example:"4820" doc:"OS process id"`
	CPUPercent    float64   `json:"cpu_percent" example:"1.5" doc:"CPU usage percent"`
	MemoryPercent float64   `json:"memory_percent" example:"2.3" doc:"Share of physical memory"`
	ResidentBytes int64     `json:"resident_bytes" example:"52428800" doc:"Resident set size in bytes"`
	VirtualBytes  int64     `json:"virtual_bytes" example:"209715200" doc:"Virtual memory size in bytes"`
	TotalBytes    int64     `json:"total_bytes" example:"262144000" doc:"Resident plus virtual bytes"`
	StartedAt     time.Time `json:"started_at" doc:"Process start time"`
	UptimeSeconds float64   `json:"uptime_seconds" example:"3600" doc:"Seconds since start"`
	User          string    `json:"user" example:"app" doc:"Owning user"`
	Group         string    `json:"group" example:"app" doc:"Owning group"`
	Command       string    `json:"command" example:"gunicorn app:server" doc:"Command line"`
}

type ProcessListData struct {
	JobID     string        `json:"job_id" example:"web" doc:"Job identifier"`
	Processes []ProcessData `json:"processes" doc:"Sampled processes"`
	Count     int           `json:"count" example:"2" doc:"Number of processes"`
}

type ProcessListResponse struct {
	Body ProcessListData
}

type ProcessRestartRequest struct {
	PID int `path:"pid" minimum:"1" example:"4820" doc:"OS process id"`
}

// Instruction models
type InstructionRequest struct {
	ID   string `path:"id" example:"web" doc:"Job identifier"`
	Body struct {
		Instruction string `json:"instruction" minLength:"1" example:"3 more" doc:"Control instruction: N, [N] more, [N] less, max, min, restart"`
	}
}

type MessageData struct {
	Message string `json:"message" example:"Increasing 'web' processes by 3 (from 1 to 4)" doc:"Result message"`
}

type MessageResponse struct {
	Body MessageData
}

// Log models
type LogEntryData struct {
	Seq        uint64         `json:"seq" example:"1042" doc:"Buffer sequence number, pass as after to resume"`
	Timestamp  time.Time      `json:"timestamp" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"workers" doc:"Logging module"`
	Message    string         `json:"message" example:"Listening at: http://0.0.0.0:8000" doc:"Log message"`
	Job        string         `json:"job,omitempty" example:"web" doc:"Job the line belongs to"`
	Slot       string         `json:"slot,omitempty" example:"3f2a9c" doc:"Slot of the process that wrote it"`
	PID        int            `json:"pid,omitempty" example:"4820" doc:"Process that wrote it"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Remaining structured attributes"`
}

type LogListRequest struct {
	Job    string `query:"job" example:"web" doc:"Only entries about this job"`
	Module string `query:"module" example:"workers" doc:"Only entries from this module"`
	PID    int    `query:"pid" minimum:"0" example:"4820" doc:"Only entries about this process"`
	After  uint64 `query:"after" doc:"Only entries with a larger seq"`
	Limit  int    `query:"limit" minimum:"0" maximum:"1000" default:"200" doc:"Maximum entries, newest kept"`
}

type LogStreamRequest struct {
	Job    string `query:"job" example:"web" doc:"Only entries about this job"`
	Module string `query:"module" example:"workers" doc:"Only entries from this module"`
}

type LogListData struct {
	Entries []LogEntryData `json:"entries" doc:"Recent log entries, oldest first"`
	Count   int            `json:"count" example:"20" doc:"Number of entries"`
}

type LogListResponse struct {
	Body LogListData
}
