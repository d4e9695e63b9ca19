package events

import (
	"time"

	"github.com/smazurov/spagmon/internal/logging"
)

// FromLogEntry converts a buffered log entry to its bus event.
func FromLogEntry(entry logging.LogEntry) LogEntryEvent {
	return LogEntryEvent{
		Seq:        entry.Seq,
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		JobID:      entry.Job,
		Slot:       entry.Slot,
		PID:        entry.PID,
		Attributes: entry.Attributes,
	}
}

// ForwardLogs publishes every new log entry on bus. It returns a function
// that stops forwarding.
func ForwardLogs(bus *Bus) func() {
	logging.SetLogCallback(func(entry logging.LogEntry) {
		bus.Publish(FromLogEntry(entry))
	})
	return func() { logging.SetLogCallback(nil) }
}
