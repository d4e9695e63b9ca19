package logging

import (
	"sync"
	"time"
)

// LogEntry is one buffered log line. The job, slot and pid attributes are
// lifted out of Attributes so entries can be selected per job or process.
type LogEntry struct {
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Job        string         `json:"job,omitempty"`
	Slot       string         `json:"slot,omitempty"`
	PID        int            `json:"pid,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Filter selects buffered entries. Zero fields match everything.
type Filter struct {
	Job    string
	Module string
	PID    int
	After  uint64 // only entries with a larger Seq
	Limit  int    // keep the newest Limit matches
}

// Match reports whether e passes every field of f except Limit.
func (f Filter) Match(e LogEntry) bool {
	switch {
	case e.Seq <= f.After:
		return false
	case f.Job != "" && e.Job != f.Job:
		return false
	case f.Module != "" && e.Module != f.Module:
		return false
	case f.PID != 0 && e.PID != f.PID:
		return false
	}
	return true
}

// RingBuffer keeps the most recent log entries. Every write gets the next
// sequence number, so readers can resume after the last entry they saw.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	last    uint64 // Seq of the newest entry, 0 when empty
}

// NewRingBuffer creates a buffer holding up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{entries: make([]LogEntry, max(size, 1))}
}

// Write stores entry, evicting the oldest one when full, and returns it
// with its sequence number set.
func (rb *RingBuffer) Write(entry LogEntry) LogEntry {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.last++
	entry.Seq = rb.last
	rb.entries[rb.index(entry.Seq)] = entry
	return entry
}

// Query returns the entries matching f, oldest first.
func (rb *RingBuffer) Query(f Filter) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []LogEntry
	for seq := max(rb.first(), f.After+1); seq <= rb.last; seq++ {
		if e := rb.entries[rb.index(seq)]; f.Match(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// ReadAll returns every buffered entry, oldest first.
func (rb *RingBuffer) ReadAll() []LogEntry {
	return rb.Query(Filter{})
}

// Count returns the number of buffered entries.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.last == 0 {
		return 0
	}
	return int(rb.last - rb.first() + 1)
}

// first is the Seq of the oldest entry still buffered.
func (rb *RingBuffer) first() uint64 {
	size := uint64(len(rb.entries))
	if rb.last <= size {
		return 1
	}
	return rb.last - size + 1
}

func (rb *RingBuffer) index(seq uint64) int {
	return int((seq - 1) % uint64(len(rb.entries)))
}
