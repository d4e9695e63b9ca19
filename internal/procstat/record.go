package procstat

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// PsFormat is the ps -o column list a record is expected to follow.
const PsFormat = "pid,%cpu,%mem,rss,vsz,lstart,uid,gid,command"

const (
	recordFields = 13
	lstartLayout = "Mon Jan _2 15:04:05 2006"
)

// Metrics holds the values derived from one ps record.
type Metrics struct {
	PID           int           `json:"pid"`
	CPUPercent    float64       `json:"cpu_percent"`
	MemoryPercent float64       `json:"memory_percent"`
	ResidentBytes int64         `json:"resident_bytes"`
	VirtualBytes  int64         `json:"virtual_bytes"`
	TotalBytes    int64         `json:"total_bytes"`
	StartedAt     time.Time     `json:"started_at"`
	Uptime        time.Duration `json:"uptime"`
	UID           int           `json:"uid"`
	GID           int           `json:"gid"`
	User          string        `json:"user"`
	Group         string        `json:"group"`
	Command       string        `json:"command"`
}

// IsRoot reports whether the process is owned by root.
func (m Metrics) IsRoot() bool {
	return m.User == "root"
}

// ParseRecord parses a single ps record line (without header) into Metrics.
// User and group names are resolved through the process-wide name cache.
func ParseRecord(line string, sampledAt time.Time) (Metrics, error) {
	fields := splitFields(line, recordFields)
	if len(fields) != recordFields {
		return Metrics{}, fmt.Errorf("malformed ps record: expected %d fields, got %d", recordFields, len(fields))
	}

	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return Metrics{}, fmt.Errorf("invalid pid %q: %w", fields[0], err)
	}
	cpu, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Metrics{}, fmt.Errorf("invalid cpu percentage %q: %w", fields[1], err)
	}
	mem, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Metrics{}, fmt.Errorf("invalid memory percentage %q: %w", fields[2], err)
	}
	rss, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Metrics{}, fmt.Errorf("invalid rss %q: %w", fields[3], err)
	}
	vsz, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return Metrics{}, fmt.Errorf("invalid vsz %q: %w", fields[4], err)
	}
	startedAt, err := time.ParseInLocation(lstartLayout, strings.Join(fields[5:10], " "), time.Local)
	if err != nil {
		return Metrics{}, fmt.Errorf("invalid start time: %w", err)
	}
	uid, err := strconv.Atoi(fields[10])
	if err != nil {
		return Metrics{}, fmt.Errorf("invalid uid %q: %w", fields[10], err)
	}
	gid, err := strconv.Atoi(fields[11])
	if err != nil {
		return Metrics{}, fmt.Errorf("invalid gid %q: %w", fields[11], err)
	}

	m := Metrics{
		PID:           pid,
		CPUPercent:    cpu,
		MemoryPercent: mem,
		ResidentBytes: rss * 1024,
		VirtualBytes:  vsz * 1024,
		StartedAt:     startedAt,
		Uptime:        sampledAt.Sub(startedAt),
		UID:           uid,
		GID:           gid,
		User:          names.user(uid),
		Group:         names.group(gid),
		Command:       fields[12],
	}
	m.TotalBytes = m.ResidentBytes + m.VirtualBytes
	return m, nil
}

// splitFields splits s on runs of whitespace into at most n fields.
// The last field keeps the remainder of the line, inner whitespace included.
func splitFields(s string, n int) []string {
	var fields []string
	s = strings.TrimSpace(s)
	for s != "" && len(fields) < n-1 {
		i := strings.IndexFunc(s, unicode.IsSpace)
		if i < 0 {
			break
		}
		fields = append(fields, s[:i])
		s = strings.TrimLeftFunc(s[i:], unicode.IsSpace)
	}
	if s != "" {
		fields = append(fields, s)
	}
	return fields
}
