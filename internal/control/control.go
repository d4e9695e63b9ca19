// Package control turns textual job instructions into desired count changes.
//
// Supported instructions:
//
//	3          set the desired count
//	more, less adjust by one
//	2 more     adjust by n
//	max, min   jump to the ends of the allowed range
//	restart    replace every running process
package control

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/smazurov/spagmon/internal/supervisor"
)

var (
	absolutePattern = regexp.MustCompile(`^\d+$`)
	relativePattern = regexp.MustCompile(`^(?:(\d+)\s+)?(more|less)$`)
)

// Job is the part of a supervised job the protocol drives.
type Job interface {
	Name() string
	Desired() int
	SetDesired(n int)
	Allowed() supervisor.Range
	Sync()
	Restart(onDone func())
}

// Respond applies instruction to job and returns the operator message.
// Count changes are synced immediately.
func Respond(job Job, instruction string) (string, error) {
	instruction = strings.ToLower(strings.Join(strings.Fields(instruction), " "))

	switch {
	case absolutePattern.MatchString(instruction):
		n, err := strconv.Atoi(instruction)
		if err != nil {
			return "", invalid("count %q is out of range", instruction)
		}
		return set(job, n)

	case relativePattern.MatchString(instruction):
		m := relativePattern.FindStringSubmatch(instruction)
		n := 1
		if m[1] != "" {
			var err error
			if n, err = strconv.Atoi(m[1]); err != nil {
				return "", invalid("count %q is out of range", m[1])
			}
		}
		if m[2] == "more" {
			return set(job, job.Desired()+n)
		}
		return set(job, max(job.Desired()-n, 0))
	}

	switch instruction {
	case "max":
		return set(job, job.Allowed().Max)
	case "min":
		return set(job, job.Allowed().Min)
	case "restart":
		job.Restart(nil)
		return fmt.Sprintf("Restarting '%s' processes", job.Name()), nil
	case "pause", "resume":
		return "", unsupported("%s is not supported", instruction)
	case "":
		return "", invalid("empty instruction")
	default:
		return "", invalid("unknown instruction %q", instruction)
	}
}

func set(job Job, count int) (string, error) {
	allowed := job.Allowed()
	if !allowed.Contains(count) {
		return "", invalid("'%s' allows between %d and %d processes, got %d",
			job.Name(), allowed.Min, allowed.Max, count)
	}

	original := job.Desired()
	if count == original {
		return fmt.Sprintf("'%s' already running %d processes", job.Name(), count), nil
	}

	job.SetDesired(count)
	job.Sync()

	direction := "Increasing"
	if count < original {
		direction = "Decreasing"
	}
	diff := count - original
	if diff < 0 {
		diff = -diff
	}
	return fmt.Sprintf("%s '%s' processes by %d (from %d to %d)",
		direction, job.Name(), diff, original, count), nil
}
