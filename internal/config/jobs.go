package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/spagmon/internal/logging"
	"github.com/smazurov/spagmon/internal/process"
	"github.com/smazurov/spagmon/internal/procstat"
	"github.com/smazurov/spagmon/internal/supervisor"
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// JobSpec is one [jobs.<id>] table of the jobs file.
type JobSpec struct {
	ID          string                     `toml:"-" json:"id"`
	Name        string                     `toml:"name" json:"name"`
	Command     string                     `toml:"command" json:"command"`
	Directory   string                     `toml:"directory" json:"directory,omitempty"`
	Environment []string                   `toml:"environment" json:"environment,omitempty"`
	Allowed     []int                      `toml:"allowed" json:"allowed"`
	Initial     *int                       `toml:"initial" json:"initial,omitempty"`
	KillTimeout any                        `toml:"kill_timeout" json:"kill_timeout,omitempty"`
	Triggers    []supervisor.TriggerConfig `toml:"triggers" json:"triggers,omitempty"`
}

// JobsFile is the jobs file layout.
type JobsFile struct {
	Jobs map[string]JobSpec `toml:"jobs"`
}

// LoadJobs reads and validates a jobs file. Specs are returned sorted by id.
func LoadJobs(path string) ([]JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}
	return ParseJobs(data)
}

// ParseJobs parses and validates jobs file content.
func ParseJobs(data []byte) ([]JobSpec, error) {
	var file JobsFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse jobs file: %w", err)
	}

	specs := make([]JobSpec, 0, len(file.Jobs))
	var errs []error
	for id, spec := range file.Jobs {
		spec.ID = id
		if spec.Name == "" {
			spec.Name = id
		}
		if err := spec.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		specs = append(specs, spec)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs, nil
}

// Validate checks a spec without starting anything.
func (s JobSpec) Validate() error {
	if !jobIDPattern.MatchString(s.ID) {
		return fmt.Errorf("job %q: invalid id", s.ID)
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("job %s: command is required", s.ID)
	}
	allowed, err := s.AllowedRange()
	if err != nil {
		return fmt.Errorf("job %s: %w", s.ID, err)
	}
	if initial := s.InitialCount(); !allowed.Contains(initial) {
		return fmt.Errorf("job %s: initial count %d is outside allowed range [%d, %d]",
			s.ID, initial, allowed.Min, allowed.Max)
	}
	if _, err := s.KillMode(); err != nil {
		return fmt.Errorf("job %s: %w", s.ID, err)
	}
	for i, cfg := range s.Triggers {
		if _, err := supervisor.NewTrigger(cfg); err != nil {
			return fmt.Errorf("job %s: trigger %d: %w", s.ID, i+1, err)
		}
	}
	for _, kv := range s.Environment {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("job %s: environment entry %q is not KEY=VALUE", s.ID, kv)
		}
	}
	return nil
}

// AllowedRange returns the allowed process count range. It defaults to [1, 1].
func (s JobSpec) AllowedRange() (supervisor.Range, error) {
	switch len(s.Allowed) {
	case 0:
		return supervisor.Range{Min: 1, Max: 1}, nil
	case 1:
		if s.Allowed[0] < 0 {
			return supervisor.Range{}, errors.New("allowed count must not be negative")
		}
		return supervisor.Range{Min: s.Allowed[0], Max: s.Allowed[0]}, nil
	case 2:
		r := supervisor.Range{Min: s.Allowed[0], Max: s.Allowed[1]}
		if r.Min < 0 || r.Max < r.Min {
			return supervisor.Range{}, fmt.Errorf("invalid allowed range [%d, %d]", r.Min, r.Max)
		}
		return r, nil
	default:
		return supervisor.Range{}, errors.New("allowed must be [min, max]")
	}
}

// InitialCount returns the initial desired count, defaulting to the allowed minimum.
func (s JobSpec) InitialCount() int {
	if s.Initial != nil {
		return *s.Initial
	}
	r, err := s.AllowedRange()
	if err != nil {
		return 0
	}
	return r.Min
}

// KillMode converts kill_timeout into a termination mode.
//
//	absent          graceful with the default deadline
//	true            immediate SIGKILL
//	false           SIGTERM only
//	"20s" or 20     SIGTERM, SIGKILL after the deadline
func (s JobSpec) KillMode() (procstat.TerminationMode, error) {
	switch v := s.KillTimeout.(type) {
	case nil:
		return procstat.DefaultMode(), nil
	case bool:
		if v {
			return procstat.Immediate(), nil
		}
		return procstat.Graceful(), nil
	case int64:
		return deadlineMode(time.Duration(v) * time.Second)
	case float64:
		return deadlineMode(time.Duration(v * float64(time.Second)))
	case string:
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return deadlineMode(time.Duration(secs * float64(time.Second)))
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return procstat.TerminationMode{}, fmt.Errorf("invalid kill_timeout %q: %w", v, err)
		}
		return deadlineMode(d)
	default:
		return procstat.TerminationMode{}, fmt.Errorf("invalid kill_timeout %v", v)
	}
}

func deadlineMode(d time.Duration) (procstat.TerminationMode, error) {
	if d <= 0 {
		return procstat.TerminationMode{}, fmt.Errorf("kill_timeout must be positive, got %s", d)
	}
	return procstat.GracefulWithDeadline(d), nil
}

// Description builds the supervisor description, including its launcher.
// onExit, when set, is called whenever one of the job's workers exits.
func (s JobSpec) Description(onExit process.ExitFunc) (supervisor.Description, error) {
	if err := s.Validate(); err != nil {
		return supervisor.Description{}, err
	}
	allowed, _ := s.AllowedRange()
	mode, _ := s.KillMode()

	launcher, err := process.NewLauncher(process.Spec{
		JobID:       s.ID,
		Command:     s.Command,
		Directory:   s.Directory,
		Environment: s.Environment,
	}, logging.GetLogger("jobs").With("job", s.ID))
	if err != nil {
		return supervisor.Description{}, err
	}
	if onExit != nil {
		launcher.OnExit(onExit)
	}

	return supervisor.Description{
		ID:           s.ID,
		Name:         s.Name,
		Allowed:      allowed,
		Triggers:     s.Triggers,
		KillMode:     mode,
		InitialCount: s.InitialCount(),
		Launcher:     launcher,
	}, nil
}
