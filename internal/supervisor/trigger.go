package supervisor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/smazurov/spagmon/internal/procstat"
)

// Trigger action names.
const (
	ActionRestart = "restart"
	ActionLog     = "log"
)

// TriggerConfig is one trigger entry of a job description.
type TriggerConfig struct {
	Type   string `toml:"type" json:"type"`
	Op     string `toml:"op" json:"op,omitempty"`
	Value  string `toml:"value" json:"value"`
	Action string `toml:"action" json:"action,omitempty"`
}

// Trigger is a predicate over process metrics with a corrective action.
type Trigger interface {
	Test(p Process) bool
	Describe() string
	Fire(job *Job, p Process) error
}

type comparison struct {
	symbol string
	test   func(a, b float64) bool
}

var comparisons = map[string]comparison{
	">":   {">", func(a, b float64) bool { return a > b }},
	"gt":  {">", func(a, b float64) bool { return a > b }},
	">=":  {">=", func(a, b float64) bool { return a >= b }},
	"gte": {">=", func(a, b float64) bool { return a >= b }},
	"<":   {"<", func(a, b float64) bool { return a < b }},
	"lt":  {"<", func(a, b float64) bool { return a < b }},
	"<=":  {"<=", func(a, b float64) bool { return a <= b }},
	"lte": {"<=", func(a, b float64) bool { return a <= b }},
	"=":   {"=", func(a, b float64) bool { return a == b }},
	"==":  {"=", func(a, b float64) bool { return a == b }},
	"eq":  {"=", func(a, b float64) bool { return a == b }},
}

var verbs = map[string]string{
	">":  "exceeded",
	">=": "reached",
	"<":  "dropped below",
	"<=": "is at most",
	"=":  "equals",
}

type metric struct {
	label  string
	value  func(m procstat.Metrics) float64
	parse  func(s string) (float64, error)
	format func(v float64) string
}

var metrics = map[string]metric{
	"memory": {
		label:  "Physical memory",
		value:  func(m procstat.Metrics) float64 { return float64(m.ResidentBytes) },
		parse:  parseBytes,
		format: formatBytes,
	},
	"virtual_memory": {
		label:  "Virtual memory",
		value:  func(m procstat.Metrics) float64 { return float64(m.VirtualBytes) },
		parse:  parseBytes,
		format: formatBytes,
	},
	"total_memory": {
		label:  "Total memory",
		value:  func(m procstat.Metrics) float64 { return float64(m.TotalBytes) },
		parse:  parseBytes,
		format: formatBytes,
	},
	"cpu": {
		label:  "CPU usage",
		value:  func(m procstat.Metrics) float64 { return m.CPUPercent },
		parse:  parsePercent,
		format: formatPercent,
	},
	"uptime": {
		label:  "Uptime",
		value:  func(m procstat.Metrics) float64 { return m.Uptime.Seconds() },
		parse:  parseDuration,
		format: formatDuration,
	},
}

// ThresholdTrigger compares one process metric against a fixed value.
type ThresholdTrigger struct {
	kind      string
	metric    metric
	cmp       comparison
	threshold float64
	action    string
}

// NewTrigger builds a trigger from its configuration.
func NewTrigger(cfg TriggerConfig) (Trigger, error) {
	m, ok := metrics[strings.ToLower(cfg.Type)]
	if !ok {
		return nil, fmt.Errorf("unknown trigger type %q", cfg.Type)
	}

	op := strings.ToLower(strings.TrimSpace(cfg.Op))
	if op == "" {
		op = ">"
	}
	cmp, ok := comparisons[op]
	if !ok {
		return nil, fmt.Errorf("unknown comparison operator %q", cfg.Op)
	}

	if strings.TrimSpace(cfg.Value) == "" {
		return nil, errors.New("trigger value is required")
	}
	threshold, err := m.parse(strings.TrimSpace(cfg.Value))
	if err != nil {
		return nil, fmt.Errorf("invalid %s trigger value %q: %w", cfg.Type, cfg.Value, err)
	}

	action := strings.ToLower(cfg.Action)
	switch action {
	case "":
		action = ActionRestart
	case ActionRestart, ActionLog:
	default:
		return nil, fmt.Errorf("unknown trigger action %q", cfg.Action)
	}

	return &ThresholdTrigger{
		kind:      strings.ToLower(cfg.Type),
		metric:    m,
		cmp:       cmp,
		threshold: threshold,
		action:    action,
	}, nil
}

// Test reports whether the process metric satisfies the comparison.
// Processes that are not alive never match.
func (t *ThresholdTrigger) Test(p Process) bool {
	m, err := p.Metrics()
	if err != nil {
		return false
	}
	return t.cmp.test(t.metric.value(m), t.threshold)
}

// Describe returns the log message used when the trigger fires.
func (t *ThresholdTrigger) Describe() string {
	return fmt.Sprintf("%s %s %s", t.metric.label, verbs[t.cmp.symbol], t.metric.format(t.threshold))
}

// Fire runs the configured action against p.
func (t *ThresholdTrigger) Fire(job *Job, p Process) error {
	switch t.action {
	case ActionLog:
		return nil
	default:
		return job.Replace(p.PID(), nil)
	}
}

func (t *ThresholdTrigger) String() string {
	return fmt.Sprintf("%s %s %s", t.kind, t.cmp.symbol, t.metric.format(t.threshold))
}

func parseBytes(s string) (float64, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("size must not be negative")
	}
	return float64(n), nil
}

func formatBytes(v float64) string {
	return units.BytesSize(v)
}

func parsePercent(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}

func parseDuration(s string) (float64, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return secs, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return d.Seconds(), nil
}

func formatDuration(v float64) string {
	return (time.Duration(v * float64(time.Second))).String()
}
