// Package metrics exposes supervisor state as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/spagmon/internal/events"
)

const namespace = "spagmon"

var (
	desiredProcesses = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "job",
		Name:      "desired_processes",
		Help:      "Desired process count per job",
	}, []string{"job"})

	runningProcesses = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "job",
		Name:      "running_processes",
		Help:      "Tracked running processes per job",
	}, []string{"job"})

	terminatingProcesses = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "job",
		Name:      "terminating_processes",
		Help:      "Processes being shut down per job",
	}, []string{"job"})

	processesStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "started_total",
		Help:      "Processes launched",
	}, []string{"job"})

	processesLost = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "lost_total",
		Help:      "Tracked processes that vanished outside the supervisor",
	}, []string{"job"})

	processesStopped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "stopped_total",
		Help:      "Processes terminated by the supervisor",
	}, []string{"job", "escalated"})

	terminationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "termination_seconds",
		Help:      "Time from first signal to confirmed death",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
	}, []string{"job"})

	workerExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "exits_total",
		Help:      "Worker exits observed by the launcher, by exit code",
	}, []string{"job", "code"})

	triggersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trigger",
		Name:      "fired_total",
		Help:      "Trigger firings",
	}, []string{"job"})

	reloads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_reloads_total",
		Help:      "Applied jobs file reloads",
	})
)

// SetJobCounts records the current counts of a job.
func SetJobCounts(job string, desired, running, terminating int) {
	desiredProcesses.WithLabelValues(job).Set(float64(desired))
	runningProcesses.WithLabelValues(job).Set(float64(running))
	terminatingProcesses.WithLabelValues(job).Set(float64(terminating))
}

// DeleteJob drops the gauges of a removed job.
func DeleteJob(job string) {
	desiredProcesses.DeleteLabelValues(job)
	runningProcesses.DeleteLabelValues(job)
	terminatingProcesses.DeleteLabelValues(job)
}

// RecordExit counts a worker exit. Safe to call from any goroutine.
func RecordExit(job string, exitCode int) {
	workerExits.WithLabelValues(job, strconv.Itoa(exitCode)).Inc()
}

// Watch updates the counters from job events until the returned func is called.
func Watch(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(func(e events.ProcessStartedEvent) {
			processesStarted.WithLabelValues(e.JobID).Inc()
		}),
		bus.Subscribe(func(e events.ProcessLostEvent) {
			processesLost.WithLabelValues(e.JobID).Inc()
		}),
		bus.Subscribe(func(e events.ProcessStoppedEvent) {
			processesStopped.WithLabelValues(e.JobID, strconv.FormatBool(e.Escalated)).Inc()
			terminationSeconds.WithLabelValues(e.JobID).Observe(e.Duration)
		}),
		bus.Subscribe(func(e events.TriggerFiredEvent) {
			triggersFired.WithLabelValues(e.JobID).Inc()
		}),
		bus.Subscribe(func(events.JobsReloadedEvent) {
			reloads.Inc()
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
