// Package logging provides structured logging with per-module log level configuration.
//
// # Overview
//
// Loggers are slog loggers tagged with a module attribute. Output goes to:
//   - the systemd journal when journald is reachable
//   - stdout when a terminal, pipe, or file is connected
//   - an in-memory ring buffer of recent entries, served by the HTTP API
//
// # Usage
//
// Initialize once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"jobs":    "debug",
//			"workers": "warn",
//		},
//	})
//
// Then get a logger per module:
//
//	logger := logging.GetLogger("jobs").With("job", id)
//	logger.Info("Process started", "pid", pid)
//
// Loggers obtained before Initialize keep working; their levels are
// updated in place.
//
// # Modules
//
//	daemon   - supervisor loop, reloads, persistence
//	jobs     - per-job reconciliation and triggers
//	workers  - stdout and stderr of supervised processes
//	config   - config and jobs file loading
//	api      - HTTP server
//	http     - one line per HTTP request
//	nats     - embedded NATS server and bridge
//
// # Viewing Logs
//
//	journalctl -t spagmon -f
//	journalctl -t spagmon MODULE=jobs JOB=web
//	journalctl -t spagmon -p err --since "10m"
//
// # Configuration
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	jobs = "debug"
package logging
