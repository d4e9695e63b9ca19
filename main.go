package main

import (
	"os"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/spagmon/cmd"
	"github.com/smazurov/spagmon/internal/config"
	"github.com/smazurov/spagmon/internal/logging"
	"github.com/smazurov/spagmon/internal/metrics"
	"github.com/smazurov/spagmon/internal/supervisor"
	"github.com/smazurov/spagmon/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port       string `help:"Address to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`
	CorsOrigin string `help:"Allowed CORS origin" default:"*" toml:"server.cors_origin" env:"SERVER_CORS_ORIGIN"`

	// Supervisor settings
	JobsFile        string        `help:"Job definitions file" default:"jobs.toml" toml:"jobs.file" env:"JOBS_FILE"`
	StateFile       string        `help:"Persisted job state file" default:"state.toml" toml:"jobs.state_file" env:"JOBS_STATE_FILE"`
	BeatInterval    time.Duration `help:"How often jobs are reconciled" default:"5s" toml:"jobs.beat_interval" env:"JOBS_BEAT_INTERVAL"`
	ShutdownTimeout time.Duration `help:"How long shutdown waits for processes to exit" default:"60s" toml:"jobs.shutdown_timeout" env:"JOBS_SHUTDOWN_TIMEOUT"`

	// Auth settings
	AuthUsername string `help:"Basic auth username, auth is off when empty" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Feature settings
	MetricsEnabled   bool   `help:"Serve Prometheus metrics on /metrics" default:"true" toml:"features.metrics" env:"FEATURES_METRICS"`
	UpdateEnabled    bool   `help:"Enable self-update endpoints" default:"true" toml:"update.enabled" env:"UPDATE_ENABLED"`
	UpdateRepository string `help:"GitHub repository for updates" default:"smazurov/spagmon" toml:"update.repository" env:"UPDATE_REPOSITORY"`
	UpdatePrerelease bool   `help:"Include prereleases in updates" default:"false" toml:"update.prerelease" env:"UPDATE_PRERELEASE"`

	// NATS settings
	NatsEnabled bool   `help:"Run an embedded NATS server for events and control" default:"false" toml:"nats.enabled" env:"NATS_ENABLED"`
	NatsHost    string `help:"NATS listen host" default:"127.0.0.1" toml:"nats.host" env:"NATS_HOST"`
	NatsPort    int    `help:"NATS listen port" default:"4222" toml:"nats.port" env:"NATS_PORT"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingDaemon  string `help:"Supervisor loop logging level" default:"info" toml:"logging.daemon" env:"LOGGING_DAEMON"`
	LoggingJobs    string `help:"Job reconciliation logging level" default:"info" toml:"logging.jobs" env:"LOGGING_JOBS"`
	LoggingWorkers string `help:"Worker output logging level" default:"info" toml:"logging.workers" env:"LOGGING_WORKERS"`
	LoggingConfig  string `help:"Config loading logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
	LoggingAPI     string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP    string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingNats    string `help:"NATS bridge logging level" default:"info" toml:"logging.nats" env:"LOGGING_NATS"`
}

// loadDescriptions reads the jobs file and builds a description per job.
func loadDescriptions(path string) ([]supervisor.Description, error) {
	specs, err := config.LoadJobs(path)
	if err != nil {
		return nil, err
	}
	onExit := func(jobID, _ string, _, exitCode int) {
		metrics.RecordExit(jobID, exitCode)
	}
	descs := make([]supervisor.Description, 0, len(specs))
	for _, spec := range specs {
		desc, err := spec.Description(onExit)
		if err != nil {
			return nil, err
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			logging.GetLogger("main").Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"daemon":  opts.LoggingDaemon,
				"jobs":    opts.LoggingJobs,
				"workers": opts.LoggingWorkers,
				"config":  opts.LoggingConfig,
				"api":     opts.LoggingAPI,
				"http":    opts.LoggingHTTP,
				"nats":    opts.LoggingNats,
			},
		})
		logger := logging.GetLogger("main")

		// This callback also runs for client subcommands, so the
		// supervisor is only built once the root command starts.
		var (
			mu      sync.Mutex
			running *app
		)

		hooks.OnStart(func() {
			logger.Info("Starting spagmon", "version", version.Long(), "jobs_file", opts.JobsFile)
			a, err := newApp(opts, logger)
			if err != nil {
				logger.Error("Failed to start supervisor", "error", err)
				os.Exit(1)
			}
			mu.Lock()
			running = a
			mu.Unlock()

			if err := a.run(); err != nil {
				logger.Error("Failed to start HTTP server", "error", err)
				a.shutdown()
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			mu.Lock()
			a := running
			mu.Unlock()
			if a == nil {
				return
			}
			logger.Info("Shutting down")
			a.shutdown()
		})
	})

	cli.Root().Use = "spagmon"
	cli.Root().Short = "Single-host process pool supervisor"
	cli.Root().Version = version.Long()

	cli.Root().AddCommand(
		cmd.CreateJobCmd(),
		cmd.CreateJobsCmd(),
		cmd.CreatePsCmd(),
		cmd.CreateRestartCmd(),
		cmd.CreateValidateCmd(),
		cmd.CreateUpdateCmd(),
		cmd.CreateLogsCmd(),
		cmd.CreateWatchCmd(),
	)

	cli.Run()
}
