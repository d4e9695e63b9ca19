package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/spagmon/internal/api"
	"github.com/smazurov/spagmon/internal/config"
	"github.com/smazurov/spagmon/internal/daemon"
	"github.com/smazurov/spagmon/internal/events"
	"github.com/smazurov/spagmon/internal/logging"
	"github.com/smazurov/spagmon/internal/metrics"
	"github.com/smazurov/spagmon/internal/nats"
	"github.com/smazurov/spagmon/internal/state"
	"github.com/smazurov/spagmon/internal/supervisor"
	"github.com/smazurov/spagmon/internal/systemd"
	"github.com/smazurov/spagmon/internal/updater"
)

// app is a running supervisor with everything attached to it.
type app struct {
	opts   *Options
	logger *slog.Logger

	bus        *events.Bus
	daemon     *daemon.Daemon
	watcher    *config.Watcher[[]supervisor.Description]
	notifier   *systemd.Notifier
	server     *api.Server
	natsServer *nats.Server
	natsBridge *nats.Bridge
	jobs       int

	stopLogs    func()
	stopMetrics func()

	runCtx    context.Context
	cancelRun context.CancelFunc
	runDone   chan struct{}
	stopOnce  sync.Once
}

func newApp(opts *Options, logger *slog.Logger) (*app, error) {
	descs, err := loadDescriptions(opts.JobsFile)
	if err != nil {
		return nil, err
	}

	bus := events.New()
	a := &app{
		opts:        opts,
		logger:      logger,
		bus:         bus,
		notifier:    systemd.NewNotifier(),
		jobs:        len(descs),
		stopLogs:    events.ForwardLogs(bus),
		stopMetrics: metrics.Watch(bus),
		runDone:     make(chan struct{}),
	}
	a.runCtx, a.cancelRun = context.WithCancel(context.Background())

	a.daemon, err = daemon.New(daemon.Options{
		Events:       bus,
		Store:        state.NewStore(opts.StateFile),
		BeatInterval: opts.BeatInterval,
		Jobs:         descs,
	})
	if err != nil {
		a.stopLogs()
		a.stopMetrics()
		return nil, err
	}

	a.watcher = config.NewConfigWatcher(opts.JobsFile, loadDescriptions, logging.GetLogger("config"))
	a.watcher.OnReload(a.applyJobs)

	apiOpts := &api.Options{
		AuthUsername: opts.AuthUsername,
		AuthPassword: opts.AuthPassword,
		Supervisor:   a.daemon,
		Events:       bus,
		CORSOrigin:   opts.CorsOrigin,
	}
	if opts.MetricsEnabled {
		apiOpts.MetricsHandler = metrics.Handler()
	}
	if opts.UpdateEnabled {
		svc, updErr := updater.NewService(&updater.Options{
			Repository: opts.UpdateRepository,
			Prerelease: opts.UpdatePrerelease,
			// SIGTERM runs the stop hook; the service manager starts the new binary.
			Restart: func() { _ = syscall.Kill(os.Getpid(), syscall.SIGTERM) },
		})
		if updErr != nil {
			logger.Warn("Failed to create update service", "error", updErr)
		} else {
			apiOpts.UpdateService = svc
		}
	}
	a.server = api.NewServer(apiOpts)

	if opts.NatsEnabled {
		natsLogger := logging.GetLogger("nats")
		a.natsServer = nats.NewServer(nats.ServerOptions{
			Host:   opts.NatsHost,
			Port:   opts.NatsPort,
			Logger: natsLogger,
		})
	}

	return a, nil
}

// applyJobs installs a reloaded jobs file.
func (a *app) applyJobs(descs []supervisor.Description) {
	a.notifier.Reloading()
	ctx, cancel := context.WithTimeout(a.runCtx, 30*time.Second)
	defer cancel()
	if err := a.daemon.Apply(ctx, descs); err != nil {
		a.logger.Error("Failed to apply jobs file", "error", err)
	} else {
		a.jobs = len(descs)
	}
	a.notifier.Ready(a.jobs)
}

// run starts the loop and every surface, then serves HTTP until shutdown.
func (a *app) run() error {
	jobs := a.jobs

	go func() {
		defer close(a.runDone)
		if err := a.daemon.Run(a.runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("Supervisor loop exited", "error", err)
		}
	}()

	if err := a.watcher.Start(); err != nil {
		a.logger.Warn("Jobs file will not be reloaded automatically", "error", err)
	}
	go a.handleHangup()

	if a.natsServer != nil {
		a.startNATS()
	}

	a.notifier.Ready(jobs)
	go a.notifier.Watchdog(a.runCtx, a.alive)

	if err := a.server.Start(a.opts.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *app) startNATS() {
	if err := a.natsServer.Start(); err != nil {
		a.logger.Error("Failed to start NATS server", "error", err)
		a.natsServer = nil
		return
	}
	bridge := nats.NewBridge(a.natsServer.ClientURL(), a.bus, a.daemon, logging.GetLogger("nats"))
	if err := bridge.Start(); err != nil {
		a.logger.Error("Failed to start NATS bridge", "error", err)
		return
	}
	a.natsBridge = bridge
}

// handleHangup reloads the jobs file on SIGHUP.
func (a *app) handleHangup() {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-a.runCtx.Done():
			return
		case <-hup:
			a.logger.Info("SIGHUP received, reloading jobs file")
			a.watcher.Reload()
		}
	}
}

// alive reports whether the loop still answers requests.
func (a *app) alive() bool {
	ctx, cancel := context.WithTimeout(a.runCtx, 2*time.Second)
	defer cancel()
	return a.daemon.Do(ctx, func() error { return nil }) == nil
}

// shutdown stops every surface, then every supervised process.
func (a *app) shutdown() {
	a.stopOnce.Do(func() {
		a.notifier.Stopping()
		if err := a.server.Stop(); err != nil {
			a.logger.Error("Error stopping HTTP server", "error", err)
		}
		if a.natsBridge != nil {
			a.natsBridge.Stop()
		}
		if a.natsServer != nil {
			a.natsServer.Stop()
		}
		if err := a.watcher.Stop(); err != nil {
			a.logger.Warn("Error stopping jobs file watcher", "error", err)
		}

		a.logger.Info("Stopping supervised processes", "timeout", a.opts.ShutdownTimeout)
		ctx, cancel := context.WithTimeout(context.Background(), a.opts.ShutdownTimeout)
		defer cancel()
		if err := a.daemon.Shutdown(ctx); err != nil {
			a.logger.Error("Supervisor shutdown incomplete", "error", err)
		}
		a.cancelRun()
		<-a.runDone

		a.stopMetrics()
		a.stopLogs()
	})
}
