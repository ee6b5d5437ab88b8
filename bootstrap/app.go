package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bastion/api"
	"bastion/config"
	"bastion/core"
	"bastion/firewall"
	"bastion/honeypot"
	"bastion/integrity"
	"bastion/monitor"
	"bastion/threat"
	"bastion/updater"
	"bastion/util/goroutine"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	poolMetricsInterval = 15 * time.Second
	stopEventTimeout    = 5 * time.Second
)

// ErrShutdownTimeout is returned by Run when tasks outlive the shutdown timeout
var ErrShutdownTimeout = errors.New("shutdown timed out")

// App wires the event store to every module and supervises their loops.
// Modules are constructed in NewApp; nothing touches the host until Run.
type App struct {
	Config *config.Config
	Sugar  *zap.SugaredLogger
	Store  core.EventStore
	RunID  string

	Firewall  *firewall.Engine
	Integrity *integrity.Monitor
	Honeypot  *honeypot.Server
	Threat    *threat.Engine
	Monitor   *monitor.Engine
	Updater   *updater.Updater
	APIServer *api.API
}

type appOptions struct {
	runner  firewall.Runner
	probe   monitor.Probe
	version string
}

// Option customises NewApp
type Option func(*appOptions)

// WithFirewallRunner replaces the packet-filter command runner
func WithFirewallRunner(r firewall.Runner) Option {
	return func(o *appOptions) { o.runner = r }
}

// WithProbe replaces the host probe used by the resource monitor
func WithProbe(p monitor.Probe) Option {
	return func(o *appOptions) { o.probe = p }
}

// WithVersion sets the running version reported to the updater
func WithVersion(v string) Option {
	return func(o *appOptions) { o.version = v }
}

// NewApp builds every enabled module around store
func NewApp(cfg *config.Config, store core.EventStore, sugar *zap.SugaredLogger, opts ...Option) (*App, error) {
	o := appOptions{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	runID := uuid.NewString()
	app := &App{
		Config: cfg,
		Sugar:  sugar.With("run_id", runID),
		Store:  store,
		RunID:  runID,
	}
	mods := cfg.Modules

	if mods.Firewall.Enabled {
		runner := o.runner
		if runner == nil {
			runner = firewall.NewExecRunner(mods.Firewall.Adapter)
		}
		app.Firewall = firewall.NewEngine(runner, store, mods.Firewall.BlockPorts, app.Sugar.Named("firewall"))
	}

	if mods.Tripwire.Enabled {
		app.Integrity = integrity.NewMonitor(store, integrity.Config{
			Paths:        mods.Tripwire.Paths,
			ScanInterval: cfg.ScanInterval(),
			Realtime:     mods.Tripwire.Realtime,
		}, app.Sugar.Named("integrity"))
	}

	if mods.Honeypot.Enabled {
		listeners := make([]honeypot.ListenerConfig, 0, len(mods.Honeypot.Listeners))
		for _, l := range mods.Honeypot.Listeners {
			listeners = append(listeners, honeypot.ListenerConfig{Port: l.Port, Protocol: l.Protocol, Handler: l.Handler})
		}
		hp, err := honeypot.NewServer(store, honeypot.Config{
			BindHost:      mods.Honeypot.BindHost,
			Listeners:     listeners,
			ReadTimeout:   cfg.HoneypotReadTimeout(),
			RatePerSecond: mods.Honeypot.RateLimitPerSecond,
			Burst:         mods.Honeypot.RateLimitBurst,
		}, app.Sugar.Named("honeypot"))
		if err != nil {
			return nil, fmt.Errorf("failed to create honeypot: %w", err)
		}
		app.Honeypot = hp
	}

	threatOpts := []threat.Option{}
	if app.Firewall != nil {
		threatOpts = append(threatOpts, threat.WithAfterUpdate(app.resyncFirewall))
	}
	app.Threat = threat.NewEngine(store, threat.Config{
		URLs:           mods.ThreatIntel.URLs,
		UpdateInterval: cfg.FeedInterval(),
		RequestTimeout: cfg.FeedTimeout(),
		RetryMax:       mods.ThreatIntel.RetryMax,
	}, app.Sugar.Named("threat"), threatOpts...)

	if mods.Monitoring.Enabled {
		probe := o.probe
		if probe == nil {
			probe = monitor.NewHostProbe()
		}
		mon, err := monitor.NewEngine(store, probe, monitor.Config{
			PollInterval:    cfg.PollInterval(),
			SuspiciousPorts: mods.Monitoring.SuspiciousPorts,
			ProcessPatterns: mods.Monitoring.ProcessPatterns,
			CPUThreshold:    mods.Monitoring.CPUThreshold,
			MemoryThreshold: mods.Monitoring.MemoryThreshold,
		}, app.Sugar.Named("monitor"))
		if err != nil {
			return nil, fmt.Errorf("failed to create resource monitor: %w", err)
		}
		app.Monitor = mon
	}

	if mods.AutoUpdate.Enabled {
		app.Updater = updater.New(store, updater.Config{
			Interval:       cfg.UpdateInterval(),
			ManifestURL:    mods.AutoUpdate.ManifestURL,
			CurrentVersion: o.version,
		}, app.Sugar.Named("updater"))
	}

	if cfg.API.Enabled {
		app.APIServer = api.NewAPI(store, cfg.API.ListenAddr, runID, app.Sugar.Named("api"))
	}

	return app, nil
}

// Run records SYSTEM_START, brings the modules up in order and supervises
// their loops until ctx is cancelled or a task hits a store failure, which
// cancels the others. On the way out it waits up to the shutdown timeout
// and records SYSTEM_STOP.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config
	a.Sugar.Infow("Bastion starting", "defense_mode", cfg.DefenseMode, "intelligence_profile", cfg.IntelligenceProfile)

	if err := a.Store.RecordSystemEvent(ctx, core.EventSystemStart,
		fmt.Sprintf("Bastion online (%s/%s)", cfg.DefenseMode, cfg.IntelligenceProfile), core.SeverityInfo); err != nil {
		return fmt.Errorf("failed to record startup: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if mc, ok := a.Store.(interface {
		StartMetricsCollection(context.Context, time.Duration)
	}); ok {
		mc.StartMetricsCollection(gctx, poolMetricsInterval)
	}

	if err := a.startModules(gctx, g); err != nil {
		cancel()
		_ = g.Wait()
		a.recordStop(ctx, err)
		return err
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	<-gctx.Done()
	cancel()

	runErr := a.awaitTasks(ctx, done, cfg.ShutdownTimeout())
	if runErr == nil && ctx.Err() == nil {
		// every task ended on its own; stay up until interrupted
		<-ctx.Done()
	}

	a.recordStop(ctx, runErr)
	return runErr
}

// awaitTasks waits for the supervised tasks after cancellation. Tasks still
// running after timeout are abandoned; that is only an error when the stop
// was not requested through ctx.
func (a *App) awaitTasks(ctx context.Context, done <-chan error, timeout time.Duration) error {
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
	}
	if ctx.Err() != nil {
		a.Sugar.Warnw("Modules did not stop within the shutdown timeout, exiting anyway", "timeout", timeout)
		return nil
	}
	a.Sugar.Errorw("Modules did not stop within the shutdown timeout", "timeout", timeout)
	return ErrShutdownTimeout
}

// RunUntilSignal runs the app until SIGINT or SIGTERM
func (a *App) RunUntilSignal(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

// Close releases the event store
func (a *App) Close() error {
	return a.Store.Close()
}

// startModules performs the blocking setup steps in order and launches each
// long-running loop in g. Only store failures abort startup.
func (a *App) startModules(ctx context.Context, g *errgroup.Group) error {
	if a.Firewall != nil {
		if err := a.startFirewall(ctx); err != nil {
			return err
		}
	}

	if a.Integrity != nil {
		n, err := a.Integrity.Baseline(ctx)
		if err != nil {
			return fmt.Errorf("integrity baseline failed: %w", err)
		}
		a.Sugar.Infow("Integrity baseline complete", "new_records", n)
		a.goSupervised(ctx, g, "integrity", a.Integrity.Watch)
	}

	if a.Honeypot != nil {
		a.goSupervised(ctx, g, "honeypot", a.Honeypot.Run)
	}

	if a.Config.FeedInterval() > 0 {
		a.goSupervised(ctx, g, "threat-intel", a.Threat.Run)
	} else {
		a.Sugar.Infow("Threat intel loop disabled")
	}

	if a.Monitor != nil {
		a.goSupervised(ctx, g, "monitor", a.Monitor.Run)
	}

	if a.Updater != nil {
		a.goSupervised(ctx, g, "auto-update", a.Updater.Run)
	}

	if a.APIServer != nil {
		a.goSupervised(ctx, g, "api", a.APIServer.Run)
	}
	return nil
}

// startFirewall bootstraps the chain and blocks the stored high-risk
// addresses. A failing packet filter leaves the firewall disabled.
func (a *App) startFirewall(ctx context.Context) error {
	if err := a.Firewall.Bootstrap(ctx); err != nil {
		if errors.Is(err, core.ErrStoreUnavailable) {
			return err
		}
		a.Sugar.Warnw("Firewall unavailable, continuing without it", "error", err)
		a.Firewall = nil
		return nil
	}
	return a.syncFirewall(ctx)
}

func (a *App) syncFirewall(ctx context.Context) error {
	ips, err := a.Store.FetchHighRiskIPs(ctx, a.Config.Modules.Firewall.DropScoreThreshold)
	if err != nil {
		return fmt.Errorf("failed to load high-risk addresses: %w", err)
	}
	_, err = a.Firewall.SyncThreats(ctx, ips)
	return err
}

// resyncFirewall runs after every feed update
func (a *App) resyncFirewall(ctx context.Context, ingested int) {
	if a.Firewall == nil || ingested == 0 {
		return
	}
	if err := a.syncFirewall(ctx); err != nil {
		a.Sugar.Warnw("Firewall resync after feed update failed", "error", err)
	}
}

// goSupervised runs fn in g with panic recovery. Only a store failure is
// returned to the group; any other error ends just that task.
func (a *App) goSupervised(ctx context.Context, g *errgroup.Group, name string, fn func(context.Context) error) {
	g.Go(func() error {
		a.Sugar.Debugw("Task started", "task", name)
		err := goroutine.Guard(name, a.Sugar, func() error { return fn(ctx) })
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			a.Sugar.Debugw("Task stopped", "task", name)
			return nil
		case errors.Is(err, core.ErrStoreUnavailable):
			a.Sugar.Errorw("Task failed", "task", name, "error", err)
			return fmt.Errorf("%s: %w", name, err)
		default:
			a.Sugar.Errorw("Task stopped with error", "task", name, "error", err)
			return nil
		}
	})
}

func (a *App) recordStop(ctx context.Context, runErr error) {
	severity, payload := core.SeverityInfo, "Bastion offline"
	if runErr != nil {
		severity, payload = core.SeverityWarning, fmt.Sprintf("Bastion offline: %v", runErr)
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopEventTimeout)
	defer cancel()
	if err := a.Store.RecordSystemEvent(stopCtx, core.EventSystemStop, payload, severity); err != nil {
		a.Sugar.Errorw("Failed to record shutdown", "error", err)
	}
	a.Sugar.Infow("Bastion stopped", "error", runErr)
}
