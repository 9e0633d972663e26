package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"taskplan/internal/config"
	"taskplan/internal/eventbus"
	"taskplan/internal/observability/pprof"
	"taskplan/internal/planner"
	"taskplan/internal/runtime/supervisor"
	"taskplan/internal/storage"
	logx "taskplan/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	out   io.Writer
	bus   eventbus.Bus
	store storage.Store

	planner *planner.Service
	recon   *planner.Reconciler
	debug   *pprof.Service
}

type Option func(*options)

type options struct {
	logLevel  string
	logOutput io.Writer
}

// WithLogLevel overrides logging.level from the config file.
func WithLogLevel(level string) Option { return func(o *options) { o.logLevel = level } }

// WithLogOutput sends console logs to w instead of stdout.
func WithLogOutput(w io.Writer) Option { return func(o *options) { o.logOutput = w } }

// NewApp loads the config (defaults when the file does not exist), sets up
// logging and opens the store. Nothing runs in the background until Start.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.LoadOrDefault()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	logSvc, log := logx.New(mapLogConfig(cfg, o.logOutput))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	rc, err := mapReconcileConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	dc, err := mapDebugConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	svc := planner.New(store,
		planner.WithBus(bus),
		planner.WithLogger(log.With(logx.String("comp", "planner"))),
	)
	recon := planner.NewReconciler(svc, rc, log.With(logx.String("comp", "reconcile")))

	log.Debug("app initialized",
		logx.String("config", cfgPath),
		logx.String("storage.driver", sc.Driver),
		logx.Bool("reconcile.enabled", rc.Enabled),
	)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		out:     o.logOutput,
		bus:     bus,
		store:   store,
		planner: svc,
		recon:   recon,
	}
	if dc.Enabled {
		a.debug = pprof.New(dc, a.status, log.With(logx.String("comp", "debug")))
	}
	return a, nil
}

func (a *App) Planner() *planner.Service { return a.planner }

func (a *App) Reconciler() *planner.Reconciler { return a.recon }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the long-lived parts: reconcile cron, config hot reload, event
// logging and systemd notification.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if err := config.Validate(c); err != nil {
			return err
		}
		if _, err := mapStorageConfig(c); err != nil {
			return err
		}
		if _, err := mapDebugConfig(c); err != nil {
			return err
		}
		_, err := mapReconcileConfig(c)
		return err
	})

	if err := a.recon.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", eventFields(e)...)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	// The directory is watched, so a config file created later is picked up.
	if _, err := os.Stat(filepath.Dir(a.cfgm.Path())); err == nil {
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	if a.debug != nil {
		// The debug server is optional; its failure never stops the app.
		a.sup.Go0("debug.http", func(c context.Context) {
			if err := a.debug.Run(c); err != nil {
				a.log.Warn("debug server disabled", logx.Err(err))
			}
		})
	}

	if cfg.Systemd.Notify {
		a.notifySystemd()
	}

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if slices.Contains(sections, "debug") {
		a.log.Warn("debug config changed; restart required for changes to take effect")
	}
	a.logs.Apply(mapLogConfig(newCfg, a.out))

	rc, err := mapReconcileConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid reconcile config; keeping previous", logx.Err(err))
	} else if err := a.recon.Apply(rc); err != nil {
		a.log.Warn("reconcile reconfigure failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// notifySystemd reports readiness and, when the unit sets WatchdogSec,
// keeps the watchdog fed. Outside systemd both calls are no-ops.
func (a *App) notifySystemd() {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
		return
	}
	if !sent {
		a.log.Debug("systemd notify socket not set")
		return
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

// Stop cancels background work, waits for it within ctx and closes the
// store and log sinks.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping")
	if a.cfgm.Get().Systemd.Notify {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	}

	a.sup.Cancel()
	a.recon.Stop(ctx)
	if err := a.sup.Wait(ctx); err != nil {
		a.log.Warn("supervisor stop", logx.Err(err))
	}
	return a.Close()
}

// Close releases the store and log sinks without touching background work.
// One-shot commands that never call Start use it directly.
func (a *App) Close() error {
	err := a.store.Close()
	if cerr := a.logs.Close(); err == nil {
		err = cerr
	}
	return err
}

// Status is the JSON body of the debug status endpoint.
type Status struct {
	Projects      int             `json:"projects"`
	Goroutines    []string        `json:"goroutines"`
	EventsDropped uint64          `json:"events_dropped"`
	LastSweep     *planner.Report `json:"last_sweep,omitempty"`
	LastSweepAt   time.Time       `json:"last_sweep_at,omitzero"`
}

func (a *App) status(ctx context.Context) (any, error) {
	projects, err := a.planner.Projects(ctx)
	if err != nil {
		return nil, err
	}
	st := Status{
		Projects:      len(projects),
		EventsDropped: a.bus.Dropped(),
	}
	if a.sup != nil {
		st.Goroutines = a.sup.Running()
	}
	if rep, at := a.recon.LastReport(); !at.IsZero() {
		st.LastSweep, st.LastSweepAt = &rep, at
	}
	return st, nil
}

func eventFields(e eventbus.Event) []logx.Field {
	f := []logx.Field{logx.String("type", e.Type)}
	switch d := e.Data.(type) {
	case eventbus.ScheduleUpdated:
		f = append(f,
			logx.String("project_id", d.ProjectID),
			logx.Date("end_date", d.EndDate),
			logx.Int("duration", d.Duration),
			logx.Strings("critical", d.Critical),
		)
	case eventbus.TaskChanged:
		f = append(f, logx.String("project_id", d.ProjectID), logx.String("task_id", d.TaskID))
	case eventbus.DependencyChanged:
		f = append(f,
			logx.String("project_id", d.ProjectID),
			logx.String("task_id", d.TaskID),
			logx.String("dependency_id", d.DependencyID),
		)
	case eventbus.ProjectChanged:
		f = append(f, logx.String("project_id", d.ProjectID))
	}
	return f
}
