package planner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"taskplan/internal/config"
	"taskplan/internal/schedule"
	logx "taskplan/pkg/logx"
)

const (
	defaultSweepSchedule = "@every 10m"
	defaultSweepRate     = 20
	defaultSweepTimeout  = 30 * time.Second
)

// ReconcileConfig controls the periodic sweep.
type ReconcileConfig struct {
	Enabled  bool
	Schedule string // cron spec, seconds optional, descriptors allowed
	Timezone string
	OnStart  bool
	// RatePerSec caps how many projects are recomputed per second.
	RatePerSec int
	// Timeout bounds the recompute of a single project.
	Timeout time.Duration
}

// Report summarizes one sweep.
type Report struct {
	Projects int `json:"projects"`
	Updated  int `json:"updated"`
	// Cycles lists projects whose stored dependencies are circular. They are
	// reported and left untouched.
	Cycles []string      `json:"cycles,omitempty"`
	Failed int           `json:"failed"`
	Took   time.Duration `json:"took_ns"`
}

// ErrSweepRunning is returned when a sweep is requested while one runs.
var ErrSweepRunning = errors.New("sweep already running")

// Reconciler periodically recomputes every project from its stored tasks,
// repairing derived dates that drifted (for example after an import or a
// crash between writes of an older version).
type Reconciler struct {
	svc *Service
	log logx.Logger

	parser cron.Parser

	mu  sync.Mutex
	cfg ReconcileConfig
	c   *cron.Cron
	ctx context.Context

	running atomic.Bool

	lastMu sync.Mutex
	last   Report
	lastAt time.Time
}

func NewReconciler(svc *Service, cfg ReconcileConfig, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{
		svc:    svc,
		log:    log,
		cfg:    cfg,
		parser: config.CronParser,
	}
}

// Start begins cron triggering if enabled and runs one sweep right away when
// OnStart is set. ctx bounds every sweep started by the reconciler.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	r.ctx = ctx
	cfg := r.cfg
	err := r.startLocked()
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if cfg.Enabled && cfg.OnStart {
		go r.trigger("start")
	}
	return nil
}

// Apply swaps the config, restarting the cron when schedule, timezone or
// the enabled flag changed.
func (r *Reconciler) Apply(cfg ReconcileConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.cfg
	r.cfg = cfg
	if r.ctx == nil {
		return nil
	}
	if old.Enabled == cfg.Enabled &&
		strings.TrimSpace(old.Schedule) == strings.TrimSpace(cfg.Schedule) &&
		strings.TrimSpace(old.Timezone) == strings.TrimSpace(cfg.Timezone) {
		return nil
	}
	r.stopLocked()
	return r.startLocked()
}

func (r *Reconciler) startLocked() error {
	cfg := r.cfg
	if !cfg.Enabled {
		r.log.Debug("reconcile disabled")
		return nil
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return err
		}
		loc = l
	}
	spec := strings.TrimSpace(cfg.Schedule)
	if spec == "" {
		spec = defaultSweepSchedule
	}
	c := cron.New(cron.WithParser(r.parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() { r.trigger("cron") }); err != nil {
		return err
	}
	c.Start()
	r.c = c
	r.log.Info("reconcile scheduled", logx.String("schedule", spec), logx.String("tz", loc.String()))
	return nil
}

func (r *Reconciler) stopLocked() {
	if r.c == nil {
		return
	}
	// Running sweeps notice cancellation through r.ctx; don't wait here.
	r.c.Stop()
	r.c = nil
}

// Stop stops triggering and waits for a running cron job, bounded by ctx.
func (r *Reconciler) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (r *Reconciler) trigger(reason string) {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	rep, err := r.Sweep(ctx)
	if errors.Is(err, ErrSweepRunning) {
		r.log.Debug("sweep skipped; previous still running", logx.String("reason", reason))
		return
	}
	if err != nil {
		r.log.Warn("sweep failed", logx.String("reason", reason), logx.Err(err))
		return
	}
	r.log.Info("sweep finished",
		logx.String("reason", reason),
		logx.Int("projects", rep.Projects),
		logx.Int("updated", rep.Updated),
		logx.Int("cycles", len(rep.Cycles)),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Took),
	)
}

// Sweep recomputes every project once, paced by RatePerSec.
func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Report{}, ErrSweepRunning
	}
	defer r.running.Store(false)

	r.mu.Lock()
	cfg := r.cfg
	r.mu.Unlock()

	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = defaultSweepRate
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSweepTimeout
	}
	limiter := rate.NewLimiter(rate.Limit(rps), rps)

	start := time.Now()
	projects, err := r.svc.Projects(ctx)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Projects: len(projects)}
	for _, p := range projects {
		if err := limiter.Wait(ctx); err != nil {
			return rep, err
		}
		pctx, cancel := context.WithTimeout(ctx, timeout)
		_, written, err := r.svc.recompute(pctx, p.ID)
		cancel()
		switch {
		case err == nil:
			if written {
				rep.Updated++
			}
		case errors.Is(err, schedule.ErrCycleDetected):
			rep.Cycles = append(rep.Cycles, p.ID)
			r.log.Warn("stored dependencies are circular", logx.String("project_id", p.ID), logx.Err(err))
		case errors.Is(err, schedule.ErrProjectNotFound):
			// deleted during the sweep
		case ctx.Err() != nil:
			return rep, ctx.Err()
		default:
			rep.Failed++
			r.log.Warn("project recompute failed", logx.String("project_id", p.ID), logx.Err(err))
		}
	}
	rep.Took = time.Since(start)
	r.lastMu.Lock()
	r.last, r.lastAt = rep, time.Now()
	r.lastMu.Unlock()
	return rep, nil
}

// LastReport returns the report of the last completed sweep and when it
// finished. The time is zero when no sweep has completed yet.
func (r *Reconciler) LastReport() (Report, time.Time) {
	r.lastMu.Lock()
	defer r.lastMu.Unlock()
	return r.last, r.lastAt
}
