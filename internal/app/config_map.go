package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"taskplan/internal/config"
	"taskplan/internal/observability/pprof"
	"taskplan/internal/planner"
	"taskplan/internal/storage"
	logx "taskplan/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	if sc == nil {
		sc = &config.StorageConfig{}
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = config.DefaultStorageDriver
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "memory":
		return storage.Config{Driver: driver}, nil
	case "file":
		if path == "" {
			path = config.DefaultStoragePath
		}
		return storage.Config{Driver: driver, Path: path, CompactEvery: sc.CompactEvery}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapReconcileConfig(cfg *config.Config) (planner.ReconcileConfig, error) {
	rc := cfg.Reconcile
	timeout, err := config.ParseDurationOrDefault("reconcile.timeout", rc.Timeout, 30*time.Second)
	if err != nil {
		return planner.ReconcileConfig{}, err
	}
	return planner.ReconcileConfig{
		Enabled:    rc.Enabled,
		Schedule:   strings.TrimSpace(rc.Schedule),
		Timezone:   strings.TrimSpace(rc.Timezone),
		OnStart:    rc.OnStart,
		RatePerSec: rc.RatePerSec,
		Timeout:    timeout,
	}, nil
}

func mapLogConfig(cfg *config.Config, out io.Writer) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Output: out,
	}
}

// mapDebugConfig validates and converts the debug section. It never starts
// the server.
func mapDebugConfig(cfg *config.Config) (pprof.Config, error) {
	dc := cfg.Debug
	out := pprof.Config{
		Enabled:       dc.Enabled,
		Addr:          strings.TrimSpace(dc.Addr),
		Token:         strings.TrimSpace(dc.Token),
		AllowInsecure: dc.AllowInsecure,
	}
	if out.Addr == "" {
		out.Addr = config.DefaultDebugAddr
	}
	readTO, err := config.ParseDurationOrDefault("debug.read_timeout", dc.ReadTimeout, 5*time.Second)
	if err != nil {
		return out, err
	}
	idleTO, err := config.ParseDurationOrDefault("debug.idle_timeout", dc.IdleTimeout, 120*time.Second)
	if err != nil {
		return out, err
	}
	out.ReadTimeout = readTO
	out.IdleTimeout = idleTO
	return out, out.Check()
}
