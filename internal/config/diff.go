package config

import (
	"sort"
	"strings"

	logx "taskplan/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) structured attrs describing the new values, suitable for one log line.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.json", newCfg.Logging.JSON),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage. Nil means defaults; the driver cannot be swapped live, but the
	// change is still reported so the operator sees a restart is needed.
	oS := derefStorage(oldCfg.Storage)
	nS := derefStorage(newCfg.Storage)
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nS.Driver),
			logx.Bool("storage.path_set", nS.Path != ""),
			logx.String("storage.busy_timeout", nS.BusyTimeout),
		)
	}

	// Reconcile
	if normReconcile(oldCfg.Reconcile) != normReconcile(newCfg.Reconcile) {
		changed = append(changed, "reconcile")
		r := newCfg.Reconcile
		attrs = append(attrs,
			logx.Bool("reconcile.enabled", r.Enabled),
			logx.String("reconcile.schedule", strings.TrimSpace(r.Schedule)),
			logx.String("reconcile.timezone", strings.TrimSpace(r.Timezone)),
			logx.Int("reconcile.rate_per_sec", r.RatePerSec),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return StorageConfig{
		Driver:       strings.ToLower(strings.TrimSpace(s.Driver)),
		Path:         strings.TrimSpace(s.Path),
		BusyTimeout:  strings.TrimSpace(s.BusyTimeout),
		CompactEvery: s.CompactEvery,
	}
}

func normReconcile(r ReconcileConfig) ReconcileConfig {
	r.Schedule = strings.TrimSpace(r.Schedule)
	r.Timezone = strings.TrimSpace(r.Timezone)
	r.Timeout = strings.TrimSpace(r.Timeout)
	return r
}
