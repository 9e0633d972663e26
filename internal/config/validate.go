package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "taskplan/pkg/logx"
)

// CronParser accepts 5-field and 6-field (with seconds) specs plus descriptors.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// applyDefaults fills omitted fields in place.
func applyDefaults(cfg *Config) {
	if cfg.Storage == nil {
		cfg.Storage = &StorageConfig{}
	}
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = DefaultStorageDriver
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" && !strings.EqualFold(cfg.Storage.Driver, "memory") {
		cfg.Storage.Path = DefaultStoragePath
	}
	if strings.TrimSpace(cfg.Reconcile.Schedule) == "" {
		cfg.Reconcile.Schedule = DefaultReconcileSchedule
	}
	if cfg.Reconcile.RatePerSec == 0 {
		cfg.Reconcile.RatePerSec = DefaultReconcileRate
	}
}

// Validate checks a parsed config. It is used both at startup and as the
// hot-reload gate, so a bad edit never replaces a working config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "file", "memory", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
		if cfg.Storage.CompactEvery < 0 {
			return fmt.Errorf("storage.compact_every must be >= 0")
		}
	}
	if cfg.Reconcile.RatePerSec < 0 {
		return fmt.Errorf("reconcile.rate_per_sec must be >= 0")
	}
	if _, err := ParseDurationField("reconcile.timeout", cfg.Reconcile.Timeout); err != nil {
		return err
	}
	if spec := strings.TrimSpace(cfg.Reconcile.Schedule); spec != "" {
		if _, err := CronParser.Parse(spec); err != nil {
			return fmt.Errorf("reconcile.schedule: invalid %q: %w", spec, err)
		}
	}
	if tz := strings.TrimSpace(cfg.Reconcile.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("reconcile.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}
