package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage selects where projects and tasks live. If omitted, a file
	// store at ./taskplan.db is used.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Reconcile controls the periodic full recompute of every project's
	// schedule.
	Reconcile ReconcileConfig `json:"reconcile"`

	Systemd SystemdConfig `json:"systemd,omitempty"`

	// Debug serves health, status and pprof endpoints while running as a
	// service. Off by default.
	Debug DebugConfig `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./taskplan.sqlite", "busy_timeout": "2s" }
//
// Driver values: "file" (JSON snapshot + journal), "sqlite", "memory".
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// CompactEvery is the number of journal records between snapshots (file).
	CompactEvery int `json:"compact_every,omitempty"`
}

// ReconcileConfig controls the reconciliation sweep.
//
// Schedules use cron syntax with optional seconds, or descriptors such as
// "@every 10m" and "@hourly".
//
// Defaults (when fields are omitted/zero):
//   - schedule: "@every 10m"
//   - rate_per_sec: 20
//   - timeout: "30s" per project
type ReconcileConfig struct {
	Enabled    bool   `json:"enabled"`
	Schedule   string `json:"schedule,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	OnStart    bool   `json:"on_start,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

// SystemdConfig controls sd_notify integration when running under systemd.
// Outside of systemd (no NOTIFY_SOCKET) it is a no-op.
type SystemdConfig struct {
	Notify bool `json:"notify,omitempty"`
}

// DebugConfig controls the debug HTTP server.
//
// Binding to a non-loopback address requires a token or allow_insecure.
// Requests authenticate with "Authorization: Bearer <token>" or ?token=.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

const (
	DefaultDebugAddr     = "127.0.0.1:6060"
	DefaultStorageDriver     = "file"
	DefaultStoragePath       = "./taskplan.db"
	DefaultReconcileSchedule = "@every 10m"
	DefaultReconcileRate     = 20
)

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: &StorageConfig{Driver: DefaultStorageDriver, Path: DefaultStoragePath},
		Reconcile: ReconcileConfig{
			Schedule:   DefaultReconcileSchedule,
			RatePerSec: DefaultReconcileRate,
		},
	}
}
