package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseFormats(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "json",
			file: "config.json",
			body: `{"logging":{"level":"debug","console":true},"storage":{"driver":"sqlite","path":"x.sqlite","busy_timeout":"2s"},"reconcile":{"enabled":true,"schedule":"@hourly"}}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			body: "logging:\n  level: debug\n  console: true\nstorage:\n  driver: sqlite\n  path: x.sqlite\n  busy_timeout: 2s\nreconcile:\n  enabled: true\n  schedule: \"@hourly\"\n",
		},
		{
			name: "toml",
			file: "config.toml",
			body: "[logging]\nlevel = \"debug\"\nconsole = true\n\n[storage]\ndriver = \"sqlite\"\npath = \"x.sqlite\"\nbusy_timeout = \"2s\"\n\n[reconcile]\nenabled = true\nschedule = \"@hourly\"\n",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewConfigManager(writeConfig(t, tt.file, tt.body))
			cfg, err := m.Load()
			require.NoError(t, err)
			assert.Equal(t, "debug", cfg.Logging.Level)
			assert.True(t, cfg.Logging.Console)
			require.NotNil(t, cfg.Storage)
			assert.Equal(t, "sqlite", cfg.Storage.Driver)
			assert.Equal(t, "x.sqlite", cfg.Storage.Path)
			assert.True(t, cfg.Reconcile.Enabled)
			assert.Equal(t, "@hourly", cfg.Reconcile.Schedule)
			// defaults filled in
			assert.Equal(t, DefaultReconcileRate, cfg.Reconcile.RatePerSec)
			assert.Same(t, cfg, m.Get())
		})
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeConfig(t, "config.yaml", "logging:\n  level: info\nwebhook:\n  url: x\n"))
	_, err := m.Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook")
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeConfig(t, "config.json", `{"logging":{"level":"info"}}{}`))
	_, err := m.Parse()
	require.Error(t, err)
}

func TestLoadOrDefault(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(filepath.Join(t.TempDir(), "missing.json"))
	cfg, err := m.LoadOrDefault()
	require.NoError(t, err)
	assert.Equal(t, DefaultStorageDriver, cfg.Storage.Driver)
	assert.Equal(t, DefaultStoragePath, cfg.Storage.Path)
	require.NoError(t, Validate(cfg))

	bad := NewConfigManager(writeConfig(t, "config.json", `{"logging":{"level":"loud"}}`))
	_, err = bad.LoadOrDefault()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default ok", mutate: func(*Config) {}},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging.level"},
		{name: "bad driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, wantErr: "storage.driver"},
		{name: "bad busy timeout", mutate: func(c *Config) { c.Storage.BusyTimeout = "soon" }, wantErr: "storage.busy_timeout"},
		{name: "negative compact", mutate: func(c *Config) { c.Storage.CompactEvery = -1 }, wantErr: "compact_every"},
		{name: "bad schedule", mutate: func(c *Config) { c.Reconcile.Schedule = "every tuesday" }, wantErr: "reconcile.schedule"},
		{name: "seconds schedule", mutate: func(c *Config) { c.Reconcile.Schedule = "*/30 * * * * *" }},
		{name: "bad timezone", mutate: func(c *Config) { c.Reconcile.Timezone = "Mars/Olympus" }, wantErr: "reconcile.timezone"},
		{name: "negative rate", mutate: func(c *Config) { c.Reconcile.RatePerSec = -2 }, wantErr: "rate_per_sec"},
		{name: "bad timeout", mutate: func(c *Config) { c.Reconcile.Timeout = "-1s" }, wantErr: "reconcile.timeout"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSubscribeReceivesLatest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	a, b := Default(), Default()
	b.Logging.Level = "debug"

	m.publish(a)
	m.publish(b) // replaces a in the full buffer
	got := <-ch
	assert.Same(t, b, got)

	m.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := Default()
	newCfg := Default()
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	assert.Empty(t, changed)

	newCfg.Logging.Level = "debug"
	newCfg.Reconcile.Enabled = true
	newCfg.Storage = &StorageConfig{Driver: "sqlite", Path: "x.sqlite"}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "reconcile", "storage"}, changed)
	assert.NotEmpty(t, attrs)

	// whitespace-only edits are not changes
	trimmed := Default()
	trimmed.Reconcile.Schedule = "  " + DefaultReconcileSchedule + " "
	changed, _ = SummarizeConfigChange(oldCfg, trimmed)
	assert.Empty(t, changed)
}
