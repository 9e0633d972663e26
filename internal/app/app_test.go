package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskplan/internal/config"
	"taskplan/internal/eventbus"
	"taskplan/internal/planner"
	"taskplan/internal/schedule"
)

// syncBuffer lets background goroutines log while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestAppLifecycle(t *testing.T) {
	path := writeConfig(t, `{
		"logging": {"level": "debug", "console": true},
		"storage": {"driver": "memory"},
		"reconcile": {"enabled": true, "schedule": "@every 1h"}
	}`)
	logs := &syncBuffer{}
	a, err := NewApp(path, WithLogOutput(logs))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	start := time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)
	p, err := a.Planner().CreateProject(ctx, planner.ProjectInput{ID: "p1", Name: "launch", StartDate: start})
	require.NoError(t, err)
	_, err = a.Planner().CreateTask(ctx, p.ID, planner.TaskInput{ID: "t1", Name: "design", Duration: 3})
	require.NoError(t, err)

	got, err := a.Planner().Project(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, start.AddDate(0, 0, 3), got.EndDate)

	select {
	case <-a.Done():
		t.Fatal("app stopped early")
	default:
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx))
	<-a.Done()
	assert.NoError(t, a.Err())
	assert.Contains(t, logs.String(), "app started")
}

func TestNewAppMissingConfigUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	a, err := NewApp(filepath.Join(dir, "missing.json"), WithLogOutput(&bytes.Buffer{}), WithLogLevel("warn"))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	// The default file store lives in the working directory.
	_, err = os.Stat(filepath.Join(dir, "taskplan.journal.jsonl"))
	assert.NoError(t, err)
}

func TestNewAppRejectsBadStorage(t *testing.T) {
	path := writeConfig(t, `{"storage": {"driver": "sqlite"}}`)
	_, err := NewApp(path, WithLogOutput(&bytes.Buffer{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.path")
}

func TestMapStorageConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      *config.StorageConfig
		want    string
		path    string
		wantErr bool
	}{
		{name: "nil defaults to file", in: nil, want: "file", path: config.DefaultStoragePath},
		{name: "memory", in: &config.StorageConfig{Driver: "Memory"}, want: "memory"},
		{name: "file custom path", in: &config.StorageConfig{Driver: "file", Path: " ./x.db "}, want: "file", path: "./x.db"},
		{name: "sqlite alias", in: &config.StorageConfig{Driver: "sqlite3", Path: "a.sqlite"}, want: "sqlite", path: "a.sqlite"},
		{name: "sqlite needs path", in: &config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "bad busy timeout", in: &config.StorageConfig{Driver: "sqlite", Path: "a", BusyTimeout: "soon"}, wantErr: true},
		{name: "unknown", in: &config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Driver)
			assert.Equal(t, tt.path, got.Path)
		})
	}

	got, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite", Path: "a"}})
	require.NoError(t, err)
	assert.Equal(t, time.Second, got.BusyTimeout)
}

func TestMapReconcileConfig(t *testing.T) {
	rc, err := mapReconcileConfig(&config.Config{Reconcile: config.ReconcileConfig{
		Enabled:  true,
		Schedule: " @hourly ",
		OnStart:  true,
	}})
	require.NoError(t, err)
	assert.True(t, rc.Enabled)
	assert.True(t, rc.OnStart)
	assert.Equal(t, "@hourly", rc.Schedule)
	assert.Equal(t, 30*time.Second, rc.Timeout)

	_, err = mapReconcileConfig(&config.Config{Reconcile: config.ReconcileConfig{Timeout: "forever"}})
	assert.Error(t, err)
}

func TestEventFields(t *testing.T) {
	f := eventFields(eventbus.Event{Type: eventbus.TypeScheduleUpdated, Data: eventbus.ScheduleUpdated{
		ProjectID: "p1",
		EndDate:   schedule.Date(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)),
		Duration:  4,
		Critical:  []string{"b"},
	}})
	assert.Len(t, f, 5)

	f = eventFields(eventbus.Event{Type: eventbus.TypeDependencyAdded, Data: eventbus.DependencyChanged{
		ProjectID: "p1", TaskID: "b", DependencyID: "a",
	}})
	assert.Len(t, f, 4)

	f = eventFields(eventbus.Event{Type: "custom"})
	assert.Len(t, f, 1)
}

func TestMapDebugConfig(t *testing.T) {
	dc, err := mapDebugConfig(&config.Config{Debug: config.DebugConfig{Enabled: true}})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultDebugAddr, dc.Addr)
	assert.Equal(t, 5*time.Second, dc.ReadTimeout)

	_, err = mapDebugConfig(&config.Config{Debug: config.DebugConfig{Enabled: true, Addr: "0.0.0.0:6060"}})
	assert.Error(t, err)

	_, err = mapDebugConfig(&config.Config{Debug: config.DebugConfig{Enabled: true, Addr: "0.0.0.0:6060", Token: "t"}})
	assert.NoError(t, err)

	_, err = mapDebugConfig(&config.Config{Debug: config.DebugConfig{IdleTimeout: "later"}})
	assert.Error(t, err)
}

func TestStatusReportsSweep(t *testing.T) {
	path := writeConfig(t, `{"storage": {"driver": "memory"}}`)
	a, err := NewApp(path, WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	ctx := context.Background()

	_, err = a.Planner().CreateProject(ctx, planner.ProjectInput{ID: "p1", Name: "p", StartDate: time.Now()})
	require.NoError(t, err)

	v, err := a.status(ctx)
	require.NoError(t, err)
	st := v.(Status)
	assert.Equal(t, 1, st.Projects)
	assert.Nil(t, st.LastSweep)

	_, err = a.Reconciler().Sweep(ctx)
	require.NoError(t, err)
	v, err = a.status(ctx)
	require.NoError(t, err)
	st = v.(Status)
	require.NotNil(t, st.LastSweep)
	assert.Equal(t, 1, st.LastSweep.Projects)
	assert.False(t, st.LastSweepAt.IsZero())
}
