package pprof

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "taskplan/pkg/logx"
)

func TestConfigCheck(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "disabled ignores addr", cfg: Config{Addr: "nonsense"}},
		{name: "loopback", cfg: Config{Enabled: true, Addr: "127.0.0.1:6060"}},
		{name: "localhost", cfg: Config{Enabled: true, Addr: "localhost:0"}},
		{name: "bad addr", cfg: Config{Enabled: true, Addr: "6060"}, wantErr: true},
		{name: "public without auth", cfg: Config{Enabled: true, Addr: "0.0.0.0:6060"}, wantErr: true},
		{name: "all interfaces without auth", cfg: Config{Enabled: true, Addr: ":6060"}, wantErr: true},
		{name: "public with token", cfg: Config{Enabled: true, Addr: "0.0.0.0:6060", Token: "s3cret"}},
		{name: "public insecure", cfg: Config{Enabled: true, Addr: "0.0.0.0:6060", AllowInsecure: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Check()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHandlerRoutes(t *testing.T) {
	status := func(context.Context) (any, error) {
		return map[string]int{"projects": 2}, nil
	}
	srv := httptest.NewServer(New(Config{Enabled: true}, status, logx.Nop()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/debug/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var got map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 2, got["projects"])

	resp, err = http.Get(srv.URL + "/debug/pprof/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlerStatusError(t *testing.T) {
	status := func(context.Context) (any, error) { return nil, errors.New("store closed") }
	rec := httptest.NewRecorder()
	New(Config{}, status, logx.Nop()).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/status", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	New(Config{}, nil, logx.Nop()).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerToken(t *testing.T) {
	h := New(Config{Token: "s3cret"}, nil, logx.Nop()).Handler()

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{name: "missing", target: "/healthz", want: http.StatusUnauthorized},
		{name: "wrong query", target: "/healthz?token=nope", want: http.StatusUnauthorized},
		{name: "query", target: "/healthz?token=s3cret", want: http.StatusOK},
		{name: "bearer", target: "/healthz", header: "Bearer s3cret", want: http.StatusOK},
		{name: "wrong bearer", target: "/healthz", header: "Bearer x", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRunStopsWithContext(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Empty(t, s.Addr())
}

func TestRunRejectsInsecureBind(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, logx.Nop())
	assert.Error(t, s.Run(context.Background()))
}
