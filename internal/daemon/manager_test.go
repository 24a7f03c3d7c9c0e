// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/vidgrab/internal/config"
	"github.com/ManuGH/vidgrab/internal/log"
)

func reserveListenAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func waitForListen(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return errors.New("listen timeout")
}

func testDeps(h http.Handler) Deps {
	return Deps{Logger: log.WithComponent("test"), APIHandler: h}
}

// running is a started manager bound to a fixed loopback address.
type running struct {
	mgr    Manager
	addr   string
	cancel context.CancelFunc
	errc   chan error
}

func startManager(t *testing.T, cfg config.APIConfig, deps Deps, hooks ...namedHook) *running {
	t.Helper()
	cfg.ListenAddr = reserveListenAddr(t)
	mgr, err := NewManager(cfg, deps)
	require.NoError(t, err)
	for _, h := range hooks {
		mgr.RegisterShutdownHook(h.name, h.hook)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{mgr: mgr, addr: cfg.ListenAddr, cancel: cancel, errc: make(chan error, 1)}
	go func() { r.errc <- mgr.Start(ctx) }()
	require.NoError(t, waitForListen(r.addr, 2*time.Second))
	t.Cleanup(cancel)
	return r
}

// stop cancels the manager and returns Start's result.
func (r *running) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancellation")
		return nil
	}
}

func oneShotClient() *http.Client {
	return &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
}

// streamingHandler writes n chunks, pausing between them, like a slow
// artifact download. started is closed once the first chunk is flushed.
func streamingHandler(n int, pause time.Duration, started chan struct{}) http.Handler {
	var once sync.Once
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		flusher, _ := w.(http.Flusher)
		for i := 0; i < n; i++ {
			if _, err := fmt.Fprintf(w, "chunk-%02d\n", i); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			if started != nil {
				once.Do(func() { close(started) })
			}
			time.Sleep(pause)
		}
	})
}

func expectedStream(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "chunk-%02d\n", i)
	}
	return b.String()
}

func TestNewManager_RejectsMissingDeps(t *testing.T) {
	tests := []struct {
		name string
		deps Deps
		want error
	}{
		{"disabled logger", Deps{Logger: zerolog.Nop(), APIHandler: http.NotFoundHandler()}, ErrMissingLogger},
		{"no api handler", Deps{Logger: log.WithComponent("test")}, ErrMissingAPIHandler},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(config.APIConfig{ListenAddr: "127.0.0.1:0"}, tt.deps)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewManager_DefaultShutdownGrace(t *testing.T) {
	mgr, err := NewManager(config.APIConfig{ListenAddr: "127.0.0.1:0"}, testDeps(http.NotFoundHandler()))
	require.NoError(t, err)

	m, ok := mgr.(*manager)
	require.True(t, ok)
	assert.Equal(t, 20*time.Second, m.serverCfg.ShutdownTimeout)

	defaults := config.Defaults().API
	assert.Equal(t, 20*time.Second, defaults.ShutdownTimeout)
	assert.Zero(t, defaults.WriteTimeout, "downloads must not be cut by a write deadline")
	assert.Equal(t, 10*time.Second, defaults.IdleTimeout)
}

func TestManager_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := startManager(t, config.APIConfig{ShutdownTimeout: 2 * time.Second}, testDeps(http.NotFoundHandler()))
	assert.NoError(t, r.stop(t))
}

func TestManager_LongStreamWithoutWriteTimeout(t *testing.T) {
	const chunks = 8
	pause := 60 * time.Millisecond

	t.Run("zero write timeout delivers everything", func(t *testing.T) {
		cfg := config.Defaults().API
		r := startManager(t, cfg, testDeps(streamingHandler(chunks, pause, nil)))

		resp, err := oneShotClient().Get("http://" + r.addr + "/download/x")
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, expectedStream(chunks), string(body))
		assert.NoError(t, r.stop(t))
	})

	t.Run("short write timeout truncates", func(t *testing.T) {
		cfg := config.Defaults().API
		cfg.WriteTimeout = 100 * time.Millisecond
		r := startManager(t, cfg, testDeps(streamingHandler(chunks, pause, nil)))

		resp, err := oneShotClient().Get("http://" + r.addr + "/download/x")
		if err == nil {
			body, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			assert.True(t, readErr != nil || len(body) < len(expectedStream(chunks)),
				"stream should be cut by the write deadline, got %d bytes", len(body))
		}
		_ = r.stop(t)
	})
}

func TestManager_ShutdownDrainsInFlightDownload(t *testing.T) {
	const chunks = 6
	started := make(chan struct{})
	cfg := config.Defaults().API
	cfg.ShutdownTimeout = 0 // falls back to the 20s grace
	r := startManager(t, cfg, testDeps(streamingHandler(chunks, 50*time.Millisecond, started)))

	type result struct {
		body string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := oneShotClient().Get("http://" + r.addr + "/download/x")
		if err != nil {
			done <- result{err: err}
			return
		}
		defer func() { _ = resp.Body.Close() }()
		b, err := io.ReadAll(resp.Body)
		done <- result{body: string(b), err: err}
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("download never started")
	}
	require.NoError(t, r.stop(t), "in-flight download finishes within the grace period")

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, expectedStream(chunks), res.body)
}

func TestManager_ShutdownTimesOut(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	requestStarted := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	handler := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(requestStarted) })
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	r := startManager(t, config.APIConfig{ShutdownTimeout: 100 * time.Millisecond}, testDeps(handler))

	requestDone := make(chan struct{})
	go func() {
		defer close(requestDone)
		resp, err := oneShotClient().Get("http://" + r.addr)
		if err == nil {
			_ = resp.Body.Close()
		}
	}()

	select {
	case <-requestStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("expected in-flight request before shutdown")
	}

	err := r.stop(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	select {
	case <-requestDone:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked request did not terminate after shutdown")
	}
}

func TestManager_HooksRunLIFOAfterAPIStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var (
		mu    sync.Mutex
		order []string
		addr  string
	)
	apiClosed := false
	record := func(name string, err error) namedHook {
		return namedHook{name: name, hook: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			if len(order) == 0 {
				conn, dialErr := net.DialTimeout("tcp", addr, 100*time.Millisecond)
				if dialErr == nil {
					_ = conn.Close()
				}
				apiClosed = dialErr != nil
			}
			order = append(order, name)
			return err
		}}
	}

	r := startManager(t, config.APIConfig{ShutdownTimeout: 2 * time.Second}, testDeps(http.NotFoundHandler()),
		record("telemetry", nil),
		record("history", errors.New("flush failed")),
		record("coordinator", nil),
	)
	mu.Lock()
	addr = r.addr
	mu.Unlock()

	err := r.stop(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook history: flush failed")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"coordinator", "history", "telemetry"}, order, "every hook runs, newest first")
	assert.True(t, apiClosed, "hooks run after the API listener is closed")
}

func TestManager_Shutdown_NotStarted(t *testing.T) {
	mgr, err := NewManager(config.APIConfig{ListenAddr: "127.0.0.1:0"}, testDeps(http.NotFoundHandler()))
	require.NoError(t, err)
	assert.ErrorIs(t, mgr.Shutdown(context.Background()), ErrManagerNotStarted)
}

func TestManager_WithMetrics(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	metricsAddr := reserveListenAddr(t)
	deps := testDeps(http.NotFoundHandler())
	deps.Config.Metrics = config.MetricsConfig{Enabled: true, ListenAddr: metricsAddr}
	deps.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# HELP vidgrab_jobs_submitted_total\n"))
	})

	r := startManager(t, config.APIConfig{ShutdownTimeout: 2 * time.Second}, deps)
	require.NoError(t, waitForListen(metricsAddr, 2*time.Second))

	resp, err := oneShotClient().Get("http://" + metricsAddr + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "vidgrab_jobs_submitted_total")

	assert.NoError(t, r.stop(t))
}

func TestDeps_MetricsAddrRequiresEnabledHandler(t *testing.T) {
	d := testDeps(http.NotFoundHandler())
	d.Config.Metrics = config.MetricsConfig{Enabled: true, ListenAddr: ":9090"}
	assert.Empty(t, d.metricsAddr(), "no handler")

	d.MetricsHandler = http.NotFoundHandler()
	assert.Equal(t, ":9090", d.metricsAddr())

	d.Config.Metrics.Enabled = false
	assert.Empty(t, d.metricsAddr())
}

func TestManager_PropagatesListenErrors(t *testing.T) {
	busy := httptest.NewServer(http.NotFoundHandler())
	defer busy.Close()

	mgr, err := NewManager(config.APIConfig{
		ListenAddr:      busy.Listener.Addr().String(),
		ShutdownTimeout: time.Second,
	}, testDeps(http.NotFoundHandler()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = mgr.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API server")
}
