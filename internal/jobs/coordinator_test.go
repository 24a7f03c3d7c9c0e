// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/vidgrab/internal/artifact"
	"github.com/ManuGH/vidgrab/internal/engine"
	platformnet "github.com/ManuGH/vidgrab/internal/platform/net"
)

// fakeEngine runs fn for every extraction.
type fakeEngine struct {
	mu    sync.Mutex
	calls []engine.Options
	fn    func(ctx context.Context, url string, opts engine.Options) (engine.Result, error)
}

func (f *fakeEngine) Extract(ctx context.Context, url string, opts engine.Options) (engine.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, url, opts)
}

func (f *fakeEngine) Probe(context.Context, string) ([]engine.Format, error) {
	return nil, nil
}

func (f *fakeEngine) Calls() []engine.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Options(nil), f.calls...)
}

// produce writes a file into the work dir like a real engine would.
func produce(name, title, body string) func(context.Context, string, engine.Options) (engine.Result, error) {
	return func(_ context.Context, _ string, opts engine.Options) (engine.Result, error) {
		p := filepath.Join(opts.WorkDir, name)
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			return engine.Result{}, err
		}
		return engine.Result{FilePath: p, Title: title}, nil
	}
}

type harness struct {
	reg   *Registry
	store *artifact.Store
	eng   *fakeEngine
	coord *Coordinator
	clock *fakeClock
}

func newHarness(t *testing.T, fn func(context.Context, string, engine.Options) (engine.Result, error), opts ...func(*CoordinatorConfig)) *harness {
	t.Helper()
	store, err := artifact.NewStore(filepath.Join(t.TempDir(), "downloads"))
	require.NoError(t, err)

	clock := newFakeClock()
	reg := NewRegistry(store, time.Hour, WithClock(clock.Now))
	eng := &fakeEngine{fn: fn}

	cfg := CoordinatorConfig{EngineTimeout: 5 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	coord, err := NewCoordinator(reg, eng, store, NewPoolScheduler(2, 8), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
	})
	return &harness{reg: reg, store: store, eng: eng, coord: coord, clock: clock}
}

func waitJob(t *testing.T, c *Coordinator, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Wait(ctx, id)
	require.False(t, errors.Is(err, context.DeadlineExceeded), "job %s did not finish", id)
}

func rootFiles(t *testing.T, s *artifact.Store) []string {
	t.Helper()
	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestCoordinator_HappyPath(t *testing.T) {
	h := newHarness(t, produce("My Video.mp4", "My Video", "video-bytes"))

	job, err := h.coord.Submit(context.Background(), SubmitRequest{
		URL: "https://valid.example/v1", Format: "mp4", Resolution: "720p",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, job.Status)

	waitJob(t, h.coord, job.ID)

	got, err := h.reg.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDone, got.Status, "error: %s", got.ErrorMessage)
	assert.Equal(t, "My_Video-"+job.ID[:8]+".mp4", got.ArtifactName)
	assert.Equal(t, "My Video", got.Title)
	assert.Equal(t, int64(len("video-bytes")), got.Size)
	assert.NotContains(t, got.ArtifactName, " ")

	data, err := os.ReadFile(filepath.Join(h.store.Root(), got.ArtifactName))
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	calls := h.eng.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, engine.FormatVideo, calls[0].Format)
	assert.Equal(t, 720, calls[0].MaxHeight)

	_, err = os.Stat(calls[0].WorkDir)
	assert.True(t, os.IsNotExist(err), "work dir must be removed")
}

func TestCoordinator_SubmitDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	inner := produce("clip.mp3", "clip", "a")
	h := newHarness(t, func(ctx context.Context, url string, opts engine.Options) (engine.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		}
		return inner(ctx, url, opts)
	})

	start := time.Now()
	job, err := h.coord.Submit(context.Background(), SubmitRequest{URL: "https://valid.example/a", Format: "mp3"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	got, _ := h.reg.Get(job.ID)
	assert.Equal(t, StatusProcessing, got.Status)
	require.NotNil(t, h.coord.Run(job.ID))

	close(release)
	waitJob(t, h.coord, job.ID)
	got, _ = h.reg.Get(job.ID)
	assert.Equal(t, StatusDone, got.Status)
	assert.True(t, strings.HasSuffix(got.ArtifactName, ".mp3"))
	assert.Nil(t, h.coord.Run(job.ID))
}

func TestCoordinator_InvalidRequests(t *testing.T) {
	h := newHarness(t, produce("x.mp4", "x", "x"))

	cases := []SubmitRequest{
		{URL: ""},
		{URL: "   "},
		{URL: "ftp://valid.example/v"},
		{URL: "https://valid.example/v", Format: "flac"},
		{URL: "https://valid.example/v", Format: "mp4", Resolution: "8k"},
	}
	for _, in := range cases {
		_, err := h.coord.Submit(context.Background(), in)
		assert.ErrorIs(t, err, ErrInvalidRequest, "%+v", in)
	}
	assert.Equal(t, 0, h.reg.Len(), "no job may be created for invalid input")
	assert.Empty(t, h.eng.Calls())
}

func TestCoordinator_AudioIgnoresResolution(t *testing.T) {
	h := newHarness(t, produce("song.mp3", "song", "x"))

	job, err := h.coord.Submit(context.Background(), SubmitRequest{URL: "https://valid.example/s", Format: "audio", Resolution: "nonsense"})
	require.NoError(t, err)
	assert.Equal(t, engine.FormatAudio, job.Request.Format)
	assert.Zero(t, job.Request.MaxHeight)
	assert.Empty(t, job.Request.Resolution)
	waitJob(t, h.coord, job.ID)
}

func TestCoordinator_HostAllowlist(t *testing.T) {
	policy, err := platformnet.NewSourcePolicy([]string{"valid.example"}, false)
	require.NoError(t, err)
	h := newHarness(t, produce("x.mp4", "x", "x"), func(c *CoordinatorConfig) { c.Policy = policy })

	_, err = h.coord.Submit(context.Background(), SubmitRequest{URL: "https://evil.example/v"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	job, err := h.coord.Submit(context.Background(), SubmitRequest{URL: "https://www.valid.example/v"})
	require.NoError(t, err)
	waitJob(t, h.coord, job.ID)
}

func TestCoordinator_EngineFailure(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, func(context.Context, string, engine.Options) (engine.Result, error) {
		<-gate
		return engine.Result{}, &engine.ExtractionError{Op: "extract", Msg: "Unsupported URL", Err: errors.New("exit status 1")}
	})

	job, err := h.coord.Submit(context.Background(), SubmitRequest{URL: "https://valid.example/broken"})
	require.NoError(t, err)

	run := h.coord.Run(job.ID)
	require.NotNil(t, run)
	close(gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.EqualError(t, run.Wait(ctx), "Unsupported URL")

	got, _ := h.reg.Get(job.ID)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "Unsupported URL", got.ErrorMessage)
	assert.Empty(t, got.ArtifactName)
	assert.Len(t, h.eng.Calls(), 1, "failures are never retried")
}

func TestCoordinator_EngineTimeout(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, _ string, _ engine.Options) (engine.Result, error) {
		<-ctx.Done()
		return engine.Result{}, engine.Wrap("extract", ctx.Err(), "")
	}, func(c *CoordinatorConfig) { c.EngineTimeout = 50 * time.Millisecond })

	job, err := h.coord.Submit(context.Background(), SubmitRequest{URL: "https://valid.example/hang"})
	require.NoError(t, err)
	waitJob(t, h.coord, job.ID)

	got, _ := h.reg.Get(job.ID)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "extraction timed out", got.ErrorMessage)
}

func TestCoordinator_DeadlineHoldsWhenEngineIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(_ context.Context, _ string, opts engine.Options) (engine.Result, error) {
		<-release
		p := filepath.Join(opts.WorkDir, "late.mp4")
		_ = os.WriteFile(p, []byte("late"), 0o600)
		return engine.Result{FilePath: p, Title: "late"}, nil
	}, func(c *CoordinatorConfig) { c.EngineTimeout = 50 * time.Millisecond })
	defer close(release)

	start := time.Now()
	job, err := h.coord.Submit(context.Background(), SubmitRequest{URL: "https://valid.example/stuck"})
	require.NoError(t, err)
	waitJob(t, h.coord, job.ID)
	assert.Less(t, time.Since(start), 2*time.Second)

	got, err := h.reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "extraction timed out", got.ErrorMessage)

	// New jobs still run while the first engine call is stuck.
	h.eng.mu.Lock()
	h.eng.fn = produce("next.mp4", "next", "ok")
	h.eng.mu.Unlock()
	next, err := h.coord.Submit(context.Background(), SubmitRequest{URL: "https://valid.example/next"})
	require.NoError(t, err)
	waitJob(t, h.coord, next.ID)
	gotNext, err := h.reg.Get(next.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, gotNext.Status)

	calls := h.eng.Calls()
	require.NotEmpty(t, calls)
	stuckDir := calls[0].WorkDir
	release <- struct{}{}

	// The late result is discarded and its scratch space reclaimed.
	require.Eventually(t, func() bool {
		_, err := os.Stat(stuckDir)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
	got, err = h.reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.NotContains(t, rootFiles(t, h.store), "late.mp4")
}

func TestCoordinator_EnginePanicBecomesError(t *testing.T) {
	h := newHarness(t, func(context.Context, string, engine.Options) (engine.Result, error) {
		panic("boom")
	})

	job, err := h.coord.Submit(context.Background(), SubmitRequest{URL: "https://valid.example/p"})
	require.NoError(t, err)
	waitJob(t, h.coord, job.ID)

	got, _ := h.reg.Get(job.ID)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "extraction engine crashed", got.ErrorMessage)

	// Workers survive: the next job still runs.
	h.eng.mu.Lock()
	h.eng.fn = produce("ok.mp4", "ok", "x")
	h.eng.mu.Unlock()
	next, err := h.coord.Submit(context.Background(), SubmitRequest{URL: "https://valid.example/ok"})
	require.NoError(t, err)
	waitJob(t, h.coord, next.ID)
	got, _ = h.reg.Get(next.ID)
	assert.Equal(t, StatusDone, got.Status)
}

func TestCoordinator_OutputOutsideWorkDirIsPathViolation(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "stolen.mp4")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o600))

	h := newHarness(t, func(context.Context, string, engine.Options) (engine.Result, error) {
		return engine.Result{FilePath: outside, Title: "../../etc/passwd"}, nil
	})

	job, err := h.coord.Submit(context.Background(), SubmitRequest{URL: "https://valid.example/x"})
	require.NoError(t, err)
	waitJob(t, h.coord, job.ID)

	got, _ := h.reg.Get(job.ID)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "internal storage error", got.ErrorMessage)
	assert.NotContains(t, got.ErrorMessage, outside)

	_, err = os.Stat(outside)
	assert.NoError(t, err, "file outside the work dir must not be touched")
	assert.Empty(t, rootFiles(t, h.store))
}

func TestCoordinator_HostileTitleStaysConfined(t *testing.T) {
	h := newHarness(t, produce("raw.mp4", "../../../etc/cron.d/evil", "x"))

	job, err := h.coord.Submit(context.Background(), SubmitRequest{URL: "https://valid.example/x"})
	require.NoError(t, err)
	waitJob(t, h.coord, job.ID)

	got, _ := h.reg.Get(job.ID)
	require.Equal(t, StatusDone, got.Status)
	assert.Equal(t, "etc_cron.d_evil-"+job.ID[:8]+".mp4", got.ArtifactName)
	assert.Equal(t, []string{got.ArtifactName}, rootFiles(t, h.store))
}

func TestCoordinator_SweptWhileRunningDeletesArtifact(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	inner := produce("late.mp4", "late", "x")
	h := newHarness(t, func(ctx context.Context, url string, opts engine.Options) (engine.Result, error) {
		close(started)
		<-release
		return inner(ctx, url, opts)
	})

	job, err := h.coord.Submit(context.Background(), SubmitRequest{URL: "https://valid.example/late"})
	require.NoError(t, err)
	<-started

	h.clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, h.reg.SweepExpired())

	close(release)
	waitJob(t, h.coord, job.ID)

	_, err = h.reg.Get(job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, rootFiles(t, h.store), "orphaned artifact must be removed")
}

type rejectingScheduler struct{ err error }

func (s rejectingScheduler) Start(ExecFunc) error                 { return nil }
func (s rejectingScheduler) Schedule(context.Context, Task) error { return s.err }
func (s rejectingScheduler) Close(context.Context) error          { return nil }

func TestCoordinator_QueueFullMarksJobFailed(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	reg := NewRegistry(store, time.Hour)
	coord, err := NewCoordinator(reg, &fakeEngine{}, store, rejectingScheduler{err: ErrQueueFull}, CoordinatorConfig{})
	require.NoError(t, err)

	job, err := coord.Submit(context.Background(), SubmitRequest{URL: "https://valid.example/q"})
	require.ErrorIs(t, err, ErrQueueFull)

	got, err := reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "queue full", got.ErrorMessage)
	assert.Nil(t, coord.Run(job.ID))
}

func TestCoordinator_ShutdownCancelsInFlight(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	reg := NewRegistry(store, time.Hour)
	started := make(chan struct{}, 1)
	eng := &fakeEngine{fn: func(ctx context.Context, _ string, _ engine.Options) (engine.Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		return engine.Result{}, engine.Wrap("extract", ctx.Err(), "")
	}}
	coord, err := NewCoordinator(reg, eng, store, NewPoolScheduler(1, 4), CoordinatorConfig{})
	require.NoError(t, err)

	running, err := coord.Submit(context.Background(), SubmitRequest{URL: "https://valid.example/1"})
	require.NoError(t, err)
	queued, err := coord.Submit(context.Background(), SubmitRequest{URL: "https://valid.example/2"})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, coord.Shutdown(ctx))

	for _, id := range []string{running.ID, queued.ID} {
		got, err := reg.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StatusError, got.Status, id)
		assert.Equal(t, "cancelled: service shutting down", got.ErrorMessage)
	}

	_, err = coord.Submit(context.Background(), SubmitRequest{URL: "https://valid.example/3"})
	assert.ErrorIs(t, err, ErrShuttingDown)
	require.NoError(t, coord.Shutdown(ctx), "shutdown is idempotent")
}
