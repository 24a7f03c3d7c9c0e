// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/vidgrab/internal/artifact"
	"github.com/ManuGH/vidgrab/internal/engine"
	"github.com/ManuGH/vidgrab/internal/jobs"
)

type fixture struct {
	reg   *jobs.Registry
	store *artifact.Store
	svc   *Service
	now   atomic.Pointer[time.Time]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{store: store}
	start := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	f.now.Store(&start)
	f.reg = jobs.NewRegistry(store, time.Hour, jobs.WithClock(func() time.Time { return *f.now.Load() }))
	f.svc = NewService(f.reg, store)
	return f
}

func (f *fixture) advance(d time.Duration) {
	next := f.now.Load().Add(d)
	f.now.Store(&next)
}

// doneJob creates a finished job whose artifact holds body.
func (f *fixture) doneJob(t *testing.T, name, body string) jobs.Job {
	t.Helper()
	job, err := f.reg.Create(jobs.Request{URL: "https://valid.example/v", Format: engine.FormatVideo})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.store.Root(), name), []byte(body), 0o600))
	require.NoError(t, f.reg.Update(job.ID, jobs.Done(name, "title", int64(len(body)))))
	return job
}

func (f *fixture) exists(name string) bool {
	_, err := os.Stat(filepath.Join(f.store.Root(), name))
	return err == nil
}

func TestFetch_ServesOnceAndDeletes(t *testing.T) {
	f := newFixture(t)
	job := f.doneJob(t, "clip-abc.mp4", "0123456789")

	d, err := f.svc.Fetch(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "clip-abc.mp4", d.Name())
	assert.Equal(t, int64(10), d.Size())

	rec := httptest.NewRecorder()
	d.Serve(rec, httptest.NewRequest(http.MethodGet, "/download/"+job.ID, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789", rec.Body.String())
	assert.Equal(t, `attachment; filename=clip-abc.mp4`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, int64(10), d.Written())

	assert.False(t, f.exists("clip-abc.mp4"), "artifact must be deleted after delivery")
	got, err := f.reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusDelivered, got.Status)

	_, err = f.svc.Fetch(context.Background(), job.ID)
	assert.ErrorIs(t, err, jobs.ErrNotReady)
}

func TestFetch_UnknownAndNotReady(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Fetch(context.Background(), "nope")
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	pending, err := f.reg.Create(jobs.Request{URL: "https://valid.example/p"})
	require.NoError(t, err)
	_, err = f.svc.Fetch(context.Background(), pending.ID)
	assert.ErrorIs(t, err, jobs.ErrNotReady)

	failed, err := f.reg.Create(jobs.Request{URL: "https://valid.example/f"})
	require.NoError(t, err)
	require.NoError(t, f.reg.Update(failed.ID, jobs.Failed("boom")))
	_, err = f.svc.Fetch(context.Background(), failed.ID)
	assert.ErrorIs(t, err, jobs.ErrNotReady)
}

func TestFetch_ConcurrentSingleDelivery(t *testing.T) {
	f := newFixture(t)
	job := f.doneJob(t, "race.mp4", "payload")

	const callers = 16
	var (
		wg        sync.WaitGroup
		delivered atomic.Int32
		notReady  atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.svc.Fetch(context.Background(), job.ID)
			if errors.Is(err, jobs.ErrNotReady) {
				notReady.Add(1)
				return
			}
			if err != nil {
				return
			}
			rec := httptest.NewRecorder()
			d.Serve(rec, httptest.NewRequest(http.MethodGet, "/download/x", nil))
			if rec.Body.String() == "payload" {
				delivered.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), delivered.Load())
	assert.Equal(t, int32(callers-1), notReady.Load())
	assert.False(t, f.exists("race.mp4"))
}

type brokenWriter struct {
	header http.Header
	code   int
}

func (b *brokenWriter) Header() http.Header  { return b.header }
func (b *brokenWriter) WriteHeader(code int) { b.code = code }
func (b *brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

func TestServe_ClientAbortStillDeletes(t *testing.T) {
	f := newFixture(t)
	job := f.doneJob(t, "abort.mp3", "some audio")

	d, err := f.svc.Fetch(context.Background(), job.ID)
	require.NoError(t, err)
	d.Serve(&brokenWriter{header: http.Header{}}, httptest.NewRequest(http.MethodGet, "/download/x", nil))

	assert.Zero(t, d.Written())
	assert.False(t, f.exists("abort.mp3"))
	got, err := f.reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusDelivered, got.Status)
}

func TestFetch_MissingFileIsNotFound(t *testing.T) {
	f := newFixture(t)
	job := f.doneJob(t, "gone.mp4", "x")
	require.NoError(t, os.Remove(filepath.Join(f.store.Root(), "gone.mp4")))

	_, err := f.svc.Fetch(context.Background(), job.ID)
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	// Claim was released, the sweep still owns the entry.
	got, err := f.reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusDone, got.Status)
}

func TestFetch_SweepsExpiredFirst(t *testing.T) {
	f := newFixture(t)
	job := f.doneJob(t, "old.mp4", "x")

	f.advance(2 * time.Hour)
	_, err := f.svc.Fetch(context.Background(), job.ID)
	assert.ErrorIs(t, err, jobs.ErrNotFound)
	assert.False(t, f.exists("old.mp4"))
}

func TestDelivery_CloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	job := f.doneJob(t, "twice.mp4", "x")

	d, err := f.svc.Fetch(context.Background(), job.ID)
	require.NoError(t, err)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.False(t, f.exists("twice.mp4"))
}

func TestServe_IgnoresRangeAndConditionalHeaders(t *testing.T) {
	headers := map[string]string{
		"Range":               "bytes=2-4",
		"If-Range":            `"stale"`,
		"If-Modified-Since":   time.Now().Add(time.Hour).UTC().Format(http.TimeFormat),
		"If-Unmodified-Since": time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat),
		"If-None-Match":       "*",
		"If-Match":            `"nope"`,
	}
	for name, value := range headers {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			job := f.doneJob(t, "full.mp4", "abcdefghij")

			d, err := f.svc.Fetch(context.Background(), job.ID)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/download/x", nil)
			req.Header.Set(name, value)
			rec := httptest.NewRecorder()
			d.Serve(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "abcdefghij", rec.Body.String())
			assert.Equal(t, "10", rec.Header().Get("Content-Length"))
			assert.Equal(t, "none", rec.Header().Get("Accept-Ranges"))
			assert.Equal(t, int64(10), d.Written())
			assert.False(t, f.exists("full.mp4"))
		})
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/octet-stream", contentType("noext"))
	assert.NotEmpty(t, contentType("clip.mp4"))
}
