// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/vidgrab/internal/engine"
	"github.com/ManuGH/vidgrab/internal/jobs"
)

var base = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func job(id string, status jobs.Status, updated time.Time) jobs.Job {
	return jobs.Job{
		ID:     id,
		Status: status,
		Request: jobs.Request{
			URL:        "https://user:pw@valid.example/watch?v=secret#t=1",
			Format:     engine.FormatVideo,
			Resolution: "720p",
		},
		CreatedAt: base,
		UpdatedAt: updated,
	}
}

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	stores := map[string]Store{BackendMemory: NewMemoryStore(0, 0)}
	sq, err := Open(ctx, Config{Backend: BackendSQLite, Path: filepath.Join(dir, "history.sqlite")})
	require.NoError(t, err)
	stores[BackendSQLite] = sq
	bg, err := Open(ctx, Config{Backend: BackendBadger, Path: filepath.Join(dir, "badger")})
	require.NoError(t, err)
	stores[BackendBadger] = bg

	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStores_RecordKeepsLatestState(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Record(ctx, job("a", jobs.StatusProcessing, base)))

			done := job("a", jobs.StatusDone, base.Add(time.Minute))
			done.ArtifactName = "clip-a.mp4"
			done.Title = "Clip"
			done.Size = 42
			require.NoError(t, s.Record(ctx, done))

			// A stale write must not roll the entry back.
			require.NoError(t, s.Record(ctx, job("a", jobs.StatusProcessing, base)))

			got, err := s.List(ctx, 10)
			require.NoError(t, err)
			want := []Entry{{
				JobID:      "a",
				Status:     "done",
				Format:     "video",
				Resolution: "720p",
				Source:     "https://valid.example/watch",
				Title:      "Clip",
				File:       "clip-a.mp4",
				Size:       42,
				CreatedAt:  base,
				UpdatedAt:  base.Add(time.Minute),
			}}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("entries mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStores_ListNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				require.NoError(t, s.Record(ctx, job(fmt.Sprintf("j%d", i), jobs.StatusError, base.Add(time.Duration(i)*time.Second))))
			}
			got, err := s.List(ctx, 3)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, []string{"j4", "j3", "j2"}, []string{got[0].JobID, got[1].JobID, got[2].JobID})

			all, err := s.List(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, all, 5)
		})
	}
}

func TestMemoryStore_CapacityAndPrune(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(2, time.Hour)
	m.now = func() time.Time { return base.Add(2 * time.Hour) }

	require.NoError(t, m.Record(ctx, job("old", jobs.StatusDone, base)))
	require.NoError(t, m.Record(ctx, job("mid", jobs.StatusDone, base.Add(45*time.Minute))))
	require.NoError(t, m.Record(ctx, job("new", jobs.StatusDone, base.Add(80*time.Minute))))

	got, _ := m.List(ctx, 10)
	require.Len(t, got, 2, "capacity evicts the least recently updated entry")

	n, err := m.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, _ = m.List(ctx, 10)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].JobID)
}

func TestSQLiteStore_Prune(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLiteStore(ctx, filepath.Join(t.TempDir(), "h.sqlite"), time.Hour)
	require.NoError(t, err)
	defer s.Close()
	s.now = func() time.Time { return base.Add(2 * time.Hour) }

	require.NoError(t, s.Record(ctx, job("stale", jobs.StatusExpired, base)))
	require.NoError(t, s.Record(ctx, job("fresh", jobs.StatusDelivered, base.Add(90*time.Minute))))

	n, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].JobID)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "h.sqlite")
	s, err := OpenSQLiteStore(ctx, path, 0)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, job("keep", jobs.StatusDone, base)))
	require.NoError(t, s.Close())

	s, err = OpenSQLiteStore(ctx, path, 0)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].JobID)
}

func TestBadgerStore_EntriesExpire(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for badger TTL")
	}
	ctx := context.Background()
	s, err := OpenBadgerStore(filepath.Join(t.TempDir(), "b"), time.Second)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Record(ctx, job("short", jobs.StatusDone, time.Now())))
	got, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	time.Sleep(2100 * time.Millisecond)
	got, err = s.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.Prune(ctx)
	assert.NoError(t, err)
}

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Open(ctx, Config{})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = Open(ctx, Config{Backend: "postgres"})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Backend: BackendSQLite})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Backend: BackendBadger})
	assert.Error(t, err)
}

func TestRegistryRecordsIntoHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0, 0)
	reg := jobs.NewRegistry(nil, time.Hour, jobs.WithRecorder(store))

	j, err := reg.Create(jobs.Request{URL: "https://valid.example/v", Format: engine.FormatAudio})
	require.NoError(t, err)
	require.NoError(t, reg.Update(j.ID, jobs.Failed("Unsupported URL")))

	got, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "error", got[0].Status)
	assert.Equal(t, "Unsupported URL", got[0].Error)
	assert.Equal(t, "audio", got[0].Format)
}
