// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/vidgrab/internal/jobs"
	"github.com/ManuGH/vidgrab/internal/log"
)

const badgerPrefix = "job:"

// BadgerStore keeps entries in Badger. Each write carries a TTL equal to the
// retention, so expiry needs no sweep.
type BadgerStore struct {
	db        *badger.DB
	retention time.Duration
}

// OpenBadgerStore opens (or creates) a Badger directory at path.
func OpenBadgerStore(path string, retention time.Duration) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("history: open badger: %w", err)
	}
	logger := log.WithComponent("history")
	logger.Info().Str(log.FieldPath, path).Str("backend", BackendBadger).Msg("history store opened")
	return &BadgerStore{db: db, retention: retention}, nil
}

// Record stores the job's latest state.
func (s *BadgerStore) Record(_ context.Context, j jobs.Job) error {
	e := FromJob(j)
	key := []byte(badgerPrefix + e.JobID)
	buf, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case err == nil:
			var prev Entry
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &prev) }); err == nil &&
				prev.UpdatedAt.After(e.UpdatedAt) {
				return nil
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		entry := badger.NewEntry(key, buf)
		if s.retention > 0 {
			entry = entry.WithTTL(s.retention)
		}
		return txn.SetEntry(entry)
	})
}

// List returns the newest entries first.
func (s *BadgerStore) List(_ context.Context, limit int) ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(badgerPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	sortNewestFirst(out)
	if n := clampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Prune lets Badger reclaim space held by expired entries. Expired keys are
// already invisible, so the count is always zero.
func (s *BadgerStore) Prune(_ context.Context) (int, error) {
	err := s.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
		return 0, fmt.Errorf("history: value log gc: %w", err)
	}
	return 0, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error { return s.db.Close() }
