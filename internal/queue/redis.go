// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package queue provides job schedulers backed by external brokers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/vidgrab/internal/jobs"
	"github.com/ManuGH/vidgrab/internal/log"
	"github.com/ManuGH/vidgrab/internal/metrics"
)

const (
	// DefaultQueueName is the Redis list used when none is configured.
	DefaultQueueName = "vidgrab:jobs"

	defaultPollTimeout = time.Second
	errorBackoff       = 500 * time.Millisecond
)

// pushScript enqueues ARGV[1] unless the list already holds ARGV[2] items.
var pushScript = redis.NewScript(`
local limit = tonumber(ARGV[2])
if limit > 0 and redis.call('LLEN', KEYS[1]) >= limit then
  return -1
end
return redis.call('LPUSH', KEYS[1], ARGV[1])
`)

// RedisConfig configures a RedisScheduler. Instance scopes the list to one
// process so daemons sharing a Redis server never consume or reset each
// other's tasks; the list key becomes "<Queue>:<Instance>".
type RedisConfig struct {
	Queue       string
	Instance    string
	Workers     int
	MaxLen      int
	PollTimeout time.Duration
}

// RedisScheduler hands tasks to workers through a Redis list. Producers LPUSH,
// workers BRPOP, so tasks run in submission order.
type RedisScheduler struct {
	client *redis.Client
	cfg    RedisConfig
	key    string

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ jobs.Scheduler = (*RedisScheduler)(nil)

type envelope struct {
	JobID      string    `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewRedisScheduler creates a scheduler on client. The caller owns the client.
func NewRedisScheduler(client *redis.Client, cfg RedisConfig) *RedisScheduler {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueueName
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	key := cfg.Queue
	if cfg.Instance != "" {
		key = cfg.Queue + ":" + cfg.Instance
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisScheduler{client: client, cfg: cfg, key: key, ctx: ctx, cancel: cancel}
}

// Start drops tasks a previous run of this instance left in its list and
// launches the workers. Jobs live in memory only, so stale entries could never
// be executed. Lists of other instances are left alone.
func (s *RedisScheduler) Start(exec jobs.ExecFunc) error {
	if exec == nil {
		return fmt.Errorf("redis scheduler: nil executor")
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	stale, err := s.client.Del(ctx, s.key).Result()
	if err != nil {
		return fmt.Errorf("redis scheduler: reset queue %q: %w", s.key, err)
	}
	logger := log.WithComponent("queue")
	logger.Info().
		Str("queue", s.key).
		Int("workers", s.cfg.Workers).
		Int("max_len", s.cfg.MaxLen).
		Bool("stale_dropped", stale > 0).
		Msg("redis scheduler started")

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i, exec)
	}
	return nil
}

// Schedule pushes t onto the list, failing fast when MaxLen is reached.
func (s *RedisScheduler) Schedule(ctx context.Context, t jobs.Task) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return jobs.ErrShuttingDown
	}

	payload, err := json.Marshal(envelope{JobID: t.JobID, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	n, err := pushScript.Run(ctx, s.client, []string{s.key}, payload, s.cfg.MaxLen).Int64()
	if err != nil {
		return fmt.Errorf("redis scheduler: push: %w", err)
	}
	if n < 0 {
		return jobs.ErrQueueFull
	}
	metrics.SetQueueDepth("redis", int(n))
	return nil
}

func (s *RedisScheduler) worker(n int, exec jobs.ExecFunc) {
	defer s.wg.Done()
	logger := log.WithComponent("queue").With().Int("worker", n).Logger()

	for s.ctx.Err() == nil {
		res, err := s.client.BRPop(s.ctx, s.cfg.PollTimeout, s.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("redis pop failed")
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(errorBackoff):
			}
			continue
		}
		// BRPOP replies [key, value].
		if len(res) != 2 {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(res[1]), &env); err != nil || env.JobID == "" {
			logger.Warn().Err(err).Str("payload", res[1]).Msg("dropping malformed task")
			continue
		}
		if depth, err := s.client.LLen(s.ctx, s.key).Result(); err == nil {
			metrics.SetQueueDepth("redis", int(depth))
		}
		s.run(n, exec, env)
	}
}

func (s *RedisScheduler) run(n int, exec jobs.ExecFunc, env envelope) {
	defer func() {
		if r := recover(); r != nil {
			logger := log.WithComponent("queue")
			logger.Error().
				Str(log.FieldJobID, env.JobID).
				Int("worker", n).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker recovered from panic")
		}
	}()
	exec(s.ctx, env.JobID)
}

// Key returns the Redis list this scheduler produces to and consumes from.
func (s *RedisScheduler) Key() string { return s.key }

// Len reports the number of tasks waiting in Redis.
func (s *RedisScheduler) Len(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.key).Result()
}

// Close stops consuming and cancels running tasks. Workers blocked in BRPOP
// return at most one poll timeout later.
func (s *RedisScheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("redis scheduler: workers still running: %w", ctx.Err())
	}
}
