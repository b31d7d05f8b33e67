package runtimeconfig

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "runtime_config:"

// Store persists live-reconfigurable settings (threshold, notional, TIF
// policy, dry-run) in Redis so a control-surface change survives a process
// restart, with an in-memory cache so repeat reads of a key skip Redis.
type Store struct {
	rdb *redis.Client

	mu    sync.RWMutex
	cache map[string]string
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, cache: make(map[string]string)}
}

func (s *Store) GetFloat(ctx context.Context, key string, def float64) float64 {
	v, ok := s.get(ctx, key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func (s *Store) SetFloat(ctx context.Context, key string, v float64) error {
	return s.set(ctx, key, strconv.FormatFloat(v, 'f', -1, 64))
}

func (s *Store) GetBool(ctx context.Context, key string, def bool) bool {
	v, ok := s.get(ctx, key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (s *Store) SetBool(ctx context.Context, key string, v bool) error {
	return s.set(ctx, key, strconv.FormatBool(v))
}

func (s *Store) GetString(ctx context.Context, key, def string) string {
	v, ok := s.get(ctx, key)
	if !ok {
		return def
	}
	return v
}

func (s *Store) SetString(ctx context.Context, key, v string) error {
	return s.set(ctx, key, v)
}

func (s *Store) get(ctx context.Context, key string) (string, bool) {
	s.mu.RLock()
	if v, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return v, true
	}
	s.mu.RUnlock()

	v, err := s.rdb.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		return "", false
	}
	s.mu.Lock()
	s.cache[key] = v
	s.mu.Unlock()
	return v, true
}

func (s *Store) set(ctx context.Context, key, v string) error {
	if err := s.rdb.Set(ctx, keyPrefix+key, v, 0).Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache[key] = v
	s.mu.Unlock()
	return nil
}

// GetAll returns every currently persisted runtime setting, for the control
// surface's "config" command.
func (s *Store) GetAll(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		v, err := s.rdb.Get(ctx, full).Result()
		if err != nil {
			continue
		}
		out[full[len(keyPrefix):]] = v
	}
	return out, iter.Err()
}

// ResetAll clears every persisted override, restoring config-file defaults
// on next read.
func (s *Store) ResetAll(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
	return iter.Err()
}

// Ping verifies connectivity at startup, the same way the composition root
// verifies every other external dependency before serving traffic.
func (s *Store) Ping(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.rdb.Ping(cctx).Err()
}
