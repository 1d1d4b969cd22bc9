package store

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"roundkeeper/internal/model"
	"roundkeeper/internal/storage"
)

// snapshot writes one JSON value under a fixed key. Writes start once the
// stored value has been loaded, so a session never overwrites a snapshot it
// has not merged yet. After the first failure it warns once and stops
// touching the backend for the rest of the session.
type snapshot struct {
	kv     storage.KV
	key    string
	logger *zap.Logger

	mu       sync.Mutex
	loaded   bool
	disabled bool
	lastErr  error
}

func newSnapshot(kv storage.KV, key string, logger *zap.Logger) *snapshot {
	return &snapshot{kv: kv, key: key, logger: logger, disabled: kv == nil}
}

func (s *snapshot) fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	perr := &model.PersistenceError{Op: op, Key: s.key, Err: err}
	s.lastErr = perr
	if !s.disabled {
		s.logger.Warn("persistence unavailable, keeping data in memory", zap.Error(perr))
	}
	s.disabled = true
}

func (s *snapshot) enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled
}

// Err returns the failure that disabled persistence, if any.
func (s *snapshot) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// load decodes the stored value into out and reports whether one was found.
func (s *snapshot) load(ctx context.Context, out interface{}) bool {
	s.mu.Lock()
	s.loaded = true
	s.mu.Unlock()
	if !s.enabled() {
		return false
	}
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		s.fail("get", err)
		return false
	}
	if !ok || raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		s.logger.Warn("discarding unreadable snapshot", zap.String("key", s.key), zap.Error(err))
		return false
	}
	return true
}

func (s *snapshot) save(ctx context.Context, value interface{}) {
	s.mu.Lock()
	ready := s.loaded && !s.disabled
	s.mu.Unlock()
	if !ready {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		s.fail("marshal", err)
		return
	}
	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		s.fail("set", err)
	}
}

func (s *snapshot) remove(ctx context.Context) {
	if !s.enabled() {
		return
	}
	if err := s.kv.Remove(ctx, s.key); err != nil {
		s.fail("remove", err)
	}
}
