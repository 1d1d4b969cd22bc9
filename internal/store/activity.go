package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"roundkeeper/internal/model"
	"roundkeeper/internal/storage"
)

const (
	// ActivityKey is the snapshot key of the activity feed.
	ActivityKey = "lsw-activity-feed"

	defaultActivityCapacity = 100
)

// ActivityConfig configures an ActivityFeed.
type ActivityConfig struct {
	Capacity int
	Key      string
}

// ActivityFeed is a rolling feed in arrival order, newest received first.
type ActivityFeed struct {
	mu       sync.Mutex
	capacity int
	items    []model.ActivityEvent
	seen     *keySet
	snap     *snapshot
	logger   *zap.Logger
}

// NewActivityFeed creates a feed persisted in kv. A nil kv keeps it in memory.
func NewActivityFeed(cfg ActivityConfig, kv storage.KV, logger *zap.Logger) *ActivityFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultActivityCapacity
	}
	if cfg.Key == "" {
		cfg.Key = ActivityKey
	}
	return &ActivityFeed{
		capacity: cfg.Capacity,
		seen:     newKeySet(cfg.Capacity * 4),
		snap:     newSnapshot(kv, cfg.Key, logger),
		logger:   logger,
	}
}

// Ingest prepends item unless its id was already seen.
func (f *ActivityFeed) Ingest(ctx context.Context, item model.ActivityEvent) Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	if item.ID == "" || f.seen.Has(item.ID) {
		return Duplicate
	}
	f.seen.Add(item.ID)

	f.items = append(f.items, model.ActivityEvent{})
	copy(f.items[1:], f.items)
	f.items[0] = item
	if len(f.items) > f.capacity {
		f.items = f.items[:f.capacity]
	}

	f.snap.save(ctx, f.items)
	return Inserted
}

// Load appends persisted items behind the ones received this session.
func (f *ActivityFeed) Load(ctx context.Context) int {
	var stored []model.ActivityEvent
	if !f.snap.load(ctx, &stored) {
		return 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	sessionItems := len(f.items)
	loaded := 0
	for _, item := range stored {
		if len(f.items) >= f.capacity {
			break
		}
		if item.ID == "" || f.seen.Has(item.ID) {
			continue
		}
		f.seen.Add(item.ID)
		f.items = append(f.items, item)
		loaded++
	}
	if sessionItems > 0 {
		f.snap.save(ctx, f.items)
	}
	return loaded
}

// Items returns a copy of the feed, newest first.
func (f *ActivityFeed) Items() []model.ActivityEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ActivityEvent{}, f.items...)
}

// Len returns the number of items in the feed.
func (f *ActivityFeed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Clear empties the feed and removes its snapshot.
func (f *ActivityFeed) Clear(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = nil
	f.seen.Reset()
	f.snap.remove(ctx)
}

// PersistErr returns the error that switched the feed to memory only.
func (f *ActivityFeed) PersistErr() error {
	return f.snap.Err()
}
