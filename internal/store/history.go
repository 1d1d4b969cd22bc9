package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"roundkeeper/internal/model"
	"roundkeeper/internal/round"
	"roundkeeper/internal/storage"
)

const (
	// HistoryKey is the snapshot key of the round history.
	HistoryKey = "lsw-round-history"

	defaultHistoryCapacity = 50
	seenKeysPerRound       = 8
)

// HistoryConfig configures a RoundHistory.
type HistoryConfig struct {
	Capacity  int
	Key       string
	Assembler round.Config
}

// RoundHistory is the deduplicated, capacity-bounded list of completed rounds,
// newest round first.
type RoundHistory struct {
	mu       sync.Mutex
	capacity int
	asm      *round.Assembler
	order    []uint64
	listed   map[uint64]struct{}
	seen     *keySet
	snap     *snapshot
	logger   *zap.Logger
}

// NewRoundHistory creates a history persisted in kv. A nil kv keeps it in memory.
func NewRoundHistory(cfg HistoryConfig, kv storage.KV, logger *zap.Logger) *RoundHistory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultHistoryCapacity
	}
	if cfg.Key == "" {
		cfg.Key = HistoryKey
	}
	return &RoundHistory{
		capacity: cfg.Capacity,
		asm:      round.NewAssembler(cfg.Assembler, logger),
		listed:   make(map[uint64]struct{}),
		seen:     newKeySet(cfg.Capacity * seenKeysPerRound),
		snap:     newSnapshot(kv, cfg.Key, logger),
		logger:   logger,
	}
}

// Ingest applies a round fragment. Re-delivery of an event with the same
// identity key returns Duplicate and changes nothing.
func (h *RoundHistory) Ingest(ctx context.Context, ev model.DomainEvent) (Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := ev.IdentityKey()
	if h.seen.Has(key) {
		return Duplicate, nil
	}

	asmOutcome, rec, err := h.asm.Apply(ev)
	if asmOutcome != round.Ignored {
		h.seen.Add(key)
	}
	if err != nil {
		return Rejected, err
	}

	switch asmOutcome {
	case round.Created:
		if !h.insert(rec.RoundID) {
			h.asm.Forget(rec.RoundID)
			h.logger.Debug("round older than history tail dropped", zap.Uint64("round_id", rec.RoundID))
			return Rejected, nil
		}
		h.persist(ctx)
		return Inserted, nil
	case round.Updated:
		if _, ok := h.listed[rec.RoundID]; !ok {
			return Duplicate, nil
		}
		h.persist(ctx)
		return Updated, nil
	case round.Buffered:
		return Buffered, nil
	case round.Unchanged:
		return Duplicate, nil
	case round.Stale:
		return Rejected, nil
	default:
		return Rejected, fmt.Errorf("event %s is not a round fragment", ev.Kind)
	}
}

// insert places roundID by descending id and trims the tail. It reports false
// when the round would fall off a full list.
func (h *RoundHistory) insert(roundID uint64) bool {
	pos := sort.Search(len(h.order), func(i int) bool { return h.order[i] < roundID })
	if pos >= h.capacity {
		return false
	}
	h.order = append(h.order, 0)
	copy(h.order[pos+1:], h.order[pos:])
	h.order[pos] = roundID
	h.listed[roundID] = struct{}{}

	for len(h.order) > h.capacity {
		tail := h.order[len(h.order)-1]
		h.order = h.order[:len(h.order)-1]
		delete(h.listed, tail)
		h.asm.Forget(tail)
	}
	return true
}

func (h *RoundHistory) roundsLocked() []model.CompletedRound {
	out := make([]model.CompletedRound, 0, len(h.order))
	for _, id := range h.order {
		if rec, ok := h.asm.Round(id); ok {
			out = append(out, rec)
		}
	}
	return out
}

func (h *RoundHistory) persist(ctx context.Context) {
	h.snap.save(ctx, h.roundsLocked())
}

// Load merges the persisted snapshot into the session. Rounds ingested before
// Load keep their data; the snapshot only fills missing fields.
func (h *RoundHistory) Load(ctx context.Context) int {
	var stored []model.CompletedRound
	if !h.snap.load(ctx, &stored) {
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sessionRounds := len(h.order)
	valid := make([]model.CompletedRound, 0, len(stored))
	for _, r := range stored {
		if !r.Valid() {
			h.logger.Debug("invalid round in snapshot skipped", zap.Uint64("round_id", r.RoundID))
			continue
		}
		valid = append(valid, r)
	}
	h.asm.Restore(valid)

	loaded := 0
	for _, r := range valid {
		if _, ok := h.listed[r.RoundID]; ok {
			continue
		}
		if h.insert(r.RoundID) {
			loaded++
		} else {
			h.asm.Forget(r.RoundID)
		}
	}
	if sessionRounds > 0 {
		h.persist(ctx)
	}
	h.logger.Info("round history loaded", zap.Int("stored", len(stored)), zap.Int("loaded", loaded))
	return loaded
}

// Clear removes every round and the persisted snapshot.
func (h *RoundHistory) Clear(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.asm.Reset()
	h.order = nil
	h.listed = make(map[uint64]struct{})
	h.seen.Reset()
	h.snap.remove(ctx)
}

// Rounds returns copies of the listed rounds, newest first.
func (h *RoundHistory) Rounds() []model.CompletedRound {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roundsLocked()
}

// Get returns a copy of one listed round.
func (h *RoundHistory) Get(roundID uint64) (model.CompletedRound, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.listed[roundID]; !ok {
		return model.CompletedRound{}, false
	}
	return h.asm.Round(roundID)
}

// Has reports whether roundID is listed.
func (h *RoundHistory) Has(roundID uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.listed[roundID]
	return ok
}

// Len returns the number of listed rounds.
func (h *RoundHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}

// State returns the settlement state of roundID.
func (h *RoundHistory) State(roundID uint64) round.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.asm.State(roundID)
}

// PersistErr returns the error that switched the history to memory only.
func (h *RoundHistory) PersistErr() error {
	return h.snap.Err()
}
