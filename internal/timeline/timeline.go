package timeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"roundkeeper/internal/game"
	"roundkeeper/internal/live"
	"roundkeeper/internal/model"
	"roundkeeper/internal/store"
)

// ErrClosed is returned for deliveries that arrive after Close.
var ErrClosed = errors.New("timeline closed")

// Timeline routes decoded events into the round history and the activity
// feed for one session.
type Timeline struct {
	decoder *game.Decoder
	history *store.RoundHistory
	feed    *store.ActivityFeed
	logger  *zap.Logger

	closed atomic.Bool
	mu     sync.Mutex
	unsubs []func()
}

func New(decoder *game.Decoder, history *store.RoundHistory, feed *store.ActivityFeed, logger *zap.Logger) *Timeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timeline{
		decoder: decoder,
		history: history,
		feed:    feed,
		logger:  logger,
	}
}

func (t *Timeline) History() *store.RoundHistory { return t.history }

func (t *Timeline) Feed() *store.ActivityFeed { return t.feed }

// Load restores both stores from their snapshots.
func (t *Timeline) Load(ctx context.Context) (rounds, items int) {
	rounds = t.history.Load(ctx)
	items = t.feed.Load(ctx)
	t.logger.Info("timeline loaded", zap.Int("rounds", rounds), zap.Int("activity", items))
	return rounds, items
}

// HandleRaw decodes raw and ingests the event. Removed logs and untracked
// signatures are skipped without error.
func (t *Timeline) HandleRaw(ctx context.Context, raw model.RawLogEntry) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if raw.Removed {
		return nil
	}
	ev, err := t.decoder.Decode(raw)
	if err != nil {
		if errors.Is(err, model.ErrUnknownEvent) {
			t.logger.Debug("skipping untracked event", zap.String("topic0", raw.Topic0()))
			return nil
		}
		t.logger.Warn("skipping undecodable log", zap.String("origin", string(raw.Origin)), zap.Error(err))
		return err
	}
	_, err = t.Ingest(ctx, ev)
	return err
}

// Preload ingests a batch of raw entries oldest first so the feed ends up
// newest first. It returns the number of entries decoded.
func (t *Timeline) Preload(ctx context.Context, entries []model.RawLogEntry) int {
	sorted := append([]model.RawLogEntry{}, entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].BlockNumber != sorted[j].BlockNumber {
			return sorted[i].BlockNumber < sorted[j].BlockNumber
		}
		return sorted[i].LogIndex < sorted[j].LogIndex
	})

	handled := 0
	for _, raw := range sorted {
		if ctx.Err() != nil {
			break
		}
		if !t.decoder.CanDecode(raw.Topic0()) {
			continue
		}
		if err := t.HandleRaw(ctx, raw); err != nil {
			if errors.Is(err, ErrClosed) {
				break
			}
			continue
		}
		handled++
	}
	return handled
}

// Ingest routes ev to the activity feed and, for round fragments, to the
// round history. Rounds read back from the data stream only reach the history.
func (t *Timeline) Ingest(ctx context.Context, ev model.DomainEvent) (store.Outcome, error) {
	if t.closed.Load() {
		return store.Rejected, ErrClosed
	}

	if ev.Origin != model.OriginExternalStream {
		if item, ok := model.ActivityFromEvent(ev); ok {
			t.feed.Ingest(ctx, item)
		}
	}

	switch ev.Kind {
	case model.KindRoundEnded, model.KindWinnerRewardDistributed,
		model.KindRandomWinnersDistributed, model.KindRandomnessRequested:
	default:
		return store.Duplicate, nil
	}

	outcome, err := t.history.Ingest(ctx, ev)
	if err != nil {
		t.logger.Warn("round fragment rejected",
			zap.Uint64("round_id", ev.RoundID),
			zap.String("kind", string(ev.Kind)),
			zap.String("origin", string(ev.Origin)),
			zap.Error(err),
		)
		return outcome, err
	}
	if outcome == store.Inserted || outcome == store.Updated {
		t.logger.Info("round history changed",
			zap.Uint64("round_id", ev.RoundID),
			zap.String("kind", string(ev.Kind)),
			zap.String("outcome", outcome.String()),
		)
	}
	return outcome, nil
}

// Attach subscribes the timeline to every event on bus until Close.
func (t *Timeline) Attach(bus *live.Bus) {
	unsub := bus.Subscribe(nil, func(ev model.DomainEvent) {
		_, _ = t.Ingest(context.Background(), ev)
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		unsub()
		return
	}
	t.unsubs = append(t.unsubs, unsub)
}

// Close detaches from every bus. Deliveries already in flight are dropped.
func (t *Timeline) Close() {
	t.closed.Store(true)

	t.mu.Lock()
	unsubs := t.unsubs
	t.unsubs = nil
	t.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}
