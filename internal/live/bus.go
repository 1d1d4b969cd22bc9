package live

import (
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"roundkeeper/internal/model"
)

// Listener receives decoded events.
type Listener func(model.DomainEvent)

type subscription struct {
	kinds map[model.EventKind]struct{}
	fn    Listener
}

func (s subscription) wants(kind model.EventKind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// Bus fans decoded events out to listeners. Listeners are called from the
// publishing goroutine.
type Bus struct {
	listeners *xsync.Map[string, subscription]
	logger    *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		listeners: xsync.NewMap[string, subscription](),
		logger:    logger,
	}
}

// Subscribe registers fn for the given kinds, or every kind when none are
// given. The returned function removes exactly this listener and may be
// called any number of times.
func (b *Bus) Subscribe(kinds []model.EventKind, fn Listener) func() {
	sub := subscription{fn: fn}
	if len(kinds) > 0 {
		sub.kinds = make(map[model.EventKind]struct{}, len(kinds))
		for _, kind := range kinds {
			sub.kinds[kind] = struct{}{}
		}
	}

	id := uuid.NewString()
	b.listeners.Store(id, sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.listeners.Delete(id)
		})
	}
}

// Publish delivers ev to every interested listener. A panicking listener is
// logged and does not stop delivery to the others.
func (b *Bus) Publish(ev model.DomainEvent) {
	b.listeners.Range(func(id string, sub subscription) bool {
		if sub.wants(ev.Kind) {
			b.deliver(id, sub.fn, ev)
		}
		return true
	})
}

func (b *Bus) deliver(id string, fn Listener, ev model.DomainEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("listener panicked",
				zap.String("listener", id),
				zap.String("kind", string(ev.Kind)),
				zap.Any("panic", r),
			)
		}
	}()
	fn(ev)
}

// Len returns the number of registered listeners.
func (b *Bus) Len() int {
	return b.listeners.Size()
}
