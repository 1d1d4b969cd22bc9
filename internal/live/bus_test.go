package live

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"roundkeeper/internal/model"
)

func TestBusFiltersByKind(t *testing.T) {
	bus := NewBus(nil)

	var ended, all int
	bus.Subscribe([]model.EventKind{model.KindRoundEnded}, func(model.DomainEvent) { ended++ })
	bus.Subscribe(nil, func(model.DomainEvent) { all++ })

	bus.Publish(model.DomainEvent{Kind: model.KindRoundEnded, RoundID: 1})
	bus.Publish(model.DomainEvent{Kind: model.KindStakeReceived, RoundID: 1})

	assert.Equal(t, 1, ended)
	assert.Equal(t, 2, all)
}

func TestBusUnsubscribeRemovesOnlyOwnListener(t *testing.T) {
	bus := NewBus(nil)

	var first, second int
	unsubFirst := bus.Subscribe(nil, func(model.DomainEvent) { first++ })
	bus.Subscribe(nil, func(model.DomainEvent) { second++ })
	assert.Equal(t, 2, bus.Len())

	unsubFirst()
	unsubFirst()
	assert.Equal(t, 1, bus.Len())

	bus.Publish(model.DomainEvent{Kind: model.KindRoundStarted})
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestBusRecoversFromPanickingListener(t *testing.T) {
	bus := NewBus(nil)

	var delivered int
	bus.Subscribe(nil, func(model.DomainEvent) { panic("boom") })
	bus.Subscribe(nil, func(model.DomainEvent) { delivered++ })

	assert.NotPanics(t, func() {
		bus.Publish(model.DomainEvent{Kind: model.KindRoundEnded})
	})
	assert.Equal(t, 1, delivered)
}
