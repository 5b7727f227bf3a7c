package world

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus("w", nil)
	var got []string
	bus.Subscribe(func(_ context.Context, ev Event) error {
		got = append(got, "first:"+ev.ChatID)
		return nil
	})
	bus.Subscribe(func(_ context.Context, ev Event) error {
		got = append(got, "second:"+ev.ChatID)
		return nil
	})

	bus.Publish(context.Background(), Event{Type: EventSystem, ChatID: "c1"})
	assert.Equal(t, []string{"first:c1", "second:c1"}, got)
}

func TestBusUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus("w", nil)
	calls := 0
	unsub := bus.Subscribe(func(context.Context, Event) error {
		calls++
		return nil
	})
	other := bus.Subscribe(func(context.Context, Event) error { return nil })
	require.Equal(t, 2, bus.Subscribers())

	unsub()
	unsub()
	assert.Equal(t, 1, bus.Subscribers())

	bus.Publish(context.Background(), Event{Type: EventSystem})
	assert.Equal(t, 0, calls)
	other()
	assert.Equal(t, 0, bus.Subscribers())
}

func TestBusIsolatesFailingHandlers(t *testing.T) {
	bus := NewBus("w", nil)
	reached := 0
	bus.Subscribe(func(context.Context, Event) error { panic("boom") })
	bus.Subscribe(func(context.Context, Event) error { return errors.New("failed") })
	bus.Subscribe(func(context.Context, Event) error {
		reached++
		return nil
	})

	require.NotPanics(t, func() {
		bus.Publish(context.Background(), Event{Type: EventMessage})
	})
	assert.Equal(t, 1, reached)
}

func TestBusFillsTimestamp(t *testing.T) {
	bus := NewBus("w", nil)
	var got Event
	bus.Subscribe(func(_ context.Context, ev Event) error {
		got = ev
		return nil
	})
	bus.Publish(context.Background(), Event{Type: EventSystem})
	assert.False(t, got.Timestamp.IsZero())
}

func TestBusClosed(t *testing.T) {
	bus := NewBus("w", nil)
	calls := 0
	bus.Subscribe(func(context.Context, Event) error {
		calls++
		return nil
	})
	bus.Close()
	bus.Close()

	bus.Publish(context.Background(), Event{Type: EventSystem})
	unsub := bus.Subscribe(func(context.Context, Event) error {
		calls++
		return nil
	})
	unsub()
	bus.Publish(context.Background(), Event{Type: EventSystem})
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, bus.Subscribers())
}

func TestBusInstancesAreIsolated(t *testing.T) {
	a := NewBus("a", nil)
	b := NewBus("b", nil)
	var fromA, fromB int
	a.Subscribe(func(context.Context, Event) error { fromA++; return nil })
	b.Subscribe(func(context.Context, Event) error { fromB++; return nil })

	a.Publish(context.Background(), Event{Type: EventSystem})
	assert.Equal(t, 1, fromA)
	assert.Equal(t, 0, fromB)
}
