package world

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler receives events published on a Bus.
type Handler func(ctx context.Context, ev Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a per-world publish/subscribe channel. Publish delivers to every
// current subscriber synchronously, in subscription order. A failing or
// panicking handler is logged and does not stop delivery to the others.
type Bus struct {
	worldID string
	logger  *zap.Logger

	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	closed bool
}

// NewBus creates an empty bus for worldID.
func NewBus(worldID string, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{worldID: worldID, logger: logger.With(zap.String("world", worldID))}
}

// Subscribe registers handler and returns a func that removes it. The
// returned func is safe to call more than once.
func (b *Bus) Subscribe(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to a snapshot of the current subscribers. Publishing on
// a closed bus is a no-op.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	snapshot := make([]subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.RUnlock()

	for _, s := range snapshot {
		if err := b.deliver(ctx, s, ev); err != nil {
			b.logger.Warn("bus handler failed",
				zap.Uint64("subscriber", s.id),
				zap.String("event", string(ev.Type)),
				zap.String("chat", ev.ChatID),
				zap.Error(err))
		}
	}
}

func (b *Bus) deliver(ctx context.Context, s subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(ctx, ev)
}

// Subscribers returns the number of registered handlers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops every subscriber. Safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
}
