// Package eventbus carries live-update events to in-process subscribers.
package eventbus

import (
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Event is implemented only by the variants declared in this package.
type Event interface {
	event()
}

type VouchersUpdated struct {
	Timestamp int64
}

func (VouchersUpdated) event() {}

type subscription struct {
	id      uint64
	handler func(Event)
}

type Bus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	nextId uint64
	subs   map[reflect.Type][]subscription
}

func New(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[reflect.Type][]subscription),
	}
}

// Subscribe registers handler for events of type E. The returned function
// removes the subscription and may be called more than once.
func Subscribe[E Event](bus *Bus, handler func(E)) func() {
	key := reflect.TypeOf((*E)(nil)).Elem()

	bus.mu.Lock()
	bus.nextId++
	id := bus.nextId
	bus.subs[key] = append(bus.subs[key], subscription{
		id: id,
		handler: func(e Event) {
			handler(e.(E))
		},
	})
	bus.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			bus.unsubscribe(key, id)
		})
	}
}

func (b *Bus) unsubscribe(key reflect.Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[key]
	for i, sub := range subs {
		if sub.id == id {
			b.subs[key] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}

	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
}

// Publish calls every subscriber of the event's type in subscription order.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := b.subs[reflect.TypeOf(e)]
	b.mu.RUnlock()

	for _, sub := range subs {
		b.dispatch(e, sub)
	}
}

func (b *Bus) dispatch(e Event, sub subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				zap.String("event", fmt.Sprintf("%T", e)),
				zap.Any("panic", r))
		}
	}()

	sub.handler(e)
}

func (b *Bus) Subscribers(e Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs[reflect.TypeOf(e)])
}
