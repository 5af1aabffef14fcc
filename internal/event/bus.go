package event

import (
	"fmt"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/Iron-Ham/concord/internal/logging"
	"github.com/google/uuid"
)

// Handler is a function that handles an event.
type Handler func(Event)

type subscription struct {
	id      string
	topic   string
	handler Handler
}

// Bus is a synchronous pub-sub event bus. The orchestrator publishes run
// progress on it; the CLI, HTTP server and context store subscribe.
//
// Handlers run on the publishing goroutine, in the order they were
// registered, with handlers for a concrete type ahead of wildcard ones.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *logging.Logger
}

// NewBus creates a new event bus. A nil logger discards handler panics.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Bus{logger: logger}
}

// Subscribe registers handler for events of type topic and returns an ID
// for Unsubscribe.
func (b *Bus) Subscribe(topic string, handler Handler) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, topic: topic, handler: handler})
	b.mu.Unlock()
	return id
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(Wildcard, handler)
}

// On subscribes a handler typed to one concrete event. Events of the same
// type string but a different Go type are ignored.
func On[T Event](b *Bus, topic string, fn func(T)) string {
	return b.Subscribe(topic, func(e Event) {
		if ev, ok := e.(T); ok {
			fn(ev)
		}
	})
}

// Unsubscribe removes a subscription by ID and reports whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.IndexFunc(b.subs, func(s subscription) bool { return s.id == id })
	if i < 0 {
		return false
	}
	b.subs = slices.Delete(b.subs, i, i+1)
	return true
}

// Publish delivers e to every matching handler. A handler that panics is
// logged and the remaining handlers still run.
func (b *Bus) Publish(e Event) {
	topic := e.EventType()

	b.mu.RLock()
	var direct, wild []Handler
	for _, s := range b.subs {
		switch s.topic {
		case topic:
			direct = append(direct, s.handler)
		case Wildcard:
			wild = append(wild, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range append(direct, wild...) {
		b.deliver(h, e)
	}
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", e.EventType(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	h(e)
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
